package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/internal/notify"
	"scalper/pkg/retry"
	"scalper/pkg/utils"
)

// ============================================================
// PositionBook
// ============================================================

// PositionBook - таблица открытых позиций всего процесса
//
// Наружу отдаются только копии. closing - защита от двойного закрытия:
// пока закрытие позиции в процессе, второй TryBeginClose вернёт false.
type PositionBook struct {
	positions map[string]*models.Position
	closing   map[string]struct{}
	exit      ExitConfig
	mu        sync.RWMutex
}

// NewPositionBook создаёт пустую таблицу
func NewPositionBook(exit ExitConfig) *PositionBook {
	return &PositionBook{
		positions: make(map[string]*models.Position),
		closing:   make(map[string]struct{}),
		exit:      exit,
	}
}

// Open регистрирует позицию: присваивает id, время и уровни выхода
// Пустые экстремумы заполняются ценой входа
func (b *PositionBook) Open(p models.Position) models.Position {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	if p.HighSinceEntry <= 0 {
		p.HighSinceEntry = p.EntryPrice
	}
	if p.LowSinceEntry <= 0 {
		p.LowSinceEntry = p.EntryPrice
	}
	applyExitLevels(&p, b.exit)

	b.mu.Lock()
	stored := p
	b.positions[p.ID] = &stored
	n := len(b.positions)
	b.mu.Unlock()

	OpenPositionsGauge.Set(float64(n))
	return p
}

// Get возвращает копию позиции
func (b *PositionBook) Get(id string) (models.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// IDs возвращает снимок id
func (b *PositionBook) IDs() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.positions))
	for id := range b.positions {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// UpdateWatermarks обновляет экстремумы цены и уровень трейлинга
func (b *PositionBook) UpdateWatermarks(id string, price float64) (models.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[id]
	if !ok {
		return models.Position{}, false
	}
	if price > 0 {
		if price > p.HighSinceEntry {
			p.HighSinceEntry = price
		}
		if p.LowSinceEntry <= 0 || price < p.LowSinceEntry {
			p.LowSinceEntry = price
		}
		applyExitLevels(p, b.exit)
	}
	return *p, true
}

// Remove удаляет позицию
func (b *PositionBook) Remove(id string) bool {
	b.mu.Lock()
	_, ok := b.positions[id]
	delete(b.positions, id)
	n := len(b.positions)
	b.mu.Unlock()

	OpenPositionsGauge.Set(float64(n))
	return ok
}

// Count возвращает количество позиций
func (b *PositionBook) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Snapshot возвращает копии всех позиций, от старых к новым
func (b *PositionBook) Snapshot() []models.Position {
	b.mu.RLock()
	out := make([]models.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// TryBeginClose помечает позицию как закрываемую
func (b *PositionBook) TryBeginClose(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[id]; !ok {
		return false
	}
	if _, busy := b.closing[id]; busy {
		return false
	}
	b.closing[id] = struct{}{}
	return true
}

// EndClose снимает пометку закрытия
func (b *PositionBook) EndClose(id string) {
	b.mu.Lock()
	delete(b.closing, id)
	b.mu.Unlock()
}

// ============================================================
// PositionMonitor
// ============================================================

// MonitorConfig - параметры монитора позиций
type MonitorConfig struct {
	Interval          time.Duration // период проверки (100ms)
	RequestTimeout    time.Duration
	CloseSettleDelay  time.Duration // пауза перед оценкой цены исполнения
	StatusLogInterval time.Duration
	StaleAfter        time.Duration // снимок хранилища старше запрашивается с биржи
	Exit              ExitConfig
}

// DefaultMonitorConfig возвращает параметры по умолчанию
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:          100 * time.Millisecond,
		RequestTimeout:    5 * time.Second,
		CloseSettleDelay:  500 * time.Millisecond,
		StatusLogInterval: 5 * time.Second,
		StaleAfter:        2 * time.Second,
		Exit:              DefaultExitConfig(),
	}
}

// PositionMonitor - непрерывная проверка условий выхода
//
// Функции:
// - Цена из MarketStore, при отсутствии - запрос к бирже
// - Обновление экстремумов и уровня трейлинга
// - Закрытие рыночным ордером через OrderGateway
// - Учёт PnL закрытия в риске и экспозиции
//
// Неудачное закрытие оставляет позицию до следующего тика.
type PositionMonitor struct {
	book     *PositionBook
	store    *MarketStore
	gateways map[string]*OrderGateway
	risk     *RiskManager
	exposure *ExposureRegistry
	notifier notify.Notifier
	cfg      MonitorConfig
	log      *utils.Logger

	lastStatusLog time.Time
	closedCount   int64
	now           func() time.Time
}

// NewPositionMonitor создаёт монитор
func NewPositionMonitor(
	book *PositionBook,
	store *MarketStore,
	gateways map[string]*OrderGateway,
	risk *RiskManager,
	exposure *ExposureRegistry,
	notifier notify.Notifier,
	cfg MonitorConfig,
	log *utils.Logger,
) *PositionMonitor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = utils.L()
	}
	return &PositionMonitor{
		book:     book,
		store:    store,
		gateways: gateways,
		risk:     risk,
		exposure: exposure,
		notifier: notifier,
		cfg:      cfg,
		log:      log.WithComponent("position_monitor"),
		now:      time.Now,
	}
}

// Run проверяет позиции каждые Interval до отмены ctx
func (m *PositionMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick - одна проверка всех позиций
func (m *PositionMonitor) Tick(ctx context.Context) {
	ids := m.book.IDs()
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		m.checkPosition(ctx, id)
	}

	now := m.now()
	if m.cfg.StatusLogInterval > 0 && now.Sub(m.lastStatusLog) >= m.cfg.StatusLogInterval {
		m.lastStatusLog = now
		if len(ids) > 0 {
			m.log.Info("monitoring positions",
				utils.Int("open", len(ids)), utils.Int64("closed_total", atomic.LoadInt64(&m.closedCount)))
		}
	}
}

// ClosedCount - количество закрытых монитором позиций
func (m *PositionMonitor) ClosedCount() int64 {
	return atomic.LoadInt64(&m.closedCount)
}

func (m *PositionMonitor) checkPosition(ctx context.Context, id string) {
	pos, ok := m.book.Get(id)
	if !ok {
		return
	}

	md, err := m.marketData(ctx, pos.Exchange, pos.Symbol)
	if err != nil {
		m.log.Debug("no market data for position",
			utils.PositionID(id), utils.Exchange(pos.Exchange), utils.Symbol(pos.Symbol), utils.Err(err))
		return
	}

	price := closePrice(&pos, md)
	if price <= 0 {
		return
	}

	pos, ok = m.book.UpdateWatermarks(id, price)
	if !ok {
		return
	}

	reason, exit := EvaluateExit(&pos, price, m.now(), m.cfg.Exit)
	if !exit {
		return
	}

	if err := m.Close(ctx, id, reason); err != nil && !errors.Is(err, ErrCloseInFlight) {
		m.log.Warn("position close failed, will retry",
			utils.PositionID(id), utils.Symbol(pos.Symbol), utils.Reason(string(reason)), utils.Err(err))
	}
}

// closePrice - цена, по которой позиция закроется рыночным ордером
func closePrice(p *models.Position, md *exchange.MarketData) float64 {
	if p.IsLong() {
		return md.Bid
	}
	return md.Ask
}

// marketData берёт свежий снимок из хранилища или запрашивает биржу
func (m *PositionMonitor) marketData(ctx context.Context, exchangeName, symbol string) (*exchange.MarketData, error) {
	if m.store != nil && m.fresh(exchangeName, symbol) {
		if md, ok := m.store.Get(exchangeName, symbol); ok && md.Valid() {
			return md, nil
		}
	}
	return m.fetchMarketData(ctx, exchangeName, symbol)
}

func (m *PositionMonitor) fresh(exchangeName, symbol string) bool {
	age, ok := m.store.Age(exchangeName, symbol)
	return ok && (m.cfg.StaleAfter <= 0 || age < m.cfg.StaleAfter)
}

func (m *PositionMonitor) fetchMarketData(ctx context.Context, exchangeName, symbol string) (*exchange.MarketData, error) {
	gw, ok := m.gateways[exchangeName]
	if !ok {
		return nil, fmt.Errorf("no gateway for %s", exchangeName)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	md, err := gw.Exchange().GetMarketData(reqCtx, symbol)
	if err != nil {
		return nil, err
	}
	if m.store != nil {
		m.store.Update(exchangeName, md)
	}
	return md, nil
}

// closeRetryConfig - быстрые повторы, критические ошибки не повторяются
func closeRetryConfig() retry.Config {
	cfg := retry.CloseConfig()
	cfg.RetryIf = func(err error) bool {
		var perm *retry.PermanentError
		if errors.As(err, &perm) {
			return false
		}
		return !errors.Is(err, context.Canceled)
	}
	return cfg
}

// Close закрывает позицию рыночным ордером
//
//  1. защита от повторного закрытия
//  2. рыночный ордер в обратную сторону (с повторами)
//  3. пауза CloseSettleDelay
//  4. цена исполнения по свежей книге, иначе цена до сделки
//  5. PnL = delta × size − size × fill × taker fee
//  6. учёт сделки в риске и экспозиции, удаление позиции
func (m *PositionMonitor) Close(ctx context.Context, id string, reason ExitReason) error {
	if !m.book.TryBeginClose(id) {
		return ErrCloseInFlight
	}
	defer m.book.EndClose(id)

	pos, ok := m.book.Get(id)
	if !ok {
		return nil
	}
	gw, ok := m.gateways[pos.Exchange]
	if !ok {
		return fmt.Errorf("no gateway for %s", pos.Exchange)
	}

	preTrade := 0.0
	if md, err := m.marketData(ctx, pos.Exchange, pos.Symbol); err == nil {
		preTrade = closePrice(&pos, md)
	}

	side := pos.CloseSide()
	orderID, err := retry.DoWithResult(ctx, func() (string, error) {
		oid, err := gw.PlaceMarket(ctx, pos.Symbol, side, pos.Size)
		if err != nil && exchange.IsCritical(err) {
			return "", retry.Permanent(err)
		}
		return oid, err
	}, closeRetryConfig())
	if err != nil {
		return fmt.Errorf("close %s %s: %w", pos.Symbol, pos.Side, err)
	}

	if m.cfg.CloseSettleDelay > 0 {
		timer := time.NewTimer(m.cfg.CloseSettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	fill := preTrade
	if md, err := m.fetchMarketData(context.WithoutCancel(ctx), pos.Exchange, pos.Symbol); err == nil {
		if p := closePrice(&pos, md); p > 0 {
			fill = p
		}
	}
	if fill <= 0 {
		fill = pos.EntryPrice
	}

	pnl := ClosePnL(&pos, fill)
	tradeSide := models.TradeCloseSell
	if pos.IsLong() {
		tradeSide = models.TradeCloseBuy
	}

	m.risk.RecordTrade(models.Trade{
		Timestamp: m.now(),
		Exchange:  pos.Exchange,
		Symbol:    pos.Symbol,
		Side:      tradeSide,
		Price:     fill,
		Size:      pos.Size,
		PnL:       pnl,
		Reason:    string(reason),
	})
	m.exposure.Record(models.PairKey(pos.Exchange, pos.Symbol), tradeSide, pos.Notional())

	if m.book.Remove(id) {
		m.risk.DecPositions()
	}
	atomic.AddInt64(&m.closedCount, 1)
	PositionsClosed.WithLabelValues(string(reason)).Inc()

	m.log.Info("position closed",
		utils.PositionID(id), utils.Exchange(pos.Exchange), utils.Symbol(pos.Symbol),
		utils.Side(string(pos.Side)), utils.Reason(string(reason)), utils.OrderID(orderID),
		utils.Price(fill), utils.Volume(pos.Size), utils.PNL(pnl),
		utils.Duration("age", pos.Age(m.now())))
	m.notifier.Send(fmt.Sprintf("✅ Closed %s %s %s on %s: %s, entry %.6f exit %.6f, PnL %.4f USDT",
		pos.Side, utils.FormatByStep(pos.Size, 0.000001), pos.Symbol, pos.Exchange, reason, pos.EntryPrice, fill, pnl))
	return nil
}

// CloseAll закрывает все позиции (ручная команда), возвращает первую ошибку
func (m *PositionMonitor) CloseAll(ctx context.Context, reason ExitReason) error {
	var firstErr error
	for _, id := range m.book.IDs() {
		if err := m.Close(ctx, id, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
