package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"scalper/internal/config"
	"scalper/internal/exchange"
	"scalper/internal/indicator"
	"scalper/internal/models"
	"scalper/internal/notify"
	"scalper/pkg/utils"
)

// Пороги воркера
const (
	defaultVolatility      = 0.01  // волатильность при коротком ряде
	volatilityMinSamples   = 10
	strongTrendThreshold   = 0.02  // |trend| выше - цикл пропускается
	sideTrendThreshold     = 0.015 // BUY при trend > −x, SELL при trend < x
	rollingPnLWindow       = 10
	riskModeWindows        = 3 // подряд отрицательных окон PnL
	invalidMarketThreshold = 3

	refreshPriceDiff = 0.0001 // относительная разница цены для перевыставления
	refreshSizeDiff  = 0.05
)

// Причины пропуска цикла
const (
	SkipDailyStop      = "daily_stop"
	SkipCanceled       = "canceled"
	SkipPairDisabled   = "pair_disabled"
	SkipMarketData     = "market_data"
	SkipInvalidMarket  = "invalid_market"
	SkipLowVolume      = "low_volume"
	SkipHighVolatility = "high_volatility"
	SkipWideMarket     = "wide_market"
	SkipNarrowSpread   = "narrow_spread"
	SkipMinSize        = "min_size"
	SkipCrossedPrices  = "crossed_prices"
	SkipStrongTrend    = "strong_trend"
)

// CycleResult - итог одной итерации воркера
type CycleResult struct {
	Stop       bool   // дневной стоп или отмена контекста
	SkipReason string // пусто, если цикл дошёл до выставления ордеров
	Placed     int
	Canceled   int
	Fills      int
	Spread     SpreadResult
}

// WorkerDeps - общее состояние процесса, передаваемое воркеру
type WorkerDeps struct {
	Gateway    *OrderGateway
	Feed       *MarketFeed
	PairStatus *PairStatusManager
	Symbols    *SymbolManager
	Risk       *RiskManager
	Exposure   *ExposureRegistry
	Positions  *PositionBook
	Notifier   notify.Notifier
}

// GridWorker - цикл котирования одной пары
//
// Держит не больше одного лимитного ордера на сторону. Ошибки любого шага
// логируются и пропускают цикл, воркер завершается только по дневному
// стопу или отмене контекста.
type GridWorker struct {
	pair   PairRef
	key    string
	deps   WorkerDeps
	cfg    config.TradingConfig
	spread *SpreadCalculator
	hist   *SpreadHistory
	log    *utils.Logger

	state atomic.Value // models.WorkerState

	// недавно выставленные котировки: сторона -> запись
	recent   map[models.Side]models.OrderRecord
	recentMu sync.Mutex

	invalidStreak  int
	negativeWindow int
	cycles         int64
	now            func() time.Time
}

// NewGridWorker создаёт воркер пары
func NewGridWorker(pair PairRef, deps WorkerDeps, cfg config.TradingConfig, log *utils.Logger) *GridWorker {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if log == nil {
		log = utils.L()
	}
	w := &GridWorker{
		pair:   pair,
		key:    pair.Key(),
		deps:   deps,
		cfg:    cfg,
		spread: NewSpreadCalculator(cfg.MinSpread),
		hist:   NewSpreadHistory(SpreadHistorySize),
		log:    log.WithComponent("grid_worker").WithExchange(pair.Exchange).WithSymbol(pair.Symbol),
		recent: make(map[models.Side]models.OrderRecord),
		now:    time.Now,
	}
	w.state.Store(models.WorkerIdle)
	deps.PairStatus.Track(w.key)
	return w
}

// Pair возвращает пару воркера
func (w *GridWorker) Pair() PairRef {
	return w.pair
}

// State возвращает текущее состояние
func (w *GridWorker) State() models.WorkerState {
	return w.state.Load().(models.WorkerState)
}

// Cycles - количество выполненных итераций
func (w *GridWorker) Cycles() int64 {
	return atomic.LoadInt64(&w.cycles)
}

func (w *GridWorker) transition(to models.WorkerState) {
	from := w.State()
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		w.log.Warn("invalid worker transition", utils.String("from", string(from)), utils.State(string(to)))
	}
	w.state.Store(to)
}

// Run выполняет циклы до дневного стопа или отмены ctx
func (w *GridWorker) Run(ctx context.Context) {
	w.log.Info("grid worker started")
	defer w.log.Info("grid worker stopped", utils.Int64("cycles", w.Cycles()))

	for {
		res := w.RunCycle(ctx)
		if res.Stop {
			w.transition(models.WorkerStopped)
			return
		}

		interval := w.cfg.WorkerInterval
		if interval <= 0 {
			interval = 500 * time.Millisecond
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.transition(models.WorkerStopped)
			return
		case <-timer.C:
		}
	}
}

// RunCycle выполняет одну итерацию
func (w *GridWorker) RunCycle(ctx context.Context) (res CycleResult) {
	start := time.Now()
	atomic.AddInt64(&w.cycles, 1)
	defer func() {
		CycleDuration.WithLabelValues(w.pair.Exchange).Observe(time.Since(start).Seconds())
		if res.SkipReason != "" && res.SkipReason != SkipDailyStop {
			w.log.Debug("cycle skipped", utils.Reason(res.SkipReason))
		}
	}()

	if w.State() == models.WorkerSleep || w.State() == models.WorkerStopped {
		w.state.Store(models.WorkerIdle)
	}

	// 1. дневной стоп: исполнения до стопа становятся позициями
	if w.deps.Risk.DailyStopBreached() {
		fills := w.reconcile(ctx)
		w.transition(models.WorkerStopped)
		return CycleResult{Stop: true, SkipReason: SkipDailyStop, Fills: fills}
	}

	// 2. общий слот биржи
	if err := w.deps.Gateway.Limiter().Wait(ctx); err != nil {
		return CycleResult{Stop: true, SkipReason: SkipCanceled}
	}

	// 3. пара включена
	w.transition(models.WorkerCheckPairEnabled)
	if !w.deps.PairStatus.IsEnabled(w.key) {
		w.transition(models.WorkerSleep)
		return CycleResult{SkipReason: SkipPairDisabled}
	}

	res = w.quote(ctx)

	// 12. исполнения проверяются и в пропущенных циклах
	w.transition(models.WorkerReconcileFills)
	res.Fills += w.reconcile(ctx)

	w.transition(models.WorkerSleep)
	return res
}

// quote - шаги 4-11: рынок, спред, размер, ордера
func (w *GridWorker) quote(ctx context.Context) CycleResult {
	// 4. снимок рынка
	w.transition(models.WorkerReadMarket)
	md, err := w.deps.Feed.Latest(ctx, w.pair.Exchange, w.pair.Symbol)
	if err != nil {
		w.log.Debug("market data unavailable", utils.Err(err))
		return CycleResult{SkipReason: SkipMarketData}
	}
	if !md.Valid() {
		w.invalidStreak++
		w.log.Warn("invalid market snapshot",
			utils.Float64("bid", md.Bid), utils.Float64("ask", md.Ask), utils.Float64("last", md.Last),
			utils.Int("streak", w.invalidStreak))
		if w.invalidStreak >= invalidMarketThreshold {
			w.invalidStreak = 0
			w.deps.PairStatus.RecordError(w.key,
				exchange.NewError(w.pair.Exchange, exchange.KindMarketData, "", "repeated invalid market snapshots"))
		}
		return CycleResult{SkipReason: SkipInvalidMarket}
	}
	w.invalidStreak = 0

	if w.cfg.MinVolume > 0 && md.Volume > 0 && md.Volume < w.cfg.MinVolume {
		return CycleResult{SkipReason: SkipLowVolume}
	}

	// 5-6. волатильность, тренд, спред
	w.transition(models.WorkerComputeSpread)
	history := w.deps.Feed.Store().History(w.pair.Exchange, w.pair.Symbol)

	vol := defaultVolatility
	if len(history) >= volatilityMinSamples {
		vol = indicator.Volatility(history)
		if w.cfg.MaxVolatility > 0 && vol > w.cfg.MaxVolatility {
			w.log.Info("volatility above limit",
				utils.Float64("volatility", vol), utils.Float64("max", w.cfg.MaxVolatility))
			return CycleResult{SkipReason: SkipHighVolatility}
		}
	}
	vol = utils.Max(vol, w.cfg.MinVolatility)
	trend := indicator.TrendStrength(history)

	rolling := w.deps.Risk.RollingPnL(rollingPnLWindow)
	if rolling < 0 {
		w.negativeWindow++
	} else {
		w.negativeWindow = 0
	}
	riskMode := w.negativeWindow >= riskModeWindows || w.deps.Risk.RiskMode() ||
		(w.cfg.HighVolatilityThreshold > 0 && vol > w.cfg.HighVolatilityThreshold)

	sr := w.spread.Calculate(SpreadInput{
		Symbol:        w.pair.Symbol,
		Volatility:    vol,
		TrendStrength: trend,
		RollingPnL:    rolling,
		RiskMode:      riskMode,
		PrevAvgSpread: w.hist.Average(),
	})
	w.hist.Add(sr.Spread)

	// 7. рыночный спред
	marketSpread := md.Spread()
	RecordSpread(w.key, sr.Required, marketSpread)
	res := CycleResult{Spread: sr}

	if w.cfg.MaxSpread > 0 && marketSpread > w.cfg.MaxSpread {
		res.SkipReason = SkipWideMarket
		return res
	}
	if marketSpread < sr.Required {
		res.SkipReason = SkipNarrowSpread
		return res
	}

	// 8. размер
	w.transition(models.WorkerSizeOrder)
	mid := md.Mid()
	info := w.deps.Symbols.GetOrLoad(ctx, w.pair.Exchange, w.pair.Symbol)

	notional := utils.Clamp(w.deps.Risk.Balance()*w.cfg.RiskPerTrade, w.cfg.MinOrderUSDT, w.cfg.MaxOrderUSDT)
	size := utils.RoundToStep(notional/mid, info.StepSize)
	if size <= 0 || size < info.MinQty || size*mid < info.MinNotional {
		w.log.Info("order size below exchange minimum",
			utils.Volume(size), utils.Float64("min_qty", info.MinQty), utils.Float64("min_notional", info.MinNotional))
		res.SkipReason = SkipMinSize
		return res
	}

	// 9. цены
	buy, sell := QuotePrices(mid, sr.Spread, info.TickSize)
	if buy <= 0 || sell <= 0 || buy >= md.Ask || sell <= md.Bid {
		w.log.Info("quote prices cross the book",
			utils.Float64("buy", buy), utils.Float64("sell", sell),
			utils.Float64("bid", md.Bid), utils.Float64("ask", md.Ask))
		res.SkipReason = SkipCrossedPrices
		return res
	}

	// 10. сильный тренд
	if utils.Abs(trend) > strongTrendThreshold {
		w.log.Info("strong trend, not quoting", utils.Float64("trend", trend))
		res.SkipReason = SkipStrongTrend
		return res
	}

	// 11. ордера
	w.transition(models.WorkerPlaceOrders)
	w.dropStaleQuotes()

	for _, q := range []struct {
		side  models.Side
		price float64
	}{{models.SideBuy, buy}, {models.SideSell, sell}} {
		placed, canceled, fills := w.ensureOrder(ctx, q.side, q.price, size, trend)
		res.Placed += placed
		res.Canceled += canceled
		res.Fills += fills
	}
	return res
}

// dropStaleQuotes забывает котировки старше StaleOrderAge
func (w *GridWorker) dropStaleQuotes() {
	now := w.now()
	w.recentMu.Lock()
	for side, rec := range w.recent {
		if rec.Age(now) >= w.cfg.StaleOrderAge {
			delete(w.recent, side)
		}
	}
	w.recentMu.Unlock()
}

func samePrice(a, b float64) bool {
	return utils.Abs(a-b) < 1e-8
}

// sideAllowed - фильтр тренда и экспозиции для стороны
func (w *GridWorker) sideAllowed(side models.Side, notional, trend float64) bool {
	if side == models.SideBuy && trend <= -sideTrendThreshold {
		return false
	}
	if side == models.SideSell && trend >= sideTrendThreshold {
		return false
	}
	return w.deps.Exposure.CanOpen(w.key, side, notional)
}

// ensureOrder держит один актуальный ордер стороны
// Возвращает количество выставленных, отменённых и исполненных ордеров
func (w *GridWorker) ensureOrder(ctx context.Context, side models.Side, price, size, trend float64) (placed, canceled, fills int) {
	w.recentMu.Lock()
	rec, seen := w.recent[side]
	w.recentMu.Unlock()
	if seen && samePrice(rec.Price, price) {
		return 0, 0, 0
	}

	if !w.sideAllowed(side, price*size, trend) {
		w.log.Debug("side skipped by trend or exposure",
			utils.Side(string(side)), utils.Float64("trend", trend), utils.Float64("notional", price*size))
		return 0, 0, 0
	}

	now := w.now()
	keep := false
	for _, o := range w.deps.Gateway.Orders().ForSymbol(w.pair.Exchange, w.pair.Symbol) {
		if o.Side != side {
			continue
		}
		priceDiff := utils.RelativeDiff(price, o.Price)
		sizeDiff := utils.RelativeDiff(size, o.Size)
		if !keep && priceDiff <= refreshPriceDiff && sizeDiff <= refreshSizeDiff && o.Age(now) <= w.cfg.OrderRefreshAge {
			keep = true
			continue
		}

		err := w.deps.Gateway.Cancel(ctx, w.pair.Symbol, o.OrderID)
		switch {
		case errors.Is(err, ErrOrderFilled):
			if w.deps.Gateway.Orders().Remove(w.pair.Exchange, o.OrderID) {
				w.onFill(o)
				fills++
			}
			continue
		case err != nil && !exchange.IsNotFound(err):
			w.log.Warn("failed to cancel outdated order", utils.OrderID(o.OrderID), utils.Err(err))
			return placed, canceled, fills
		}
		canceled++
		w.log.Debug("outdated order canceled",
			utils.OrderID(o.OrderID), utils.Side(string(side)), utils.Float64("old_price", o.Price), utils.Price(price))
	}
	if keep {
		return placed, canceled, fills
	}

	if w.cfg.DryRun {
		w.log.Info("dry run quote", utils.Side(string(side)), utils.Price(price), utils.Volume(size))
		return placed, canceled, fills
	}

	order, err := w.deps.Gateway.PlaceLimit(ctx, w.pair.Symbol, side, price, size)
	if err != nil {
		return placed, canceled, fills
	}

	w.recentMu.Lock()
	w.recent[side] = *order
	w.recentMu.Unlock()
	return placed + 1, canceled, fills
}

// reconcile проверяет исполнения ордеров пары и открывает позиции
func (w *GridWorker) reconcile(ctx context.Context) int {
	fills := 0
	for _, o := range w.deps.Gateway.Orders().ForSymbol(w.pair.Exchange, w.pair.Symbol) {
		status, err := w.deps.Gateway.Status(ctx, w.pair.Symbol, o.OrderID)
		if err != nil {
			w.log.Debug("order status failed", utils.OrderID(o.OrderID), utils.Err(err))
			continue
		}
		if status != exchange.OrderStatusFilled {
			continue
		}
		if !w.deps.Gateway.Orders().Remove(w.pair.Exchange, o.OrderID) {
			continue
		}
		w.onFill(o)
		fills++
	}
	return fills
}

// Flush сверяет исполнения и снимает оставшиеся ордера пары
// Вызывается после остановки Run: исполненные до остановки ордера
// открывают позиции, остальные отменяются
func (w *GridWorker) Flush(ctx context.Context) (fills, canceled int) {
	fills = w.reconcile(ctx)
	for _, o := range w.deps.Gateway.Orders().ForSymbol(w.pair.Exchange, w.pair.Symbol) {
		err := w.deps.Gateway.Cancel(ctx, w.pair.Symbol, o.OrderID)
		switch {
		case errors.Is(err, ErrOrderFilled):
			if w.deps.Gateway.Orders().Remove(w.pair.Exchange, o.OrderID) {
				w.onFill(o)
				fills++
			}
		case err != nil:
			w.log.Warn("failed to cancel order on stop", utils.OrderID(o.OrderID), utils.Err(err))
		default:
			canceled++
		}
	}
	return fills, canceled
}

// onFill учитывает исполнение лимитного ордера
func (w *GridWorker) onFill(o models.OrderRecord) {
	w.recentMu.Lock()
	if rec, ok := w.recent[o.Side]; ok && rec.OrderID == o.OrderID {
		delete(w.recent, o.Side)
	}
	w.recentMu.Unlock()

	md, ok := w.deps.Feed.Store().Get(w.pair.Exchange, w.pair.Symbol)
	if !ok || !md.Valid() {
		md = &exchange.MarketData{Bid: o.Price, Ask: o.Price}
	}

	// оценка PnL исполнения против текущей книги
	var pnl, watermark float64
	tradeSide := models.TradeBuy
	if o.Side == models.SideBuy {
		pnl = (md.Ask-o.Price)*o.Size - o.Size*FillCommission
		watermark = md.Bid
	} else {
		tradeSide = models.TradeSell
		pnl = (o.Price-md.Bid)*o.Size - o.Size*FillCommission
		watermark = md.Ask
	}
	FillsTotal.WithLabelValues(w.pair.Exchange, w.pair.Symbol, string(o.Side)).Inc()

	w.deps.Risk.RecordTrade(models.Trade{
		Timestamp: w.now(),
		Exchange:  w.pair.Exchange,
		Symbol:    w.pair.Symbol,
		Side:      tradeSide,
		Price:     o.Price,
		Size:      o.Size,
		PnL:       pnl,
		Reason:    "fill",
	})
	w.deps.Exposure.Record(w.key, tradeSide, o.Notional())

	pos := w.deps.Positions.Open(models.Position{
		Exchange:       w.pair.Exchange,
		Symbol:         w.pair.Symbol,
		Side:           models.OpenedBy(o.Side),
		EntryPrice:     o.Price,
		Size:           o.Size,
		OrderID:        o.OrderID,
		HighSinceEntry: watermark,
		LowSinceEntry:  watermark,
	})
	w.deps.Risk.IncPositions()

	w.log.Info("order filled, position opened",
		utils.OrderID(o.OrderID), utils.PositionID(pos.ID), utils.Side(string(o.Side)),
		utils.Price(o.Price), utils.Volume(o.Size), utils.PNL(pnl))
	w.deps.Notifier.Send(fmt.Sprintf("📥 Filled %s %s %s on %s @ %.6f, opened %s position",
		o.Side, utils.FormatByStep(o.Size, 0.000001), w.pair.Symbol, w.pair.Exchange, o.Price, pos.Side))
}
