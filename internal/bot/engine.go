package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"scalper/internal/config"
	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/internal/notify"
	"scalper/pkg/ratelimit"
	"scalper/pkg/retry"
	"scalper/pkg/utils"
)

// Параметры движка
const (
	FallbackBalance    = 100.0 // баланс биржи, если запрос не удался
	dailyStopExitGrace = 30 * time.Second
	flatCheckInterval  = time.Second
	leverageTierLimit  = 1.1 // символы до этого класса получают высокое плечо

	// сверка и отмена ордеров всех пар при остановке
	flushTimeout = 15 * time.Second
)

// Engine - оркестратор: общее состояние, воркеры пар, монитор позиций
//
// Всё общее состояние создаётся здесь и передаётся воркерам явно.
// Входы останавливаются по дневному стопу, монитор продолжает закрывать
// позиции до остановки процесса.
type Engine struct {
	cfg       *config.Config
	exchanges map[string]exchange.Exchange
	log       *utils.Logger
	base      *utils.Logger
	notifier  notify.Notifier
	onSummary func(models.Summary)

	store    *MarketStore
	feed     *MarketFeed
	symbols  *SymbolManager
	status   *PairStatusManager
	risk     *RiskManager
	exposure *ExposureRegistry
	book     *PositionBook
	orders   *ActiveOrders
	windows  *ratelimit.WindowSet
	gateways map[string]*OrderGateway
	monitor  *PositionMonitor

	workers   []*GridWorker
	workersMu sync.RWMutex

	balances   map[string]float64
	balancesMu sync.RWMutex

	cancel        context.CancelFunc
	cancelEntries context.CancelFunc
	wg            sync.WaitGroup
	workersWg     sync.WaitGroup

	dailyStopSeen bool
	stopOnce      sync.Once
}

// Option настраивает Engine
type Option func(*Engine)

// WithNotifier задаёт канал уведомлений
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger задаёт логгер
func WithLogger(l *utils.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSummaryHook вызывается с каждой периодической сводкой
func WithSummaryHook(fn func(models.Summary)) Option {
	return func(e *Engine) { e.onSummary = fn }
}

// NewEngine создаёт движок и общее состояние
func NewEngine(cfg *config.Config, exchanges map[string]exchange.Exchange, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		exchanges: exchanges,
		log:       utils.L(),
		notifier:  notify.Nop{},
		gateways:  make(map[string]*OrderGateway, len(exchanges)),
		balances:  make(map[string]float64, len(exchanges)),
	}
	for _, opt := range opts {
		opt(e)
	}
	base := e.log
	e.base = base
	e.log = base.WithComponent("engine")

	t := cfg.Trading
	e.store = NewMarketStore(0, 0)

	feedCfg := DefaultFeedConfig()
	feedCfg.RequestTimeout = t.RequestTimeout
	e.feed = NewMarketFeed(exchanges, e.store, feedCfg, base)

	e.symbols = NewSymbolManager(exchanges, t.RequestTimeout, base)
	e.status = NewPairStatusManager(e.notifier, base)
	e.risk = NewRiskManager(t.DailyStopLoss, t.MaxPositions, e.notifier, base)
	e.exposure = NewExposureRegistry(t.WorkerExposureCap)
	e.book = NewPositionBook(ExitConfig{
		TakeProfit:   DefaultTakeProfit,
		StopLoss:     DefaultStopLoss,
		TrailingStop: DefaultTrailingStop,
		MaxAge:       t.PositionMaxAge,
	})
	e.orders = NewActiveOrders()
	e.windows = ratelimit.NewWindowSet(t.RatePerSecond, t.RatePerMinute)

	for name, ex := range exchanges {
		e.gateways[name] = NewOrderGateway(ex, GatewayDeps{
			PairStatus: e.status,
			Limiter:    e.windows.Get(name),
			Symbols:    e.symbols,
			Risk:       e.risk,
			Orders:     e.orders,
		}, t.RequestTimeout, base)
	}

	monCfg := DefaultMonitorConfig()
	monCfg.Interval = t.MonitorInterval
	monCfg.RequestTimeout = t.RequestTimeout
	monCfg.CloseSettleDelay = t.CloseSettleDelay
	monCfg.StaleAfter = feedCfg.StaleAfter
	monCfg.Exit.MaxAge = t.PositionMaxAge
	e.monitor = NewPositionMonitor(e.book, e.store, e.gateways, e.risk, e.exposure, e.notifier, monCfg, base)

	return e
}

// ====== Запуск ======

// Start подключает биржи, выбирает пары и запускает воркеры
func (e *Engine) Start(ctx context.Context) error {
	if err := e.connectAll(ctx); err != nil {
		return err
	}

	total := e.refreshBalances(ctx)
	e.risk.SetBalance(total)
	e.exposure.SetBalance(total)
	e.log.Info("balances loaded", utils.Float64("total", total))

	pairs := e.selectPairs(ctx)
	if len(pairs) == 0 {
		return errors.New("no tradable pairs")
	}

	e.prepareSymbols(ctx, pairs)

	if n := e.monitor.LoadExisting(ctx); n > 0 {
		e.log.Warn("open positions recovered", utils.Int("count", n))
	}

	runCtx, cancel := context.WithCancel(ctx)
	entriesCtx, cancelEntries := context.WithCancel(runCtx)
	e.cancel = cancel
	e.cancelEntries = cancelEntries

	e.feed.Start(runCtx, pairs)

	e.workersMu.Lock()
	for _, p := range pairs {
		w := NewGridWorker(p, WorkerDeps{
			Gateway:    e.gateways[p.Exchange],
			Feed:       e.feed,
			PairStatus: e.status,
			Symbols:    e.symbols,
			Risk:       e.risk,
			Exposure:   e.exposure,
			Positions:  e.book,
			Notifier:   e.notifier,
		}, e.cfg.Trading, e.base)
		e.workers = append(e.workers, w)

		e.workersWg.Add(1)
		go func() {
			defer e.workersWg.Done()
			w.Run(entriesCtx)
		}()
	}
	e.workersMu.Unlock()

	e.goLoop(func() { e.monitor.Run(runCtx) })
	e.goLoop(func() { e.sweepLoop(runCtx) })
	e.goLoop(func() { e.decayLoop(runCtx) })
	e.goLoop(func() { e.symbolRefreshLoop(runCtx) })
	e.goLoop(func() { e.balanceLoop(runCtx) })

	mode := "live"
	if e.cfg.Trading.DryRun {
		mode = "dry-run"
	}
	e.log.Info("engine started",
		utils.Int("pairs", len(pairs)), utils.Int("exchanges", len(e.exchanges)), utils.String("mode", mode))
	e.notifier.Send(fmt.Sprintf("🚀 Scalper started (%s): %d pairs on %d exchanges, balance %.2f USDT",
		mode, len(pairs), len(e.exchanges), total))
	return nil
}

func (e *Engine) goLoop(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// connectAll подключает биржи с повторами; неподключённые исключаются
func (e *Engine) connectAll(ctx context.Context) error {
	creds := make(map[string]config.ExchangeConfig, len(e.cfg.Exchanges))
	for _, c := range e.cfg.Exchanges {
		creds[c.Name] = c
	}

	for name, ex := range e.exchanges {
		c := creds[name]
		err := retry.Do(ctx, func() error {
			return ex.Connect(c.APIKey, c.SecretKey, c.Passphrase)
		}, retry.NetworkConfig())
		if err != nil {
			e.log.Error("exchange connection failed", utils.Exchange(name), utils.Err(err))
			e.notifier.Send(fmt.Sprintf("❌ Failed to connect %s: %v", name, err))
			delete(e.exchanges, name)
			delete(e.gateways, name)
			continue
		}
		e.log.Info("exchange connected", utils.Exchange(name))
	}

	if len(e.exchanges) == 0 {
		return errors.New("no exchanges connected")
	}
	return nil
}

// refreshBalances запрашивает балансы параллельно и возвращает сумму
// Биржа без ответа учитывается с FallbackBalance
func (e *Engine) refreshBalances(ctx context.Context) float64 {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	balances := make(map[string]float64, len(e.exchanges))

	for name, ex := range e.exchanges {
		wg.Add(1)
		go func(exchName string, ex exchange.Exchange) {
			defer wg.Done()

			reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Trading.RequestTimeout)
			defer cancel()

			balance, err := ex.GetBalance(reqCtx)
			if err != nil || balance <= 0 {
				e.log.Warn("balance unavailable, using fallback",
					utils.Exchange(exchName), utils.Float64("fallback", FallbackBalance), utils.Err(err))
				balance = FallbackBalance
			}
			mu.Lock()
			balances[exchName] = balance
			mu.Unlock()
		}(name, ex)
	}
	wg.Wait()

	var total float64
	for _, b := range balances {
		total += b
	}

	e.balancesMu.Lock()
	e.balances = balances
	e.balancesMu.Unlock()
	return total
}

// selectPairs проверяет настроенные пары по снимку рынка и берёт
// до MaxPairs штук поочерёдно с каждой биржи
func (e *Engine) selectPairs(ctx context.Context) []PairRef {
	valid := make(map[string][]PairRef)
	for _, c := range e.cfg.Exchanges {
		ex, ok := e.exchanges[c.Name]
		if !ok {
			continue
		}
		for _, symbol := range c.Pairs {
			reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Trading.RequestTimeout)
			md, err := ex.GetMarketData(reqCtx, symbol)
			cancel()
			if err != nil || !md.Valid() {
				e.log.Warn("pair skipped: no valid market data",
					utils.Exchange(c.Name), utils.Symbol(symbol), utils.Err(err))
				continue
			}
			valid[c.Name] = append(valid[c.Name], PairRef{Exchange: c.Name, Symbol: symbol})
		}
	}

	names := make([]string, 0, len(valid))
	for name := range valid {
		names = append(names, name)
	}
	sort.Strings(names)

	limit := e.cfg.Trading.MaxPairs
	var out []PairRef
	for i := 0; len(out) < limit; i++ {
		added := false
		for _, name := range names {
			if i < len(valid[name]) && len(out) < limit {
				out = append(out, valid[name][i])
				added = true
			}
		}
		if !added {
			break
		}
	}
	return out
}

// LeverageFor - высокое плечо для ликвидных символов, низкое для остальных
func LeverageFor(symbol string, low, high int) int {
	if TierMultiplier(symbol) <= leverageTierLimit {
		return high
	}
	return low
}

// prepareSymbols загружает точность и выставляет плечо; ошибки только логируются
func (e *Engine) prepareSymbols(ctx context.Context, pairs []PairRef) {
	for _, p := range pairs {
		e.status.Track(p.Key())

		if _, err := e.symbols.Load(ctx, p.Exchange, p.Symbol); err != nil {
			e.log.Warn("symbol info fallback", utils.Exchange(p.Exchange), utils.Symbol(p.Symbol), utils.Err(err))
		}

		leverage := LeverageFor(p.Symbol, e.cfg.Trading.LowLeverage, e.cfg.Trading.HighLeverage)
		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Trading.RequestTimeout)
		err := e.exchanges[p.Exchange].SetLeverage(reqCtx, p.Symbol, leverage)
		cancel()
		if err != nil {
			e.log.Warn("set leverage failed",
				utils.Exchange(p.Exchange), utils.Symbol(p.Symbol), utils.Int("leverage", leverage), utils.Err(err))
		}
	}
}

// ====== Фоновые задачи ======

func (e *Engine) tick(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// sweepLoop включает пары с истёкшим отключением и сверяет позиции с биржами
func (e *Engine) sweepLoop(ctx context.Context) {
	e.tick(ctx, e.cfg.Trading.SweepInterval, func() {
		if n := e.status.AutoReEnable(); n > 0 {
			e.log.Info("pairs re-enabled", utils.Int("count", n))
		}
		mismatches, err := e.monitor.VerifyPositions(ctx)
		if err != nil {
			e.log.Debug("position verification failed", utils.Err(err))
			return
		}
		for _, m := range mismatches {
			e.log.Warn("position mismatch", utils.String("detail", m))
		}
	})
}

func (e *Engine) decayLoop(ctx context.Context) {
	e.tick(ctx, e.cfg.Trading.DecayInterval, func() {
		e.exposure.DecayAll(DefaultExposureDecay)
	})
}

func (e *Engine) symbolRefreshLoop(ctx context.Context) {
	e.tick(ctx, e.cfg.Trading.SymbolRefreshInterval, func() {
		e.symbols.RefreshAll(ctx)
	})
}

func (e *Engine) balanceLoop(ctx context.Context) {
	e.tick(ctx, e.cfg.Trading.BalanceInterval, func() {
		total := e.refreshBalances(ctx)
		e.risk.SetBalance(total)
		e.exposure.SetBalance(total)
	})
}

// ====== Главный цикл ======

// Run - цикл сводки до отмены ctx
//
// При дневном стопе входы останавливаются, резервные ордера отменяются.
// С ExitOnDailyStop Run ждёт закрытия позиций и возвращает ErrDailyStop.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Trading.SummaryInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if stop := e.summaryTick(ctx); stop {
				e.waitFlat(ctx)
				return ErrDailyStop
			}
		}
	}
}

// summaryTick логирует сводку и обрабатывает дневной стоп
// Возвращает true, если процесс должен завершиться
func (e *Engine) summaryTick(ctx context.Context) bool {
	e.status.AutoReEnable()

	s := e.Summary()
	e.log.Info("summary",
		utils.Float64("daily_pnl", s.DailyPnL),
		utils.Int("active_orders", s.ActiveOrders),
		utils.Int("open_positions", s.OpenPositions),
		utils.Int("active_pairs", s.ActivePairs),
		utils.Int("disabled_pairs", s.DisabledPairs),
		utils.Float64("net_exposure", s.NetExposure))
	if e.onSummary != nil {
		e.onSummary(s)
	}

	total := s.ActivePairs + s.DisabledPairs
	if total > 0 && s.ActivePairs*2 < total {
		e.log.Warn("less than half of pairs are active",
			utils.Int("active", s.ActivePairs), utils.Int("total", total))
	}

	if !s.DailyStop || e.dailyStopSeen {
		return false
	}
	e.dailyStopSeen = true
	e.stopEntries(ctx)

	e.log.Error("daily stop reached, entries stopped",
		utils.Float64("daily_pnl", s.DailyPnL), utils.Float64("limit", e.cfg.Trading.DailyStopLoss))
	e.notifier.Send(fmt.Sprintf("🛑 Daily stop reached: PnL %.2f USDT. Entries stopped, %d positions still managed",
		s.DailyPnL, s.OpenPositions))

	return e.cfg.Trading.ExitOnDailyStop
}

// stopEntries останавливает воркеры и снимает их ордера
func (e *Engine) stopEntries(ctx context.Context) {
	if e.cancelEntries != nil {
		e.cancelEntries()
	}
	e.workersWg.Wait()

	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	e.flushWorkers(cancelCtx)
}

// flushWorkers сверяет исполнения остановленных воркеров и снимает их ордера
// Ордера без воркера снимаются через шлюз
func (e *Engine) flushWorkers(ctx context.Context) {
	e.workersMu.RLock()
	workers := append([]*GridWorker(nil), e.workers...)
	e.workersMu.RUnlock()

	for _, w := range workers {
		fills, canceled := w.Flush(ctx)
		if fills > 0 || canceled > 0 {
			e.log.Info("worker flushed",
				utils.Exchange(w.Pair().Exchange), utils.Symbol(w.Pair().Symbol),
				utils.Int("fills", fills), utils.Int("canceled", canceled))
		}
	}
	for _, gw := range e.gateways {
		if n := gw.CancelAll(ctx); n > 0 {
			e.log.Info("resting orders canceled", utils.Exchange(gw.Name()), utils.Int("count", n))
		}
	}
}

// waitFlat ждёт закрытия всех позиций, но не дольше PositionMaxAge + запас
func (e *Engine) waitFlat(ctx context.Context) {
	deadline := time.NewTimer(e.cfg.Trading.PositionMaxAge + dailyStopExitGrace)
	defer deadline.Stop()
	ticker := time.NewTicker(flatCheckInterval)
	defer ticker.Stop()

	for e.book.Count() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			e.log.Warn("positions still open at exit", utils.Int("count", e.book.Count()))
			return
		case <-ticker.C:
		}
	}
}

// Stop останавливает воркеры, снимает ордера и закрывает биржи
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancelEntries != nil {
			e.cancelEntries()
		}
		e.workersWg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		e.flushWorkers(ctx)

		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.feed.Wait()

		for name, ex := range e.exchanges {
			if err := ex.Close(); err != nil {
				e.log.Warn("exchange close failed", utils.Exchange(name), utils.Err(err))
			}
		}
		e.log.Info("engine stopped", utils.Int("open_positions", e.book.Count()))
	})
}

// ====== Состояние для API ======

// Summary возвращает сводку движка
func (e *Engine) Summary() models.Summary {
	active, disabled := e.status.Counts()
	return models.Summary{
		Timestamp:     time.Now(),
		Balance:       e.risk.Balance(),
		DailyPnL:      e.risk.DailyPnL(),
		DailyStop:     e.risk.DailyStopBreached(),
		RiskMode:      e.risk.RiskMode(),
		ActiveOrders:  e.orders.Count(),
		OpenPositions: e.book.Count(),
		ActivePairs:   active,
		DisabledPairs: disabled,
		NetExposure:   e.exposure.Global().Net(),
	}
}

// Positions возвращает открытые позиции
func (e *Engine) Positions() []models.Position {
	return e.book.Snapshot()
}

// Orders возвращает активные лимитные ордера
func (e *Engine) Orders() []models.OrderRecord {
	return e.orders.Snapshot()
}

// Pairs возвращает состояние торгуемых пар
func (e *Engine) Pairs() []models.PairSummary {
	statuses := make(map[string]models.PairStatus)
	for _, st := range e.status.Snapshot() {
		statuses[st.Key] = st
	}

	e.workersMu.RLock()
	defer e.workersMu.RUnlock()

	out := make([]models.PairSummary, 0, len(e.workers))
	for _, w := range e.workers {
		p := w.Pair()
		st, ok := statuses[p.Key()]
		summary := models.PairSummary{
			Exchange:   p.Exchange,
			Symbol:     p.Symbol,
			State:      w.State(),
			Enabled:    !ok || st.Enabled,
			ErrorCount: st.ErrorCount,
		}
		if info, ok := e.symbols.Get(p.Exchange, p.Symbol); ok {
			summary.Symbols = &info
		}
		out = append(out, summary)
	}
	return out
}

// SetPairEnabled включает или отключает пару вручную
// Ручное отключение действует до явного включения
func (e *Engine) SetPairEnabled(key string, enabled bool) error {
	known := false
	e.workersMu.RLock()
	for _, w := range e.workers {
		if w.Pair().Key() == key {
			known = true
			break
		}
	}
	e.workersMu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownPair, key)
	}

	if enabled {
		e.status.Enable(key)
	} else {
		e.status.Disable(key)
	}
	return nil
}

// ClosePositions закрывает все позиции рыночными ордерами
func (e *Engine) ClosePositions(ctx context.Context) error {
	return e.monitor.CloseAll(ctx, ExitManual)
}

// Risk возвращает риск менеджер
func (e *Engine) Risk() *RiskManager {
	return e.risk
}
