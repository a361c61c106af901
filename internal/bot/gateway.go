package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/ratelimit"
	"scalper/pkg/utils"
)

// ============================================================
// ActiveOrders
// ============================================================

// ActiveOrders - таблица выставленных лимитных ордеров всего процесса
// Ключ - биржа и id ордера: id разных бирж могут совпадать
type ActiveOrders struct {
	orders map[string]models.OrderRecord
	mu     sync.RWMutex
}

// NewActiveOrders создаёт пустую таблицу
func NewActiveOrders() *ActiveOrders {
	return &ActiveOrders{orders: make(map[string]models.OrderRecord)}
}

func orderKey(exchangeName, orderID string) string {
	return exchangeName + "/" + orderID
}

// Add добавляет запись
func (a *ActiveOrders) Add(rec models.OrderRecord) {
	a.mu.Lock()
	a.orders[orderKey(rec.Exchange, rec.OrderID)] = rec
	n := len(a.orders)
	a.mu.Unlock()
	ActiveOrdersGauge.Set(float64(n))
}

// Remove удаляет запись; false если записи не было
func (a *ActiveOrders) Remove(exchangeName, orderID string) bool {
	key := orderKey(exchangeName, orderID)

	a.mu.Lock()
	_, ok := a.orders[key]
	delete(a.orders, key)
	n := len(a.orders)
	a.mu.Unlock()

	ActiveOrdersGauge.Set(float64(n))
	return ok
}

// Get возвращает копию записи
func (a *ActiveOrders) Get(exchangeName, orderID string) (models.OrderRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.orders[orderKey(exchangeName, orderID)]
	return rec, ok
}

// ForSymbol возвращает ордера пары, отсортированные по времени выставления
func (a *ActiveOrders) ForSymbol(exchangeName, symbol string) []models.OrderRecord {
	a.mu.RLock()
	out := make([]models.OrderRecord, 0, 2)
	for _, rec := range a.orders {
		if rec.Exchange == exchangeName && rec.Symbol == symbol {
			out = append(out, rec)
		}
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out
}

// Count возвращает количество ордеров
func (a *ActiveOrders) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.orders)
}

// Snapshot возвращает копию всех записей
func (a *ActiveOrders) Snapshot() []models.OrderRecord {
	a.mu.RLock()
	out := make([]models.OrderRecord, 0, len(a.orders))
	for _, rec := range a.orders {
		out = append(out, rec)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out
}

// ============================================================
// OrderGateway
// ============================================================

// GatewayDeps - общее состояние, которое шлюз использует совместно с воркерами
type GatewayDeps struct {
	PairStatus *PairStatusManager
	Limiter    *ratelimit.WindowLimiter
	Symbols    *SymbolManager
	Risk       *RiskManager
	Orders     *ActiveOrders
}

// OrderGateway - единственный путь ордеров на биржу
//
// Порядок проверок PlaceLimit:
//  1. пара включена
//  2. слот лимитера запросов
//  3. параметры инструмента
//  4. цена > 0
//  5. округление вниз до тика и шага
//  6. min qty / min notional
//  7. баланс: notional × 1.1 <= 0.5 × доступный баланс
//  8. дневной стоп, лимит позиций, доля баланса
//  9. вызов биржи с таймаутом
//
// Критические ошибки расходуют бюджет ошибок пары.
type OrderGateway struct {
	ex      exchange.Exchange
	name    string
	deps    GatewayDeps
	timeout time.Duration
	log     *utils.Logger
}

// NewOrderGateway создаёт шлюз биржи
func NewOrderGateway(ex exchange.Exchange, deps GatewayDeps, timeout time.Duration, log *utils.Logger) *OrderGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = utils.L()
	}
	if deps.Orders == nil {
		deps.Orders = NewActiveOrders()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewWindowLimiter(ratelimit.DefaultPerSecond, ratelimit.DefaultPerMinute)
	}
	return &OrderGateway{
		ex:      ex,
		name:    ex.GetName(),
		deps:    deps,
		timeout: timeout,
		log:     log.WithComponent("gateway").WithExchange(ex.GetName()),
	}
}

// Name возвращает имя биржи
func (g *OrderGateway) Name() string {
	return g.name
}

// Exchange возвращает адаптер биржи
func (g *OrderGateway) Exchange() exchange.Exchange {
	return g.ex
}

// Orders возвращает таблицу активных ордеров
func (g *OrderGateway) Orders() *ActiveOrders {
	return g.deps.Orders
}

// Limiter возвращает общий лимитер запросов биржи
func (g *OrderGateway) Limiter() *ratelimit.WindowLimiter {
	return g.deps.Limiter
}

// acquire занимает слот лимитера; отказ без ожидания учитывается в метрике
func (g *OrderGateway) acquire(ctx context.Context) error {
	if ok, _ := g.deps.Limiter.Allow(); ok {
		return nil
	}
	RateLimited.WithLabelValues(g.name).Inc()
	if err := g.deps.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

// reject логирует отказ, учитывает метрику и ошибку пары
func (g *OrderGateway) reject(symbol, reason string, err error, fields ...utils.Field) error {
	RecordReject(g.name, symbol, reason)
	g.deps.PairStatus.RecordError(models.PairKey(g.name, symbol), err)

	fields = append(fields, utils.Symbol(symbol), utils.Reason(reason), utils.Err(err))
	g.log.Warn("order rejected", fields...)
	return err
}

// PlaceLimit выставляет post-only лимитный ордер
func (g *OrderGateway) PlaceLimit(ctx context.Context, symbol string, side models.Side, price, size float64) (*models.OrderRecord, error) {
	key := models.PairKey(g.name, symbol)

	if !g.deps.PairStatus.IsEnabled(key) {
		return nil, g.reject(symbol, "pair_disabled", ErrPairDisabled)
	}

	if err := g.acquire(ctx); err != nil {
		return nil, g.reject(symbol, "rate_limited", err)
	}

	info := g.deps.Symbols.GetOrLoad(ctx, g.name, symbol)

	if price <= 0 {
		return nil, g.reject(symbol, "invalid_price", fmt.Errorf("%w: %.8f", ErrInvalidPrice, price),
			utils.Price(price))
	}

	rPrice := g.deps.Symbols.RoundPrice(g.name, symbol, price)
	rSize := g.deps.Symbols.RoundSize(g.name, symbol, size)

	if err := ValidateOrder(rPrice, rSize, info.MinQty, info.MinNotional); err != nil {
		return nil, g.reject(symbol, "min_size", err,
			utils.Price(rPrice), utils.Volume(rSize),
			utils.Float64("min_qty", info.MinQty), utils.Float64("min_notional", info.MinNotional))
	}

	notional := rPrice * rSize
	if err := g.deps.Risk.CheckBalance(notional); err != nil {
		return nil, g.reject(symbol, "balance", err, utils.Float64("notional", notional))
	}
	if err := g.deps.Risk.CanTrade(); err != nil {
		return nil, g.reject(symbol, "risk", err)
	}
	if err := g.deps.Risk.ValidateOrderSize(rSize, rPrice, info.MinQty, info.MinNotional); err != nil {
		return nil, g.reject(symbol, "risk", err, utils.Float64("notional", notional))
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	orderID, err := g.ex.PlaceLimitOrder(reqCtx, symbol, side, rPrice, rSize)
	if err != nil {
		return nil, g.reject(symbol, "exchange", err, utils.Side(string(side)), utils.Price(rPrice), utils.Volume(rSize))
	}

	rec := models.OrderRecord{
		Exchange: g.name,
		Symbol:   symbol,
		Side:     side,
		Price:    rPrice,
		Size:     rSize,
		OrderID:  orderID,
		PlacedAt: time.Now(),
	}
	g.deps.Orders.Add(rec)
	g.deps.PairStatus.ResetErrors(key)
	OrdersPlaced.WithLabelValues(g.name, symbol, string(side)).Inc()

	g.log.Debug("limit order placed",
		utils.Symbol(symbol), utils.Side(string(side)), utils.OrderID(orderID),
		utils.Price(rPrice), utils.Volume(rSize))
	return &rec, nil
}

// PlaceMarket выставляет рыночный ордер для закрытия позиции
// Не проверяет статус пары и дневной стоп: выходы работают всегда
func (g *OrderGateway) PlaceMarket(ctx context.Context, symbol string, side models.Side, size float64) (string, error) {
	if err := g.acquire(ctx); err != nil {
		RecordReject(g.name, symbol, "rate_limited")
		return "", err
	}

	g.deps.Symbols.GetOrLoad(ctx, g.name, symbol)
	rSize := g.deps.Symbols.RoundSize(g.name, symbol, size)
	if rSize <= 0 {
		RecordReject(g.name, symbol, "min_size")
		return "", fmt.Errorf("%w: size %.8f rounds to zero", ErrOrderTooSmall, size)
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	orderID, err := g.ex.PlaceMarketOrder(reqCtx, symbol, side, rSize)
	if err != nil {
		return "", g.reject(symbol, "exchange", err, utils.Side(string(side)), utils.Volume(rSize))
	}

	OrdersPlaced.WithLabelValues(g.name, symbol, string(side)).Inc()
	g.log.Info("market order placed",
		utils.Symbol(symbol), utils.Side(string(side)), utils.OrderID(orderID), utils.Volume(rSize))
	return orderID, nil
}

// Cancel отменяет ордер из локальной таблицы
//
// Если биржа не знает ордер, его статус уточняется: исполненный ордер
// остаётся в таблице для сверки, а вызывающий получает ErrOrderFilled.
// Запись удаляется только когда ордер точно не исполнен.
func (g *OrderGateway) Cancel(ctx context.Context, symbol, orderID string) error {
	if _, ok := g.deps.Orders.Get(g.name, orderID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	if err := g.acquire(ctx); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := g.ex.CancelOrder(reqCtx, symbol, orderID)
	if err == nil {
		g.deps.Orders.Remove(g.name, orderID)
		return nil
	}
	if !exchange.IsNotFound(err) {
		g.log.Warn("cancel failed", utils.Symbol(symbol), utils.OrderID(orderID), utils.Err(err))
		return err
	}

	status, err := g.finalStatus(reqCtx, symbol, orderID)
	switch {
	case err != nil:
		g.log.Warn("order status after cancel failed", utils.Symbol(symbol), utils.OrderID(orderID), utils.Err(err))
		return err
	case status == exchange.OrderStatusFilled:
		g.log.Info("order filled before cancel", utils.Symbol(symbol), utils.OrderID(orderID))
		return fmt.Errorf("%w: %s", ErrOrderFilled, orderID)
	}

	g.deps.Orders.Remove(g.name, orderID)
	return nil
}

// finalStatus запрашивает статус ордера, который биржа отказалась отменять
// Ордер, неизвестный и для запроса статуса, считается снятым
func (g *OrderGateway) finalStatus(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	if err := g.acquire(ctx); err != nil {
		return exchange.OrderStatusUnknown, err
	}
	status, err := g.ex.GetOrderStatus(ctx, symbol, orderID)
	if err != nil {
		if exchange.IsNotFound(err) {
			return exchange.OrderStatusCanceled, nil
		}
		return exchange.OrderStatusUnknown, err
	}
	if !status.IsFinal() {
		return status, fmt.Errorf("order %s is %s but cannot be canceled", orderID, status)
	}
	return status, nil
}

// Status возвращает статус ордера из локальной таблицы
// Запись удаляется, если биржа не знает ордер или он завершён без исполнения
func (g *OrderGateway) Status(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	if _, ok := g.deps.Orders.Get(g.name, orderID); !ok {
		return exchange.OrderStatusUnknown, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	if err := g.acquire(ctx); err != nil {
		return exchange.OrderStatusUnknown, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	status, err := g.ex.GetOrderStatus(reqCtx, symbol, orderID)
	if err != nil {
		if exchange.IsNotFound(err) {
			g.deps.Orders.Remove(g.name, orderID)
		}
		return exchange.OrderStatusUnknown, err
	}

	if status.IsFinal() && status != exchange.OrderStatusFilled {
		g.deps.Orders.Remove(g.name, orderID)
	}
	return status, nil
}

// CancelAll отменяет все ордера биржи (остановка движка), ошибки только логируются
// Исполненные ордера остаются в таблице до сверки воркером
func (g *OrderGateway) CancelAll(ctx context.Context) int {
	cancelled := 0
	for _, rec := range g.deps.Orders.Snapshot() {
		if rec.Exchange != g.name {
			continue
		}
		if err := g.Cancel(ctx, rec.Symbol, rec.OrderID); err != nil {
			if errors.Is(err, ErrOrderFilled) {
				continue
			}
			g.log.Warn("cancel on shutdown failed", utils.Symbol(rec.Symbol), utils.OrderID(rec.OrderID), utils.Err(err))
			continue
		}
		cancelled++
	}
	return cancelled
}
