package exchange

import (
	"context"
	"errors"
	"time"

	"scalper/internal/models"
	"scalper/pkg/utils"
)

// Exchange определяет унифицированный интерфейс бессрочных USDT контрактов
//
// Все сетевые методы принимают context: вызывающая сторона задаёт таймаут
// запроса. Ошибки возвращаются как *ExchangeError с классом ErrorKind.
type Exchange interface {
	// Connect сохраняет ключи и проверяет доступ к аккаунту
	Connect(apiKey, secret, passphrase string) error

	// GetName возвращает имя биржи
	GetName() string

	// GetBalance получает доступный баланс фьючерсного аккаунта в USDT
	GetBalance(ctx context.Context) (float64, error)

	// GetMarketData получает лучшие цены книги и последнюю сделку
	// Если bid, ask и last одновременно нулевые, возвращает ошибку KindMarketData
	GetMarketData(ctx context.Context, symbol string) (*MarketData, error)

	// PlaceLimitOrder размещает post-only лимитный ордер, возвращает id ордера
	PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, price, qty float64) (string, error)

	// PlaceMarketOrder размещает рыночный ордер
	PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty float64) (string, error)

	// CancelOrder отменяет ордер
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrderStatus возвращает нормализованный статус ордера
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error)

	// SetLeverage устанавливает плечо для символа
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetOpenPositions получает список открытых позиций
	GetOpenPositions(ctx context.Context) ([]*Position, error)

	// GetLimits получает параметры инструмента (tick, step, min qty, min notional)
	GetLimits(ctx context.Context, symbol string) (*Limits, error)

	// GetLotSize возвращает шаг количества
	GetLotSize(ctx context.Context, symbol string) (float64, error)

	// SubscribeMarketData подписывается на поток лучших цен
	// ErrStreamingUnsupported означает, что данные нужно опрашивать
	SubscribeMarketData(symbol string, callback func(*MarketData)) error

	// Close закрывает соединения с биржей
	Close() error
}

// ErrStreamingUnsupported - биржа не поддерживает push поток цен
var ErrStreamingUnsupported = errors.New("market data streaming not supported")

// MarketData - снимок вершины книги
type MarketData struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`    // лучшая цена покупки
	Ask       float64   `json:"ask"`    // лучшая цена продажи
	Last      float64   `json:"last"`   // последняя сделка
	Volume    float64   `json:"volume"` // объём за 24ч
	Timestamp time.Time `json:"timestamp"`
}

// Valid проверяет снимок: bid > 0, ask > bid, last > 0
func (m *MarketData) Valid() bool {
	return m != nil && m.Bid > 0 && m.Ask > m.Bid && m.Last > 0
}

// Mid возвращает середину книги
func (m *MarketData) Mid() float64 {
	return utils.MidPrice(m.Bid, m.Ask)
}

// Spread возвращает относительный спред книги (ask-bid)/mid
func (m *MarketData) Spread() float64 {
	return utils.RelativeSpread(m.Bid, m.Ask, m.Mid())
}

// AllZero - биржа вернула пустые цены
func (m *MarketData) AllZero() bool {
	return m.Bid == 0 && m.Ask == 0 && m.Last == 0
}

// OrderStatus - нормализованный статус ордера
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusUnknown         OrderStatus = "UNKNOWN"
)

// IsFinal - ордер больше не изменится
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// Position представляет открытую позицию на бирже
type Position struct {
	Symbol        string              `json:"symbol"`
	Side          models.PositionSide `json:"side"`
	Size          float64             `json:"size"`
	EntryPrice    float64             `json:"entry_price"`
	MarkPrice     float64             `json:"mark_price"`
	Leverage      int                 `json:"leverage"`
	UnrealizedPnl float64             `json:"unrealized_pnl"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Limits содержит торговые ограничения инструмента
type Limits struct {
	Symbol      string  `json:"symbol"`
	MinOrderQty float64 `json:"min_order_qty"` // минимальный размер ордера
	MaxOrderQty float64 `json:"max_order_qty"` // максимальный размер ордера
	QtyStep     float64 `json:"qty_step"`      // шаг количества (lot size)
	MinNotional float64 `json:"min_notional"`  // минимальная сумма сделки в USDT
	PriceStep   float64 `json:"price_step"`    // шаг цены (tick size)
	MaxLeverage int     `json:"max_leverage"`
	Status      string  `json:"status"` // TRADING или статус биржи
}

// Trading проверяет, что инструмент торгуется
func (l *Limits) Trading() bool {
	return l.Status == "" || l.Status == models.SymbolStatusTrading
}
