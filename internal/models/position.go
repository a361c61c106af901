package models

import "time"

// Side - сторона ордера
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite возвращает противоположную сторону
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid проверяет значение стороны
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PositionSide - направление позиции
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// OpenedBy возвращает направление позиции, которую открывает исполнение ордера side
func OpenedBy(side Side) PositionSide {
	if side == SideBuy {
		return SideLong
	}
	return SideShort
}

// Position представляет открытую позицию, которую ведёт монитор
type Position struct {
	ID         string       `json:"id"`
	Exchange   string       `json:"exchange"`
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	EntryPrice float64      `json:"entry_price"`
	Size       float64      `json:"size"`
	OpenedAt   time.Time    `json:"opened_at"`
	OrderID    string       `json:"order_id,omitempty"` // ордер, исполнение которого открыло позицию

	// Экстремумы цены с момента входа (для трейлинг стопа)
	HighSinceEntry float64 `json:"high_since_entry"`
	LowSinceEntry  float64 `json:"low_since_entry"`

	// Уровни выхода, рассчитанные при открытии
	StopLossPrice     float64 `json:"stop_loss_price"`
	TakeProfitPrice   float64 `json:"take_profit_price"`
	TrailingStopPrice float64 `json:"trailing_stop_price"`
	HighWaterMark     float64 `json:"high_water_mark"`

	// Recovered - позиция найдена на бирже при старте
	Recovered bool `json:"recovered"`
}

// IsLong проверяет направление позиции
func (p *Position) IsLong() bool {
	return p.Side == SideLong
}

// CloseSide возвращает сторону ордера, закрывающего позицию
func (p *Position) CloseSide() Side {
	if p.IsLong() {
		return SideSell
	}
	return SideBuy
}

// Notional - стоимость позиции по цене входа
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Size
}

// Age - время жизни позиции
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// UnrealizedPnL - нереализованный PnL по цене price (без комиссий)
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.IsLong() {
		return (price - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - price) * p.Size
}
