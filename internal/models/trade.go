package models

import "time"

// TradeSide - сторона сделки для учёта риска и экспозиции
type TradeSide string

const (
	TradeBuy       TradeSide = "buy"
	TradeSell      TradeSide = "sell"
	TradeCloseBuy  TradeSide = "close_buy"  // закрытие long
	TradeCloseSell TradeSide = "close_sell" // закрытие short
)

// IsClose проверяет, закрывает ли сделка позицию
func (s TradeSide) IsClose() bool {
	return s == TradeCloseBuy || s == TradeCloseSell
}

// Trade - исполненная сделка
type Trade struct {
	Timestamp time.Time `json:"timestamp"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Side      TradeSide `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	PnL       float64   `json:"pnl"`
	Reason    string    `json:"reason,omitempty"`
}

// Notional - стоимость сделки
func (t *Trade) Notional() float64 {
	return t.Price * t.Size
}
