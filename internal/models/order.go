package models

import "time"

// OrderRecord - локальная запись о выставленном лимитном ордере
type OrderRecord struct {
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	OrderID  string    `json:"order_id"`
	PlacedAt time.Time `json:"placed_at"`
}

// Age - возраст ордера
func (o *OrderRecord) Age(now time.Time) time.Duration {
	return now.Sub(o.PlacedAt)
}

// Notional - стоимость ордера
func (o *OrderRecord) Notional() float64 {
	return o.Price * o.Size
}
