package models

import "time"

// SymbolInfo - параметры точности инструмента
type SymbolInfo struct {
	Symbol      string    `json:"symbol"`
	TickSize    float64   `json:"tick_size"`
	StepSize    float64   `json:"step_size"`
	MinQty      float64   `json:"min_qty"`
	MinNotional float64   `json:"min_notional"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Fallback - значения по умолчанию, биржа не ответила
	Fallback bool `json:"fallback"`
}

// SymbolStatusTrading - инструмент торгуется
const SymbolStatusTrading = "TRADING"
