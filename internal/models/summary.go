package models

import "time"

// Summary - периодическая сводка движка
type Summary struct {
	Timestamp     time.Time     `json:"timestamp"`
	Balance       float64       `json:"balance"`
	DailyPnL      float64       `json:"daily_pnl"`
	DailyStop     bool          `json:"daily_stop"`
	RiskMode      bool          `json:"risk_mode"`
	ActiveOrders  int           `json:"active_orders"`
	OpenPositions int           `json:"open_positions"`
	ActivePairs   int           `json:"active_pairs"`
	DisabledPairs int           `json:"disabled_pairs"`
	NetExposure   float64       `json:"net_exposure"`
	Pairs         []PairSummary `json:"pairs,omitempty"`
}

// PairSummary - состояние одной пары
type PairSummary struct {
	Exchange   string      `json:"exchange"`
	Symbol     string      `json:"symbol"`
	State      WorkerState `json:"state"`
	Enabled    bool        `json:"enabled"`
	ErrorCount int         `json:"error_count"`
	Symbols    *SymbolInfo `json:"symbol_info,omitempty"`
}
