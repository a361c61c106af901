package models

import (
	"strings"
	"time"
)

// PairKey формирует ключ пары "exchange:symbol"
func PairKey(exchange, symbol string) string {
	return exchange + ":" + symbol
}

// SplitPairKey разбирает ключ пары
func SplitPairKey(key string) (exchange, symbol string) {
	exchange, symbol, found := strings.Cut(key, ":")
	if !found {
		return "", key
	}
	return exchange, symbol
}

// PairStatus - состояние автоматического выключения пары
type PairStatus struct {
	Key           string    `json:"key"`
	Enabled       bool      `json:"enabled"`
	DisabledSince time.Time `json:"disabled_since,omitempty"`
	DisabledUntil time.Time `json:"disabled_until,omitempty"` // пусто для ручного отключения
	ErrorCount    int       `json:"error_count"`
	Strikes       int       `json:"strikes"`
	Manual        bool      `json:"manual,omitempty"`
}
