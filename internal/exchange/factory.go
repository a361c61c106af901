package exchange

import (
	"fmt"
	"strings"

	"scalper/pkg/utils"
)

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = []string{
	"bybit",
	"binance",
	"paper",
}

// Options - общие параметры создания адаптера
type Options struct {
	Testnet bool
	Logger  *utils.Logger
}

// NewExchange создаёт экземпляр биржи по имени
//
// Имена вида "paper-a" создают отдельные симуляторы: удобно для dry-run
// с двумя биржами.
func NewExchange(name string, opts Options) (Exchange, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	switch {
	case name == "bybit":
		return NewBybit(BybitOptions{Testnet: opts.Testnet, Logger: opts.Logger}), nil
	case name == "binance":
		return NewBinance(BinanceOptions{Testnet: opts.Testnet, Logger: opts.Logger}), nil
	case name == "paper" || strings.HasPrefix(name, "paper-"):
		return NewPaper(name), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(name, "paper-") {
		return true
	}
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
