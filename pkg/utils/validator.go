package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validator.go - проверка входных данных конфигурации

var symbolRe = regexp.MustCompile(`^[A-Z0-9]{2,20}(USDT|USDC|USD)$`)

// ErrEmptyAPIKey - пустой ключ API
var ErrEmptyAPIKey = errors.New("api key is empty")

// NormalizeSymbol приводит символ к виду BTCUSDT (BTC-USDT, btc/usdt, BTC-USDT-SWAP -> BTCUSDT)
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "-SWAP")
	r := strings.NewReplacer("-", "", "/", "", "_", "", ":", "")
	return r.Replace(s)
}

// ValidateSymbol проверяет формат символа (BTCUSDT)
func ValidateSymbol(symbol string) error {
	if !symbolRe.MatchString(symbol) {
		return fmt.Errorf("invalid symbol %q: expected format like BTCUSDT", symbol)
	}
	return nil
}

// BaseAsset возвращает базовый актив символа (BTCUSDT -> BTC)
func BaseAsset(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}

// ValidateAPIKey выполняет базовую проверку ключа API
func ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyAPIKey
	}
	if len(key) < 8 {
		return fmt.Errorf("api key too short: %d chars", len(key))
	}
	if strings.ContainsAny(key, " \t\n") {
		return errors.New("api key contains whitespace")
	}
	return nil
}

// ValidatePositive проверяет, что значение строго больше нуля
func ValidatePositive(name string, v float64) error {
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %v", name, v)
	}
	return nil
}
