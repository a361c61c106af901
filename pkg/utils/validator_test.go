package utils

import (
	"errors"
	"testing"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := map[string]string{
		"BTCUSDT":       "BTCUSDT",
		"btc-usdt":      "BTCUSDT",
		"BTC/USDT":      "BTCUSDT",
		"ETH-USDT-SWAP": "ETHUSDT",
		" sol_usdt ":    "SOLUSDT",
	}
	for in, want := range tests {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		symbol  string
		wantErr bool
	}{
		{"BTCUSDT", false},
		{"1000PEPEUSDT", false},
		{"ETHUSDC", false},
		{"btcusdt", true},
		{"BTC-USDT", true},
		{"USDT", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
		})
	}
}

func TestBaseAsset(t *testing.T) {
	tests := map[string]string{
		"BTCUSDT":      "BTC",
		"1000PEPEUSDT": "1000PEPE",
		"ETHUSDC":      "ETH",
		"USDT":         "USDT",
	}
	for in, want := range tests {
		if got := BaseAsset(in); got != want {
			t.Errorf("BaseAsset(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateAPIKey(t *testing.T) {
	if err := ValidateAPIKey(""); !errors.Is(err, ErrEmptyAPIKey) {
		t.Errorf("expected ErrEmptyAPIKey, got %v", err)
	}
	if err := ValidateAPIKey("short"); err == nil {
		t.Error("expected error for short key")
	}
	if err := ValidateAPIKey("abc def ghi jkl"); err == nil {
		t.Error("expected error for key with whitespace")
	}
	if err := ValidateAPIKey("aB3dE5gH7jK9"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidatePositive(t *testing.T) {
	if err := ValidatePositive("qty", 0); err == nil {
		t.Error("expected error for zero")
	}
	if err := ValidatePositive("qty", 0.1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
