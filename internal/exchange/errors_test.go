package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"scalper/pkg/retry"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindExchange},
		{"exchange error", NewError("bybit", KindMargin, "110007", "insufficient"), KindMargin},
		{"wrapped exchange error", fmt.Errorf("place: %w", NewError("bybit", KindNotFound, "", "x")), KindNotFound},
		{"kind error", NewKindError(KindRisk, "exposure"), KindRisk},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindTransient},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindTransient},
		{"plain", errors.New("boom"), KindExchange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsCritical(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindValidation, true},
		{KindMarketData, true},
		{KindMargin, true},
		{KindTransient, false},
		{KindRateLimited, false},
		{KindNotFound, false},
		{KindRisk, false},
		{KindExchange, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := IsCritical(NewError("paper", tt.kind, "", "x")); got != tt.want {
				t.Errorf("IsCritical(%v) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}

	if IsCritical(nil) {
		t.Error("nil не должен быть критичным")
	}
}

func TestRetryableKinds(t *testing.T) {
	// retry.IsRetryable смотрит на Retryable() через цепочку ошибок
	if !retry.IsRetryable(NewError("bybit", KindTransient, "", "timeout")) {
		t.Error("transient должен повторяться")
	}
	if !retry.IsRetryable(fmt.Errorf("wrap: %w", NewKindError(KindRateLimited, "slow down"))) {
		t.Error("rate limited должен повторяться")
	}
	if retry.IsRetryable(NewError("bybit", KindValidation, "10001", "params")) {
		t.Error("validation не должен повторяться")
	}
	if retry.IsRetryable(NewError("bybit", KindNotFound, "110001", "no order")) {
		t.Error("not found не должен повторяться")
	}
}

func TestExchangeErrorFormat(t *testing.T) {
	err := NewError("bybit", KindValidation, "10001", "params error")
	if got := err.Error(); got != "bybit: params error (code 10001)" {
		t.Errorf("Error() = %q", got)
	}

	noCode := NewError("paper", KindNotFound, "", "order not found")
	if got := noCode.Error(); got != "paper: order not found" {
		t.Errorf("Error() = %q", got)
	}

	orig := errors.New("eof")
	wrapped := &ExchangeError{Exchange: "bybit", Message: "read", Kind: KindTransient, Original: orig}
	if !errors.Is(wrapped, orig) {
		t.Error("Unwrap должен отдавать исходную ошибку")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NewError("paper", KindNotFound, "", "x")) {
		t.Error("ожидали not found")
	}
	if IsNotFound(errors.New("x")) || IsNotFound(nil) {
		t.Error("обычная ошибка не not found")
	}
}
