package bot

import (
	"errors"
	"sync"
	"testing"
	"time"

	"scalper/internal/exchange"
	"scalper/pkg/utils"
)

type recordNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordNotifier) Send(msg string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
}

func (n *recordNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// newTestPairStatus возвращает менеджер с управляемыми часами
func newTestPairStatus(notifier *recordNotifier) (*PairStatusManager, *time.Time) {
	m := NewPairStatusManager(notifier, utils.NewNopLogger())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestDisableDurationFor(t *testing.T) {
	tests := []struct {
		count int
		want  time.Duration
	}{
		{1, 5 * time.Minute},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{5, 15 * time.Minute},
		{6, 30 * time.Minute},
		{10, 30 * time.Minute},
		{11, 60 * time.Minute},
	}
	for _, tt := range tests {
		if got := DisableDurationFor(tt.count); got != tt.want {
			t.Errorf("DisableDurationFor(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestPairStatus_RecordErrorDisablesAtThreshold(t *testing.T) {
	n := &recordNotifier{}
	m, now := newTestPairStatus(n)
	key := "bybit:BTCUSDT"
	critical := exchange.NewError("bybit", exchange.KindValidation, "10001", "bad qty")

	for i := 0; i < 2; i++ {
		if m.RecordError(key, critical) {
			t.Fatalf("pair disabled after %d errors", i+1)
		}
	}
	if m.ErrorCount(key) != 2 {
		t.Fatalf("ErrorCount = %d, want 2", m.ErrorCount(key))
	}

	if !m.RecordError(key, critical) {
		t.Fatal("third critical error must disable the pair")
	}
	if m.IsEnabled(key) {
		t.Error("pair must be disabled")
	}
	if m.ErrorCount(key) != 0 {
		t.Error("error count must be cleared on disable")
	}
	if n.Count() != 1 {
		t.Errorf("notifications = %d, want 1", n.Count())
	}

	// 3 ошибки -> 15 минут
	*now = now.Add(14 * time.Minute)
	if m.IsEnabled(key) {
		t.Error("pair must stay disabled before expiry")
	}
	*now = now.Add(2 * time.Minute)
	if !m.IsEnabled(key) {
		t.Error("pair must be re-enabled after expiry")
	}
}

func TestPairStatus_NonCriticalIgnored(t *testing.T) {
	m, _ := newTestPairStatus(&recordNotifier{})
	key := "bybit:ETHUSDT"

	nonCritical := []error{
		exchange.NewError("bybit", exchange.KindTransient, "", "timeout"),
		exchange.NewError("bybit", exchange.KindRateLimited, "10006", "too many"),
		ErrPairDisabled,
		errors.New("plain error"),
		nil,
	}
	for i := 0; i < 5; i++ {
		for _, err := range nonCritical {
			m.RecordError(key, err)
		}
	}

	if !m.IsEnabled(key) || m.ErrorCount(key) != 0 {
		t.Error("non-critical errors must not count")
	}
}

func TestPairStatus_ResetErrors(t *testing.T) {
	m, _ := newTestPairStatus(&recordNotifier{})
	key := "paper:SOLUSDT"
	err := exchange.NewError("paper", exchange.KindMargin, "", "insufficient")

	m.RecordError(key, err)
	m.RecordError(key, err)
	m.ResetErrors(key)
	m.RecordError(key, err)

	if !m.IsEnabled(key) {
		t.Error("ResetErrors must restart the budget")
	}
}

func TestPairStatus_ManualDisableEnable(t *testing.T) {
	m, now := newTestPairStatus(&recordNotifier{})
	key := "paper:BTCUSDT"

	m.Disable(key)
	if m.IsEnabled(key) {
		t.Fatal("Disable must disable")
	}
	m.Enable(key)
	if !m.IsEnabled(key) {
		t.Fatal("Enable must enable")
	}

	// ручное отключение не истекает и не снимается обходом
	m.Disable(key)
	*now = now.Add(DefaultSweepHorizon + time.Hour)
	if m.AutoReEnable() != 0 || m.IsEnabled(key) {
		t.Fatal("manual disable must stay until Enable")
	}
	m.Enable(key)
	if !m.IsEnabled(key) {
		t.Error("Enable must lift manual disable")
	}
}

func TestPairStatus_DisableEscalatesWithoutSuccess(t *testing.T) {
	m, now := newTestPairStatus(&recordNotifier{})
	key := "bybit:DOGEUSDT"
	critical := exchange.NewError("bybit", exchange.KindValidation, "10001", "bad qty")

	tests := []struct {
		round int
		want  time.Duration
	}{
		{1, 15 * time.Minute}, // 3 ошибки
		{2, 30 * time.Minute}, // 6
		{3, 30 * time.Minute}, // 9
		{4, 60 * time.Minute}, // 12
	}
	for _, tt := range tests {
		for i := 0; i < DefaultMaxPairErrors; i++ {
			m.RecordError(key, critical)
		}
		snap := m.Snapshot()
		if len(snap) != 1 || snap[0].Enabled {
			t.Fatalf("round %d: pair must be disabled, got %+v", tt.round, snap)
		}
		if got := snap[0].DisabledUntil.Sub(snap[0].DisabledSince); got != tt.want {
			t.Errorf("round %d: disable = %v, want %v", tt.round, got, tt.want)
		}

		// ждём истечения: счётчик до отключения обнуляется, накопленные ошибки остаются
		*now = now.Add(tt.want + time.Second)
		if !m.IsEnabled(key) || m.ErrorCount(key) != 0 {
			t.Fatalf("round %d: pair must be re-enabled with a clean counter", tt.round)
		}
		if m.Strikes(key) != tt.round*DefaultMaxPairErrors {
			t.Errorf("round %d: strikes = %d", tt.round, m.Strikes(key))
		}
	}

	// успешный ордер возвращает короткое отключение
	m.ResetErrors(key)
	for i := 0; i < DefaultMaxPairErrors; i++ {
		m.RecordError(key, critical)
	}
	snap := m.Snapshot()
	if got := snap[0].DisabledUntil.Sub(snap[0].DisabledSince); got != 15*time.Minute {
		t.Errorf("after success disable = %v, want 15m", got)
	}
}

func TestPairStatus_AutoReEnable(t *testing.T) {
	m, now := newTestPairStatus(&recordNotifier{})
	m.Track("a:BTCUSDT")
	m.SmartDisable("a:ETHUSDT", 11) // 60 минут
	m.SmartDisable("a:SOLUSDT", 11)

	*now = now.Add(time.Minute)
	if got := m.AutoReEnable(); got != 0 {
		t.Fatalf("AutoReEnable before horizon = %d", got)
	}

	*now = now.Add(DefaultSweepHorizon)
	if got := m.AutoReEnable(); got != 2 {
		t.Fatalf("AutoReEnable = %d, want 2", got)
	}

	active, disabled := m.Counts()
	if active != 3 || disabled != 0 {
		t.Errorf("Counts = %d/%d, want 3/0", active, disabled)
	}
}

func TestPairStatus_Snapshot(t *testing.T) {
	m, _ := newTestPairStatus(&recordNotifier{})
	m.Track("b:XRPUSDT")
	m.SmartDisable("a:BTCUSDT", 3)
	m.Disable("c:ETHUSDT")

	snap := m.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot size = %d", len(snap))
	}
	if snap[0].Key != "a:BTCUSDT" || snap[0].Enabled || snap[0].DisabledUntil.IsZero() || snap[0].Manual {
		t.Errorf("unexpected first entry %+v", snap[0])
	}
	if snap[1].Key != "b:XRPUSDT" || !snap[1].Enabled {
		t.Errorf("unexpected second entry %+v", snap[1])
	}
	if snap[2].Key != "c:ETHUSDT" || snap[2].Enabled || !snap[2].Manual || !snap[2].DisabledUntil.IsZero() {
		t.Errorf("manual entry %+v", snap[2])
	}

	if !m.IsEnabled("unknown:PAIR") {
		t.Error("unknown pairs are enabled")
	}
}
