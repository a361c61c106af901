package handlers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"scalper/internal/exchange"
	"scalper/internal/models"
)

// ============ Mock EngineView ============

type mockView struct {
	mu        sync.Mutex
	summary   models.Summary
	positions []models.Position
	orders    []models.OrderRecord
	pairs     map[string]bool
}

func newMockView() *mockView {
	return &mockView{pairs: map[string]bool{"bybit:BTCUSDT": true}}
}

func (m *mockView) Summary() models.Summary { return m.summary }

func (m *mockView) Positions() []models.Position { return m.positions }

func (m *mockView) Orders() []models.OrderRecord { return m.orders }

func (m *mockView) Pairs() []models.PairSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PairSummary
	for key, enabled := range m.pairs {
		ex, sym := models.SplitPairKey(key)
		out = append(out, models.PairSummary{Exchange: ex, Symbol: sym, Enabled: enabled})
	}
	return out
}

func (m *mockView) SetPairEnabled(key string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pairs[key]; !ok {
		return exchange.NewKindError(exchange.KindNotFound, "pair is not traded")
	}
	m.pairs[key] = enabled
	return nil
}

func (m *mockView) enabled(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairs[key]
}

// ============ StatusHandler Tests ============

func TestStatusHandler_GetSummary(t *testing.T) {
	view := newMockView()
	view.summary = models.Summary{Balance: 1000, DailyPnL: -12.5, OpenPositions: 3}
	handler := NewStatusHandler(view)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil)
	w := httptest.NewRecorder()
	handler.GetSummary(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var response models.Summary
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Balance != 1000 || response.DailyPnL != -12.5 || response.OpenPositions != 3 {
		t.Errorf("unexpected summary: %+v", response)
	}
}

func TestStatusHandler_EmptyListsAreArrays(t *testing.T) {
	handler := NewStatusHandler(newMockView())

	tests := []struct {
		name string
		fn   http.HandlerFunc
	}{
		{"positions", handler.GetPositions},
		{"orders", handler.GetOrders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.fn(w, httptest.NewRequest(http.MethodGet, "/", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if body := w.Body.String(); body != "[]\n" {
				t.Errorf("body = %q, want empty array", body)
			}
		})
	}
}

func TestStatusHandler_GetPositions(t *testing.T) {
	view := newMockView()
	view.positions = []models.Position{
		{ID: "p1", Exchange: "bybit", Symbol: "BTCUSDT", Side: models.SideLong, EntryPrice: 100, Size: 0.1},
	}
	handler := NewStatusHandler(view)

	w := httptest.NewRecorder()
	handler.GetPositions(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))

	var response []models.Position
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response) != 1 || response[0].ID != "p1" || response[0].Side != models.SideLong {
		t.Errorf("unexpected positions: %+v", response)
	}
}

func TestStatusHandler_SetPairEnabled(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		initial  bool
		wantCode int
		wantOn   bool
	}{
		{"disable known pair", "/api/v1/pairs/bybit/BTCUSDT/disable", true, http.StatusOK, false},
		{"enable known pair lowercase", "/api/v1/pairs/Bybit/btcusdt/enable", false, http.StatusOK, true},
		{"unknown pair", "/api/v1/pairs/bybit/DOGEUSDT/disable", true, http.StatusNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := newMockView()
			view.pairs["bybit:BTCUSDT"] = tt.initial
			handler := NewStatusHandler(view)

			var changed int
			handler.OnPairsChanged(func([]models.PairSummary) { changed++ })

			router := mux.NewRouter()
			router.HandleFunc("/api/v1/pairs/{exchange}/{symbol}/enable", handler.EnablePair).Methods(http.MethodPost)
			router.HandleFunc("/api/v1/pairs/{exchange}/{symbol}/disable", handler.DisablePair).Methods(http.MethodPost)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, nil))

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if got := view.enabled("bybit:BTCUSDT"); got != tt.wantOn {
				t.Errorf("enabled = %v, want %v", got, tt.wantOn)
			}
			if tt.wantCode == http.StatusOK && changed != 1 {
				t.Errorf("OnPairsChanged calls = %d", changed)
			}
			if tt.wantCode != http.StatusOK {
				var resp ErrorResponse
				json.NewDecoder(w.Body).Decode(&resp)
				if resp.Code != "PAIR_NOT_FOUND" || changed != 0 {
					t.Errorf("error response = %+v, changed = %d", resp, changed)
				}
			}
		})
	}
}

func TestStatusHandler_NilView(t *testing.T) {
	handler := NewStatusHandler(nil)

	w := httptest.NewRecorder()
	handler.GetSummary(w, httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}
