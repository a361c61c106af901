package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/crypto"
	"scalper/pkg/utils"
)

type fakeView struct {
	disabled []string
}

func (f *fakeView) Summary() models.Summary {
	return models.Summary{Balance: 500, ActivePairs: 1}
}

func (f *fakeView) Positions() []models.Position { return nil }

func (f *fakeView) Orders() []models.OrderRecord { return nil }

func (f *fakeView) Pairs() []models.PairSummary {
	return []models.PairSummary{{Exchange: "paper", Symbol: "BTCUSDT", Enabled: true}}
}

func (f *fakeView) SetPairEnabled(key string, enabled bool) error {
	if key != "paper:BTCUSDT" {
		return exchange.NewKindError(exchange.KindNotFound, "pair is not traded")
	}
	if !enabled {
		f.disabled = append(f.disabled, key)
	}
	return nil
}

func TestNewRouter(t *testing.T) {
	hash, err := crypto.HashToken("token", 4)
	if err != nil {
		t.Fatal(err)
	}
	view := &fakeView{}
	var changed []models.PairSummary
	router := NewRouter(view, Options{
		TokenHash:      hash,
		Logger:         utils.NewNopLogger(),
		OnPairsChanged: func(p []models.PairSummary) { changed = p },
	})

	tests := []struct {
		name     string
		method   string
		path     string
		auth     bool
		wantCode int
		wantBody string
	}{
		{"health is public", http.MethodGet, "/health", false, http.StatusOK, "OK"},
		{"metrics are public", http.MethodGet, "/metrics", false, http.StatusOK, ""},
		{"summary requires token", http.MethodGet, "/api/v1/summary", false, http.StatusUnauthorized, ""},
		{"summary", http.MethodGet, "/api/v1/summary", true, http.StatusOK, `"balance":500`},
		{"pairs", http.MethodGet, "/api/v1/pairs", true, http.StatusOK, `"symbol":"BTCUSDT"`},
		{"positions", http.MethodGet, "/api/v1/positions", true, http.StatusOK, "[]"},
		{"orders", http.MethodGet, "/api/v1/orders", true, http.StatusOK, "[]"},
		{"disable", http.MethodPost, "/api/v1/pairs/paper/BTCUSDT/disable", true, http.StatusOK, "disabled"},
		{"unknown pair", http.MethodPost, "/api/v1/pairs/paper/XRPUSDT/enable", true, http.StatusNotFound, ""},
		{"wrong method", http.MethodPost, "/api/v1/summary", true, http.StatusMethodNotAllowed, ""},
		{"stream disabled", http.MethodGet, "/ws/stream", true, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth {
				req.Header.Set("Authorization", "Bearer token")
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}

	if len(view.disabled) != 1 || len(changed) != 1 {
		t.Errorf("disabled = %v, changed = %v", view.disabled, changed)
	}
}
