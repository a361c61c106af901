package bot

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ============================================================
// MinSpreadForPair Tests
// ============================================================

func TestTierMultiplier(t *testing.T) {
	tests := []struct {
		symbol   string
		expected float64
	}{
		{"BTCUSDT", 1.0},
		{"ETHUSDT", 1.0},
		{"solusdt", 1.1},
		{"BNBUSDT", 1.1},
		{"DOGEUSDT", 1.2},
		{"PEPEUSDT", 1.2},
		{"1000PEPEUSDT", 1.5},
		{"ETHFIUSDT", 1.5}, // совпадает только базовый актив целиком
		{"BTCDOMUSDT", 1.5},
		{"SOLVUSDT", 1.5},
		{"AIXBTUSDT", 1.5},
		{"OPENUSDT", 1.5},
		{"ARBUSDT", 1.3},
		{"AAVEUSDT", 1.3},
		{"SEIUSDT", 1.4},
		{"AIUSDT", 1.4},
		{"OPUSDT", 1.3},
		{"XRPUSDT", 1.5},
		{"LINKUSDT", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := TierMultiplier(tt.symbol); got != tt.expected {
				t.Errorf("TierMultiplier(%s) = %v, want %v", tt.symbol, got, tt.expected)
			}
		})
	}
}

func TestMinSpreadForPair(t *testing.T) {
	if !approx(BaseSpread(), 0.0005) {
		t.Fatalf("BaseSpread = %v, want 0.0005", BaseSpread())
	}
	if got := MinSpreadForPair("BTCUSDT"); !approx(got, 0.0005) {
		t.Errorf("BTC min spread = %v", got)
	}
	if got := MinSpreadForPair("XRPUSDT"); !approx(got, 0.00075) {
		t.Errorf("XRP min spread = %v", got)
	}
}

// ============================================================
// SpreadCalculator Tests
// ============================================================

func TestSpreadCalculatorCalculate(t *testing.T) {
	tests := []struct {
		name     string
		input    SpreadInput
		spread   float64
		required float64
	}{
		{
			name:     "calm market uses base",
			input:    SpreadInput{Symbol: "BTCUSDT"},
			spread:   0.0005,
			required: 0.0005,
		},
		{
			name:     "trend addon",
			input:    SpreadInput{Symbol: "BTCUSDT", TrendStrength: -0.004},
			spread:   0.001,
			required: 0.001,
		},
		{
			name:     "trend below threshold",
			input:    SpreadInput{Symbol: "BTCUSDT", TrendStrength: 0.002},
			spread:   0.0005,
			required: 0.0005,
		},
		{
			name:     "high volatility clamped to 3x base",
			input:    SpreadInput{Symbol: "BTCUSDT", Volatility: 0.006},
			spread:   0.0015,
			required: 0.0015,
		},
		{
			name:     "risk mode widens",
			input:    SpreadInput{Symbol: "BTCUSDT", RiskMode: true},
			spread:   0.00075,
			required: 0.00075,
		},
		{
			name:     "tier base with trend",
			input:    SpreadInput{Symbol: "XRPUSDT", Volatility: 0.001, TrendStrength: 0.004},
			spread:   0.00125,
			required: 0.00125,
		},
	}

	sc := NewSpreadCalculator(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sc.Calculate(tt.input)
			if !approx(res.Spread, tt.spread) {
				t.Errorf("Spread = %v, want %v", res.Spread, tt.spread)
			}
			if !approx(res.Required, tt.required) {
				t.Errorf("Required = %v, want %v", res.Required, tt.required)
			}
			if res.Spread < res.Base || res.Spread > res.Base*maxSpreadMultiplier+1e-12 {
				t.Errorf("Spread %v out of [%v, %v]", res.Spread, res.Base, res.Base*maxSpreadMultiplier)
			}
		})
	}
}

func TestSpreadCalculatorMinSpreadFloor(t *testing.T) {
	sc := NewSpreadCalculator(0.002)
	res := sc.Calculate(SpreadInput{Symbol: "BTCUSDT"})

	if !approx(res.Spread, 0.0005) {
		t.Errorf("quote spread must stay at base, got %v", res.Spread)
	}
	if !approx(res.Required, 0.002) {
		t.Errorf("Required = %v, want 0.002", res.Required)
	}
}

// ============================================================
// QuotePrices / SpreadHistory Tests
// ============================================================

func TestQuotePrices(t *testing.T) {
	buy, sell := QuotePrices(100, 0.00123, 0.01)
	if !approx(buy, 99.87) {
		t.Errorf("buy = %v, want 99.87", buy)
	}
	if !approx(sell, 100.12) {
		t.Errorf("sell = %v, want 100.12", sell)
	}
	if buy >= 100 || sell <= 100 {
		t.Error("quotes must straddle mid")
	}
}

func TestSpreadHistory(t *testing.T) {
	h := NewSpreadHistory(3)
	if h.Average() != 0 {
		t.Error("empty history average must be 0")
	}

	for _, v := range []float64{1, 2, 3, 4} {
		h.Add(v)
	}

	if h.Len() != 3 {
		t.Errorf("Len = %d, want 3", h.Len())
	}
	// 1 вытеснено: (2+3+4)/3
	if !approx(h.Average(), 3) {
		t.Errorf("Average = %v, want 3", h.Average())
	}

	if NewSpreadHistory(0).size != SpreadHistorySize {
		t.Error("default size must be SpreadHistorySize")
	}
}
