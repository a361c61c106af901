package bot

import (
	"sync"

	"scalper/pkg/utils"
)

// Комиссии и маржа прибыли
const (
	MakerFee        = 0.0002
	TakerFee        = 0.0005
	MinProfitMargin = 0.0001

	// FillCommission - комиссия при оценке PnL исполнения лимитки
	FillCommission = 0.00038
)

// Надбавки калькулятора спреда
const (
	trendSpreadThreshold = 0.003  // |trend| выше - надбавка trendSpreadAddon
	trendSpreadAddon     = 0.0005 // фиксированная надбавка при тренде
	volSpreadThreshold   = 0.005  // волатильность выше - надбавка vol × volSpreadFactor
	volSpreadFactor      = 0.5
	riskModeFactor       = 0.5 // режим риска: + base × riskModeFactor
	maxSpreadMultiplier  = 3.0

	SpreadHistorySize = 20
)

// spreadTier - класс ликвидности по базовому активу
type spreadTier struct {
	multiplier float64
	assets     []string
}

// Базовый актив сравнивается целиком: ETHFI и BTCDOM не наследуют класс ETH и BTC
var spreadTiers = []spreadTier{
	{1.0, []string{"BTC", "ETH"}},
	{1.1, []string{"SOL", "BNB"}},
	{1.2, []string{"DOGE", "PEPE", "FIL", "BLUR"}},
	{1.3, []string{"OP", "SHIB", "WLD", "ARB", "SUI", "ATOM", "AAVE"}},
	{1.4, []string{"MEME", "AI", "SEI", "AEVO"}},
}

const defaultTierMultiplier = 1.5

// BaseSpread - спред, окупающий две мейкерских комиссии и минимальную прибыль
func BaseSpread() float64 {
	return 2*MakerFee + MinProfitMargin
}

// TierMultiplier возвращает множитель класса ликвидности символа
func TierMultiplier(symbol string) float64 {
	base := utils.BaseAsset(utils.NormalizeSymbol(symbol))
	for _, tier := range spreadTiers {
		for _, asset := range tier.assets {
			if base == asset {
				return tier.multiplier
			}
		}
	}
	return defaultTierMultiplier
}

// MinSpreadForPair - минимальный спред пары, ниже которого котирование убыточно
func MinSpreadForPair(symbol string) float64 {
	return BaseSpread() * TierMultiplier(symbol)
}

// SpreadInput - входные данные калькулятора
type SpreadInput struct {
	Symbol        string
	Volatility    float64
	TrendStrength float64
	RollingPnL    float64
	RiskMode      bool
	TickMoves     []float64
	PrevAvgSpread float64
}

// SpreadResult - результат расчёта
type SpreadResult struct {
	Base     float64 // MinSpreadForPair
	Spread   float64 // спред котирования, в [Base, 3×Base]
	Required float64 // минимальный рыночный спред для котирования
}

// SpreadCalculator - адаптивный спред
//
// Алгоритм:
//  1. spread = base
//  2. |trend| > 0.003: + 0.0005
//  3. vol > 0.005: + vol × 0.5
//  4. режим риска: + base × 0.5
//  5. clamp(spread, base, 3×base)
//
// MinSpread из конфигурации поднимает только Required.
type SpreadCalculator struct {
	minSpread float64
}

// NewSpreadCalculator создаёт калькулятор; minSpread - дополнительный пол Required (0 = нет)
func NewSpreadCalculator(minSpread float64) *SpreadCalculator {
	return &SpreadCalculator{minSpread: minSpread}
}

// Calculate рассчитывает спред котирования
func (sc *SpreadCalculator) Calculate(in SpreadInput) SpreadResult {
	base := MinSpreadForPair(in.Symbol)
	spread := base

	if utils.Abs(in.TrendStrength) > trendSpreadThreshold {
		spread += trendSpreadAddon
	}
	if in.Volatility > volSpreadThreshold {
		spread += in.Volatility * volSpreadFactor
	}
	if in.RiskMode {
		spread += base * riskModeFactor
	}

	spread = utils.Clamp(spread, base, base*maxSpreadMultiplier)

	required := utils.Max(base, spread)
	if sc.minSpread > required {
		required = sc.minSpread
	}

	return SpreadResult{Base: base, Spread: spread, Required: required}
}

// QuotePrices возвращает цены котирования, округлённые вниз до тика
func QuotePrices(mid, spread, tick float64) (buy, sell float64) {
	buy = utils.RoundToTick(mid*(1-spread), tick)
	sell = utils.RoundToTick(mid*(1+spread), tick)
	return buy, sell
}

// SpreadHistory - последние рассчитанные спреды пары
type SpreadHistory struct {
	values []float64
	size   int
	mu     sync.Mutex
}

// NewSpreadHistory создаёт историю на size значений
func NewSpreadHistory(size int) *SpreadHistory {
	if size <= 0 {
		size = SpreadHistorySize
	}
	return &SpreadHistory{values: make([]float64, 0, size), size: size}
}

// Add добавляет значение, вытесняя самое старое
func (h *SpreadHistory) Add(spread float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.values) == h.size {
		copy(h.values, h.values[1:])
		h.values = h.values[:h.size-1]
	}
	h.values = append(h.values, spread)
}

// Average возвращает среднее; 0 для пустой истории
func (h *SpreadHistory) Average() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range h.values {
		sum += v
	}
	return sum / float64(len(h.values))
}

// Len возвращает количество значений
func (h *SpreadHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.values)
}
