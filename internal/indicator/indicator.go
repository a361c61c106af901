// Package indicator - чистые функции над рядами цен
//
// Все функции без состояния и безопасны для конкурентного вызова.
// Ряды передаются от старых значений к новым.
package indicator

import "math"

// Константы индикаторов
const (
	// MinSpreadFloor - нижняя граница SpreadFloored
	MinSpreadFloor = 0.00005

	// EngineVolatilityDefault - волатильность движка при коротком ряде
	EngineVolatilityDefault = 0.001
	engineVolatilityMinLen  = 10
	engineVolatilityMin     = 0.0005
	engineVolatilityMax     = 0.05

	trendShort = 5
	trendLong  = 20

	rsiNeutral = 50.0
)

// returns - простые доходности соседних точек, пары с prev <= 0 пропускаются
func returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev <= 0 {
			continue
		}
		out = append(out, (prices[i]-prev)/prev)
	}
	return out
}

// Volatility - стандартное отклонение (генеральное) простых доходностей
// 0 для рядов короче 2 точек
func Volatility(prices []float64) float64 {
	r := returns(prices)
	if len(r) == 0 {
		return 0
	}

	var sum float64
	for _, v := range r {
		sum += v
	}
	mean := sum / float64(len(r))

	var sq float64
	for _, v := range r {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(r)))
}

// EngineVolatility - средний модуль доходности, ограниченный [0.0005, 0.05]
// Для рядов короче 10 точек возвращает 0.001
func EngineVolatility(prices []float64) float64 {
	if len(prices) < engineVolatilityMinLen {
		return EngineVolatilityDefault
	}
	r := returns(prices)
	if len(r) == 0 {
		return EngineVolatilityDefault
	}

	var sum float64
	for _, v := range r {
		sum += math.Abs(v)
	}
	avg := sum / float64(len(r))
	return math.Max(engineVolatilityMin, math.Min(engineVolatilityMax, avg))
}

// Spread - относительный спред (ask-bid)/bid, 0 при bid <= 0
func Spread(bid, ask float64) float64 {
	if bid <= 0 {
		return 0
	}
	return (ask - bid) / bid
}

// SpreadFloored - Spread, но не меньше MinSpreadFloor
func SpreadFloored(bid, ask float64) float64 {
	return math.Max(Spread(bid, ask), MinSpreadFloor)
}

// RSI - индекс относительной силы по последним period изменениям
//
//   - меньше period+1 точек: 50
//   - нет потерь (включая плоский ряд): 100
//   - нет прибыли: 0
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return rsiNeutral
	}

	tail := prices[len(prices)-period-1:]
	var gains, losses float64
	for i := 1; i < len(tail); i++ {
		d := tail[i] - tail[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}

	if losses == 0 {
		return 100
	}
	if gains == 0 {
		return 0
	}
	return 100 - 100/(1+gains/losses)
}

// MovingAverage - среднее последних n значений
// Если значений меньше n, берётся весь ряд. 0 для пустого ряда
func MovingAverage(prices []float64, n int) float64 {
	if len(prices) == 0 || n <= 0 {
		return 0
	}
	if n > len(prices) {
		n = len(prices)
	}
	var sum float64
	for _, p := range prices[len(prices)-n:] {
		sum += p
	}
	return sum / float64(n)
}

// TrendStrength - (MA5 - MA20) / MA20
// 0 при ряде короче 20 точек или MA20 <= 0
func TrendStrength(prices []float64) float64 {
	if len(prices) < trendLong {
		return 0
	}
	long := MovingAverage(prices, trendLong)
	if long <= 0 {
		return 0
	}
	return (MovingAverage(prices, trendShort) - long) / long
}
