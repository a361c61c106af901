package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// math.go - математические утилиты для котирования
//
// Назначение:
// Округление цен и объёмов под требования биржи и базовые расчёты
// по книге (mid, относительный спред, PnL). Все функции чистые.
//
// Округление выполняется через decimal: float-деление 0.3/0.1 даёт
// 2.9999999999999996 и floor уводит результат на целый шаг вниз.

// RoundToTick округляет цену ВНИЗ до кратного tickSize.
//
// Округление вниз никогда не увеличивает цену покупки и не выходит
// за бюджет риска. Если tickSize <= 0, возвращается исходная цена.
//
// Примеры:
//   - RoundToTick(99.987, 0.01) = 99.98
//   - RoundToTick(0.3, 0.1) = 0.3
func RoundToTick(price, tickSize float64) float64 {
	return floorToMultiple(price, tickSize)
}

// RoundToStep округляет объём ВНИЗ до кратного stepSize.
//
// Примеры:
//   - RoundToStep(0.123456, 0.001) = 0.123
//   - RoundToStep(1.999, 0.01) = 1.99
func RoundToStep(size, stepSize float64) float64 {
	return floorToMultiple(size, stepSize)
}

func floorToMultiple(value, step float64) float64 {
	if step <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	result, _ := v.Div(s).Floor().Mul(s).Float64()
	return result
}

// StepDecimals возвращает количество знаков после запятой у шага (0.001 -> 3)
// Используется адаптерами бирж при форматировании цены и объёма
func StepDecimals(step float64) int32 {
	if step <= 0 {
		return 8
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// FormatByStep форматирует значение с точностью шага без экспоненты
func FormatByStep(value, step float64) string {
	return decimal.NewFromFloat(value).StringFixed(StepDecimals(step))
}

// MidPrice возвращает середину книги (bid+ask)/2
func MidPrice(bid, ask float64) float64 {
	return (bid + ask) / 2
}

// RelativeSpread возвращает (ask-bid)/base, где base обычно mid или bid.
// При base <= 0 возвращает 0.
func RelativeSpread(bid, ask, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return (ask - bid) / base
}

// CalculatePNL расчитывает прибыль/убыток по позиции.
//
//   - Long PNL = (P_close - P_open) × qty
//   - Short PNL = (P_open - P_close) × qty
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	if quantity <= 0 {
		return 0
	}

	switch side {
	case "long":
		return (currentPrice - entryPrice) * quantity
	case "short":
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// RelativeDiff возвращает |a-b|/b; при b == 0 возвращает +Inf, если a != b
func RelativeDiff(a, b float64) float64 {
	if b == 0 {
		if a == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(a-b) / math.Abs(b)
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
