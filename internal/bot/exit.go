package bot

import (
	"time"

	"scalper/internal/models"
	"scalper/pkg/utils"
)

// ExitReason - причина закрытия позиции
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "take_profit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitTime         ExitReason = "time_exit"
	ExitManual       ExitReason = "manual"
)

// Уровни выхода по умолчанию, доли цены входа
const (
	DefaultTakeProfit     = 0.0015
	DefaultStopLoss       = 0.0010
	DefaultTrailingStop   = 0.0005
	DefaultPositionMaxAge = 5 * time.Minute
)

// ExitConfig - параметры выхода
type ExitConfig struct {
	TakeProfit   float64
	StopLoss     float64
	TrailingStop float64
	MaxAge       time.Duration
}

// DefaultExitConfig возвращает уровни по умолчанию
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		TakeProfit:   DefaultTakeProfit,
		StopLoss:     DefaultStopLoss,
		TrailingStop: DefaultTrailingStop,
		MaxAge:       DefaultPositionMaxAge,
	}
}

// applyExitLevels рассчитывает цены TP/SL и трейлинга по цене входа и экстремумам
func applyExitLevels(p *models.Position, cfg ExitConfig) {
	if p.IsLong() {
		p.TakeProfitPrice = p.EntryPrice * (1 + cfg.TakeProfit)
		p.StopLossPrice = p.EntryPrice * (1 - cfg.StopLoss)
		p.HighWaterMark = p.HighSinceEntry
		p.TrailingStopPrice = p.HighSinceEntry * (1 - cfg.TrailingStop)
		return
	}
	p.TakeProfitPrice = p.EntryPrice * (1 - cfg.TakeProfit)
	p.StopLossPrice = p.EntryPrice * (1 + cfg.StopLoss)
	p.HighWaterMark = p.LowSinceEntry
	p.TrailingStopPrice = p.LowSinceEntry * (1 + cfg.TrailingStop)
}

// EvaluateExit проверяет условия выхода по текущей цене
//
// Порядок проверки: take-profit, stop-loss, трейлинг, время.
// price - цена, по которой позиция закрылась бы сейчас (bid для long, ask для short).
func EvaluateExit(p *models.Position, price float64, now time.Time, cfg ExitConfig) (ExitReason, bool) {
	if p == nil || price <= 0 || p.EntryPrice <= 0 {
		return "", false
	}
	entry := p.EntryPrice

	if p.IsLong() {
		if price >= entry*(1+cfg.TakeProfit) {
			return ExitTakeProfit, true
		}
		if price <= entry*(1-cfg.StopLoss) {
			return ExitStopLoss, true
		}
		if high := p.HighSinceEntry; high > entry && price <= high*(1-cfg.TrailingStop) {
			return ExitTrailingStop, true
		}
	} else {
		if price <= entry*(1-cfg.TakeProfit) {
			return ExitTakeProfit, true
		}
		if price >= entry*(1+cfg.StopLoss) {
			return ExitStopLoss, true
		}
		if low := p.LowSinceEntry; low > 0 && low < entry && price >= low*(1+cfg.TrailingStop) {
			return ExitTrailingStop, true
		}
	}

	if cfg.MaxAge > 0 && p.Age(now) > cfg.MaxAge {
		return ExitTime, true
	}
	return "", false
}

// ClosePnL - PnL закрытия рыночным ордером с тейкерской комиссией
func ClosePnL(p *models.Position, fillPrice float64) float64 {
	gross := utils.CalculatePNL(string(p.Side), p.EntryPrice, fillPrice, p.Size)
	return gross - p.Size*fillPrice*TakerFee
}
