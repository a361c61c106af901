package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/utils"
)

// Значения точности на случай, когда биржа не вернула параметры инструмента
var fallbackSymbols = map[string]models.SymbolInfo{
	"BTCUSDT": {TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinNotional: 5},
	"ETHUSDT": {TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinNotional: 5},
	"BNBUSDT": {TickSize: 0.001, StepSize: 0.01, MinQty: 0.01, MinNotional: 5},
}

var defaultFallbackSymbol = models.SymbolInfo{TickSize: 0.0001, StepSize: 0.0001, MinQty: 0.001, MinNotional: 10}

// FallbackSymbolInfo возвращает параметры по умолчанию для символа
func FallbackSymbolInfo(symbol string) models.SymbolInfo {
	info, ok := fallbackSymbols[symbol]
	if !ok {
		info = defaultFallbackSymbol
	}
	info.Symbol = symbol
	info.Status = models.SymbolStatusTrading
	info.Fallback = true
	info.UpdatedAt = time.Now()
	return info
}

// SymbolManager - кэш параметров точности инструментов по ключу exchange:symbol
type SymbolManager struct {
	exchanges map[string]exchange.Exchange
	timeout   time.Duration
	log       *utils.Logger

	symbols map[string]models.SymbolInfo
	mu      sync.RWMutex
}

// NewSymbolManager создаёт менеджер точности
func NewSymbolManager(exchanges map[string]exchange.Exchange, timeout time.Duration, log *utils.Logger) *SymbolManager {
	if log == nil {
		log = utils.L()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SymbolManager{
		exchanges: exchanges,
		timeout:   timeout,
		log:       log.WithComponent("symbols"),
		symbols:   make(map[string]models.SymbolInfo),
	}
}

// Load запрашивает параметры инструмента; при ошибке сохраняет значения по умолчанию
// Возвращённая ошибка информационная: SymbolInfo заполнен всегда
func (sm *SymbolManager) Load(ctx context.Context, exchangeName, symbol string) (models.SymbolInfo, error) {
	info, err := sm.fetch(ctx, exchangeName, symbol)
	if err != nil {
		info = FallbackSymbolInfo(symbol)
		sm.log.Warn("symbol info unavailable, using defaults",
			utils.Exchange(exchangeName), utils.Symbol(symbol),
			utils.Float64("tick", info.TickSize), utils.Float64("step", info.StepSize),
			utils.Err(err))
	}

	sm.mu.Lock()
	sm.symbols[models.PairKey(exchangeName, symbol)] = info
	sm.mu.Unlock()

	return info, err
}

func (sm *SymbolManager) fetch(ctx context.Context, exchangeName, symbol string) (models.SymbolInfo, error) {
	ex, ok := sm.exchanges[exchangeName]
	if !ok {
		return models.SymbolInfo{}, fmt.Errorf("unknown exchange %s", exchangeName)
	}

	reqCtx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	limits, err := ex.GetLimits(reqCtx, symbol)
	if err != nil {
		return models.SymbolInfo{}, err
	}
	if limits.PriceStep <= 0 || limits.QtyStep <= 0 {
		return models.SymbolInfo{}, fmt.Errorf("exchange returned empty precision for %s", symbol)
	}

	status := limits.Status
	if status == "" {
		status = models.SymbolStatusTrading
	}

	return models.SymbolInfo{
		Symbol:      symbol,
		TickSize:    limits.PriceStep,
		StepSize:    limits.QtyStep,
		MinQty:      limits.MinOrderQty,
		MinNotional: limits.MinNotional,
		Status:      status,
		UpdatedAt:   time.Now(),
	}, nil
}

// Get возвращает параметры из кэша
func (sm *SymbolManager) Get(exchangeName, symbol string) (models.SymbolInfo, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	info, ok := sm.symbols[models.PairKey(exchangeName, symbol)]
	return info, ok
}

// GetOrLoad возвращает параметры из кэша или загружает их
func (sm *SymbolManager) GetOrLoad(ctx context.Context, exchangeName, symbol string) models.SymbolInfo {
	if info, ok := sm.Get(exchangeName, symbol); ok {
		return info
	}
	info, _ := sm.Load(ctx, exchangeName, symbol)
	return info
}

// RefreshAll перечитывает все закэшированные инструменты
// Снимок ключей берётся под блокировкой, запросы идут без неё
func (sm *SymbolManager) RefreshAll(ctx context.Context) {
	sm.mu.RLock()
	keys := make([]string, 0, len(sm.symbols))
	for key := range sm.symbols {
		keys = append(keys, key)
	}
	sm.mu.RUnlock()

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		exchangeName, symbol := models.SplitPairKey(key)
		info, err := sm.fetch(ctx, exchangeName, symbol)
		if err != nil {
			// последнее известное значение остаётся в кэше
			sm.log.Debug("symbol refresh failed", utils.Exchange(exchangeName), utils.Symbol(symbol), utils.Err(err))
			continue
		}
		sm.mu.Lock()
		sm.symbols[key] = info
		sm.mu.Unlock()
	}
}

// Snapshot возвращает копию кэша
func (sm *SymbolManager) Snapshot() map[string]models.SymbolInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make(map[string]models.SymbolInfo, len(sm.symbols))
	for k, v := range sm.symbols {
		out[k] = v
	}
	return out
}

// RoundPrice округляет цену вниз до тика инструмента
func (sm *SymbolManager) RoundPrice(exchangeName, symbol string, price float64) float64 {
	info, ok := sm.Get(exchangeName, symbol)
	if !ok {
		info = FallbackSymbolInfo(symbol)
	}
	return utils.RoundToTick(price, info.TickSize)
}

// RoundSize округляет объём вниз до шага инструмента
func (sm *SymbolManager) RoundSize(exchangeName, symbol string, size float64) float64 {
	info, ok := sm.Get(exchangeName, symbol)
	if !ok {
		info = FallbackSymbolInfo(symbol)
	}
	return utils.RoundToStep(size, info.StepSize)
}

// ValidateOrder проверяет округлённый ордер против ограничений инструмента
func ValidateOrder(price, size, minQty, minNotional float64) error {
	if price <= 0 {
		return fmt.Errorf("%w: price %.8f", ErrInvalidPrice, price)
	}
	if size <= 0 {
		return fmt.Errorf("%w: size %.8f", ErrOrderTooSmall, size)
	}
	if size < minQty {
		return fmt.Errorf("%w: size %.8f < min qty %.8f", ErrOrderTooSmall, size, minQty)
	}
	if notional := price * size; notional < minNotional {
		return fmt.Errorf("%w: notional %.4f < min notional %.4f", ErrOrderTooSmall, notional, minNotional)
	}
	return nil
}
