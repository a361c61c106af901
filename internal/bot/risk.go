package bot

import (
	"fmt"
	"sync"
	"time"

	"scalper/internal/models"
	"scalper/internal/notify"
	"scalper/pkg/utils"
)

// Параметры риск-менеджера по умолчанию
const (
	DefaultMaxPositions  = 10
	DefaultDailyStopLoss = 300.0
	TradeHistorySize     = 1000
	RollingWindowTrades  = 10
	RiskModeLossStreak   = 3
	maxDailyLossFraction = 0.02 // информационный лимит, 2% баланса
	maxOrderBalanceShare = 0.5  // ордер не больше половины баланса
	orderBalanceHeadroom = 1.1  // запас под комиссии и проскальзывание
)

// RiskManager - централизованный учёт риска
//
// Функции:
// - Дневной PnL с автоматическим сбросом в начале UTC суток
// - Дневной стоп: новые входы запрещены, выходы продолжаются
// - Лимит открытых позиций
// - Кольцевой буфер последних сделок и скользящий PnL
// - Режим риска после нескольких подряд отрицательных окон
type RiskManager struct {
	mu sync.RWMutex

	balance       float64
	maxDailyLoss  float64
	dailyStopLoss float64
	dailyPnL      float64
	dayStart      time.Time

	trades     []models.Trade // кольцевой буфер
	tradeHead  int
	tradeCount int

	openPositions int
	maxPositions  int

	lossStreak        int
	dailyStopNotified bool

	notifier notify.Notifier
	log      *utils.Logger
	now      func() time.Time
}

// NewRiskManager создаёт риск-менеджер
func NewRiskManager(dailyStopLoss float64, maxPositions int, notifier notify.Notifier, log *utils.Logger) *RiskManager {
	if dailyStopLoss <= 0 {
		dailyStopLoss = DefaultDailyStopLoss
	}
	if maxPositions <= 0 {
		maxPositions = DefaultMaxPositions
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = utils.L()
	}
	rm := &RiskManager{
		dailyStopLoss: dailyStopLoss,
		maxPositions:  maxPositions,
		trades:        make([]models.Trade, TradeHistorySize),
		notifier:      notifier,
		log:           log.WithComponent("risk"),
		now:           func() time.Time { return time.Now().UTC() },
	}
	rm.dayStart = utils.GetDayStartFrom(rm.now())
	return rm
}

// rollDayLocked сбрасывает дневные счётчики при смене UTC суток
func (rm *RiskManager) rollDayLocked() {
	start := utils.GetDayStartFrom(rm.now())
	if start.Equal(rm.dayStart) {
		return
	}
	rm.log.Info("new trading day, daily pnl reset",
		utils.PNL(rm.dailyPnL), utils.Time("day_start", start))
	rm.dayStart = start
	rm.dailyPnL = 0
	rm.dailyStopNotified = false
	DailyPnL.Set(0)
}

// ResetDay принудительно сбрасывает дневной PnL
func (rm *RiskManager) ResetDay() {
	rm.mu.Lock()
	rm.dayStart = utils.GetDayStartFrom(rm.now())
	rm.dailyPnL = 0
	rm.dailyStopNotified = false
	rm.mu.Unlock()
	DailyPnL.Set(0)
}

// SetBalance обновляет баланс и информационный лимит дневного убытка
func (rm *RiskManager) SetBalance(balance float64) {
	rm.mu.Lock()
	rm.balance = balance
	rm.maxDailyLoss = balance * maxDailyLossFraction
	rm.mu.Unlock()
}

// Balance возвращает баланс
func (rm *RiskManager) Balance() float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.balance
}

// MaxDailyLoss возвращает информационный лимит дневного убытка (2% баланса)
func (rm *RiskManager) MaxDailyLoss() float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.maxDailyLoss
}

// AvailableBalance - баланс с учётом дневного результата, не меньше нуля
func (rm *RiskManager) AvailableBalance() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollDayLocked()
	return utils.Max(rm.balance+rm.dailyPnL, 0)
}

// DailyPnL возвращает PnL с начала UTC суток
func (rm *RiskManager) DailyPnL() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollDayLocked()
	return rm.dailyPnL
}

// RecordTrade учитывает сделку
func (rm *RiskManager) RecordTrade(trade models.Trade) {
	if trade.Timestamp.IsZero() {
		trade.Timestamp = rm.now()
	}

	rm.mu.Lock()
	rm.rollDayLocked()

	rm.trades[rm.tradeHead] = trade
	rm.tradeHead = (rm.tradeHead + 1) % len(rm.trades)
	if rm.tradeCount < len(rm.trades) {
		rm.tradeCount++
	}

	rm.dailyPnL += trade.PnL
	dailyPnL := rm.dailyPnL

	if rm.rollingPnLLocked(RollingWindowTrades) < 0 {
		rm.lossStreak++
	} else {
		rm.lossStreak = 0
	}

	notifyStop := rm.breachedLocked() && !rm.dailyStopNotified
	if notifyStop {
		rm.dailyStopNotified = true
	}
	rm.mu.Unlock()

	DailyPnL.Set(dailyPnL)

	if notifyStop {
		rm.log.Error("daily stop loss reached, entries stopped",
			utils.PNL(dailyPnL), utils.Float64("limit", rm.dailyStopLoss))
		rm.notifier.Send(fmt.Sprintf("🛑 Daily stop reached: PnL %.2f USDT (limit -%.2f). New entries stopped.",
			dailyPnL, rm.dailyStopLoss))
	}
}

// RecentTrades возвращает до n последних сделок, от старых к новым
func (rm *RiskManager) RecentTrades(n int) []models.Trade {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.recentLocked(n)
}

func (rm *RiskManager) recentLocked(n int) []models.Trade {
	if n <= 0 || n > rm.tradeCount {
		n = rm.tradeCount
	}
	out := make([]models.Trade, n)
	size := len(rm.trades)
	start := (rm.tradeHead - n + size) % size
	for i := 0; i < n; i++ {
		out[i] = rm.trades[(start+i)%size]
	}
	return out
}

// RollingPnL - сумма PnL последних n сделок
func (rm *RiskManager) RollingPnL(n int) float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.rollingPnLLocked(n)
}

func (rm *RiskManager) rollingPnLLocked(n int) float64 {
	var sum float64
	for _, t := range rm.recentLocked(n) {
		sum += t.PnL
	}
	return sum
}

// LossStreak - число подряд отрицательных скользящих окон
func (rm *RiskManager) LossStreak() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.lossStreak
}

// RiskMode - серия убыточных окон, спред расширяется
func (rm *RiskManager) RiskMode() bool {
	return rm.LossStreak() >= RiskModeLossStreak
}

func (rm *RiskManager) breachedLocked() bool {
	return rm.dailyPnL <= -rm.dailyStopLoss
}

// DailyStopBreached - дневной убыток достиг лимита
func (rm *RiskManager) DailyStopBreached() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollDayLocked()
	return rm.breachedLocked()
}

// CanTrade проверяет, разрешены ли новые входы
func (rm *RiskManager) CanTrade() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollDayLocked()

	if rm.breachedLocked() {
		return fmt.Errorf("%w: pnl %.2f", ErrDailyStop, rm.dailyPnL)
	}
	if rm.openPositions >= rm.maxPositions {
		return fmt.Errorf("%w: %d/%d", ErrMaxPositions, rm.openPositions, rm.maxPositions)
	}
	return nil
}

// ValidateOrderSize проверяет ограничения инструмента и долю баланса
func (rm *RiskManager) ValidateOrderSize(size, price, minQty, minNotional float64) error {
	if err := ValidateOrder(price, size, minQty, minNotional); err != nil {
		return err
	}
	balance := rm.Balance()
	if limit := balance * maxOrderBalanceShare; price*size > limit {
		return fmt.Errorf("%w: notional %.2f > %.2f", ErrOrderTooLarge, price*size, limit)
	}
	return nil
}

// CheckBalance - ордер с запасом 10% помещается в половину доступного баланса
func (rm *RiskManager) CheckBalance(notional float64) error {
	available := rm.AvailableBalance()
	if notional*orderBalanceHeadroom > available*maxOrderBalanceShare {
		return fmt.Errorf("%w: need %.2f, available %.2f", ErrInsufficientBalance,
			notional*orderBalanceHeadroom, available*maxOrderBalanceShare)
	}
	return nil
}

// ============ Позиции ============

// IncPositions увеличивает счётчик открытых позиций
func (rm *RiskManager) IncPositions() {
	rm.mu.Lock()
	rm.openPositions++
	rm.mu.Unlock()
}

// DecPositions уменьшает счётчик, не ниже нуля
func (rm *RiskManager) DecPositions() {
	rm.mu.Lock()
	if rm.openPositions > 0 {
		rm.openPositions--
	}
	rm.mu.Unlock()
}

// SetPositions задаёт счётчик (восстановление при старте)
func (rm *RiskManager) SetPositions(n int) {
	rm.mu.Lock()
	rm.openPositions = n
	rm.mu.Unlock()
}

// OpenPositions возвращает счётчик открытых позиций
func (rm *RiskManager) OpenPositions() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.openPositions
}
