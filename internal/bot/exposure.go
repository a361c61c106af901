package bot

import (
	"sync"

	"scalper/internal/models"
)

// Параметры экспозиции
const (
	DefaultExposureDecay     = 0.95
	DefaultWorkerExposureCap = 1000.0
	globalExposureShare      = 0.5 // глобальный лимит - половина баланса
)

// ExposureSnapshot - состояние менеджера экспозиции
type ExposureSnapshot struct {
	Long  float64 `json:"long"`
	Short float64 `json:"short"`
	Net   float64 `json:"net"`
	Cap   float64 `json:"cap"`
}

// ExposureManager ограничивает нетто экспозицию в USDT
//
// Long и short копятся по исполнениям и уменьшаются закрытиями, не уходя
// ниже нуля. Периодический Decay постепенно освобождает лимит, если закрытие
// было потеряно.
type ExposureManager struct {
	long  float64
	short float64
	cap   float64
	mu    sync.Mutex
}

// NewExposureManager создаёт менеджер с лимитом limit
func NewExposureManager(limit float64) *ExposureManager {
	return &ExposureManager{cap: limit}
}

// CanOpenLong - long − short + notional <= cap
func (em *ExposureManager) CanOpenLong(notional float64) bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.long-em.short+notional <= em.cap
}

// CanOpenShort - |short − long + notional| <= cap
func (em *ExposureManager) CanOpenShort(notional float64) bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	v := em.short - em.long + notional
	if v < 0 {
		v = -v
	}
	return v <= em.cap
}

// Record учитывает сделку: buy/sell увеличивают, закрытия уменьшают
func (em *ExposureManager) Record(side models.TradeSide, notional float64) {
	em.mu.Lock()
	defer em.mu.Unlock()

	switch side {
	case models.TradeBuy:
		em.long += notional
	case models.TradeSell:
		em.short += notional
	case models.TradeCloseBuy:
		em.long -= notional
		if em.long < 0 {
			em.long = 0
		}
	case models.TradeCloseSell:
		em.short -= notional
		if em.short < 0 {
			em.short = 0
		}
	}
}

// Decay умножает обе стороны на factor
func (em *ExposureManager) Decay(factor float64) {
	if factor <= 0 || factor > 1 {
		factor = DefaultExposureDecay
	}
	em.mu.Lock()
	em.long *= factor
	em.short *= factor
	em.mu.Unlock()
}

// Net - long − short
func (em *ExposureManager) Net() float64 {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.long - em.short
}

// SetCap меняет лимит
func (em *ExposureManager) SetCap(limit float64) {
	em.mu.Lock()
	em.cap = limit
	em.mu.Unlock()
}

// Snapshot возвращает копию состояния
func (em *ExposureManager) Snapshot() ExposureSnapshot {
	em.mu.Lock()
	defer em.mu.Unlock()
	return ExposureSnapshot{Long: em.long, Short: em.short, Net: em.long - em.short, Cap: em.cap}
}

// ExposureRegistry - глобальный менеджер и менеджеры воркеров
type ExposureRegistry struct {
	global    *ExposureManager
	workerCap float64

	workers map[string]*ExposureManager
	mu      sync.RWMutex
}

// NewExposureRegistry создаёт реестр; глобальный лимит задаётся SetBalance
func NewExposureRegistry(workerCap float64) *ExposureRegistry {
	if workerCap <= 0 {
		workerCap = DefaultWorkerExposureCap
	}
	return &ExposureRegistry{
		global:    NewExposureManager(0),
		workerCap: workerCap,
		workers:   make(map[string]*ExposureManager),
	}
}

// SetBalance пересчитывает глобальный лимит: 50% баланса
func (r *ExposureRegistry) SetBalance(balance float64) {
	r.global.SetCap(balance * globalExposureShare)
}

// Global возвращает глобальный менеджер
func (r *ExposureRegistry) Global() *ExposureManager {
	return r.global
}

// Worker возвращает менеджер воркера, создавая его при первом обращении
func (r *ExposureRegistry) Worker(key string) *ExposureManager {
	r.mu.RLock()
	em, ok := r.workers[key]
	r.mu.RUnlock()
	if ok {
		return em
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if em, ok = r.workers[key]; ok {
		return em
	}
	em = NewExposureManager(r.workerCap)
	r.workers[key] = em
	return em
}

// CanOpen проверяет лимит воркера и глобальный лимит для стороны ордера
func (r *ExposureRegistry) CanOpen(key string, side models.Side, notional float64) bool {
	w := r.Worker(key)
	if side == models.SideBuy {
		return w.CanOpenLong(notional) && r.global.CanOpenLong(notional)
	}
	return w.CanOpenShort(notional) && r.global.CanOpenShort(notional)
}

// Record учитывает сделку в менеджере воркера и глобальном
func (r *ExposureRegistry) Record(key string, side models.TradeSide, notional float64) {
	r.Worker(key).Record(side, notional)
	r.global.Record(side, notional)
}

// DecayAll применяет затухание ко всем менеджерам
func (r *ExposureRegistry) DecayAll(factor float64) {
	r.global.Decay(factor)

	r.mu.RLock()
	workers := make([]*ExposureManager, 0, len(r.workers))
	for _, em := range r.workers {
		workers = append(workers, em)
	}
	r.mu.RUnlock()

	for _, em := range workers {
		em.Decay(factor)
	}
}
