package bot

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/internal/notify"
	"scalper/pkg/utils"
)

// Параметры автоматического отключения пар
const (
	DefaultDisableDuration = 2 * time.Minute
	DefaultMaxPairErrors   = 3
	DefaultSweepHorizon    = 5 * time.Minute
)

// pairState - состояние одной пары
//
// errorCount - ошибки до следующего отключения, strikes - все критические
// ошибки с последней успешной операции. strikes переживает отключения и
// определяет их длительность. Ручное отключение снимается только Enable.
type pairState struct {
	errorCount    int
	strikes       int
	manual        bool
	disabledSince time.Time
	disabledUntil time.Time
}

func (s *pairState) disabled(now time.Time) bool {
	if s.manual {
		return true
	}
	return !s.disabledUntil.IsZero() && now.Before(s.disabledUntil)
}

// clearDisable снимает отключение, сохраняя strikes
func (s *pairState) clearDisable() {
	s.errorCount = 0
	s.manual = false
	s.disabledSince = time.Time{}
	s.disabledUntil = time.Time{}
}

// PairStatusManager - circuit breaker торговых пар
//
// Критические ошибки (exchange.IsCritical) копятся по паре. На maxErrors
// пара отключается на время, растущее с накопленным числом ошибок: повторные
// отключения без успешных ордеров между ними длиннее. Истёкшее отключение
// снимается лениво в IsEnabled и периодически в AutoReEnable.
type PairStatusManager struct {
	disableDuration time.Duration
	maxErrors       int
	sweepHorizon    time.Duration

	pairs    map[string]*pairState
	mu       sync.Mutex
	notifier notify.Notifier
	log      *utils.Logger

	now func() time.Time
}

// NewPairStatusManager создаёт менеджер с параметрами по умолчанию
func NewPairStatusManager(notifier notify.Notifier, log *utils.Logger) *PairStatusManager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = utils.L()
	}
	return &PairStatusManager{
		disableDuration: DefaultDisableDuration,
		maxErrors:       DefaultMaxPairErrors,
		sweepHorizon:    DefaultSweepHorizon,
		pairs:           make(map[string]*pairState),
		notifier:        notifier,
		log:             log.WithComponent("pair_status"),
		now:             time.Now,
	}
}

// stateLocked возвращает состояние пары, создавая его при первом обращении
func (m *PairStatusManager) stateLocked(key string) *pairState {
	st, ok := m.pairs[key]
	if !ok {
		st = &pairState{}
		m.pairs[key] = st
	}
	return st
}

// Track регистрирует пару, чтобы она попадала в Snapshot до первой ошибки
func (m *PairStatusManager) Track(key string) {
	m.mu.Lock()
	m.stateLocked(key)
	m.mu.Unlock()
	RecordPairEnabled(key, true)
}

// DisableDurationFor возвращает длительность отключения по числу ошибок
func DisableDurationFor(errorCount int) time.Duration {
	switch {
	case errorCount <= 2:
		return 5 * time.Minute
	case errorCount <= 5:
		return 15 * time.Minute
	case errorCount <= 10:
		return 30 * time.Minute
	default:
		return 60 * time.Minute
	}
}

// RecordError учитывает ошибку пары; некритические ошибки игнорируются
// Возвращает true, если пара была отключена
func (m *PairStatusManager) RecordError(key string, err error) bool {
	if err == nil || !exchange.IsCritical(err) {
		return false
	}

	m.mu.Lock()
	st := m.stateLocked(key)
	st.errorCount++
	st.strikes++
	count, strikes := st.errorCount, st.strikes
	m.mu.Unlock()

	m.log.Warn("pair error recorded",
		utils.String("pair", key), utils.Int("error_count", count),
		utils.Int("strikes", strikes), utils.Err(err))

	if count >= m.maxErrors {
		m.SmartDisable(key, strikes)
		return true
	}
	return false
}

// SmartDisable отключает пару на время по числу ошибок и сбрасывает счётчик
func (m *PairStatusManager) SmartDisable(key string, errorCount int) {
	m.disableFor(key, DisableDurationFor(errorCount), fmt.Sprintf("%d errors", errorCount), false)
}

// Disable отключает пару вручную до вызова Enable
// Ни истечение времени, ни AutoReEnable ручное отключение не снимают
func (m *PairStatusManager) Disable(key string) {
	m.disableFor(key, m.disableDuration, "manual", true)
}

func (m *PairStatusManager) disableFor(key string, d time.Duration, reason string, manual bool) {
	now := m.now()

	m.mu.Lock()
	st := m.stateLocked(key)
	st.disabledSince = now
	st.disabledUntil = now.Add(d)
	st.errorCount = 0
	st.manual = st.manual || manual
	m.mu.Unlock()

	PairDisabled.WithLabelValues(key).Inc()
	RecordPairEnabled(key, false)

	m.log.Warn("pair disabled",
		utils.String("pair", key), utils.Reason(reason), utils.Duration("duration", d), utils.Bool("manual", manual))
	if manual {
		m.notifier.Send(fmt.Sprintf("⛔ %s disabled until enabled manually", key))
		return
	}
	m.notifier.Send(fmt.Sprintf("⛔ %s disabled for %s (%s)", key, d, reason))
}

// Enable снимает отключение, включая ручное
func (m *PairStatusManager) Enable(key string) {
	m.mu.Lock()
	st := m.stateLocked(key)
	wasDisabled := st.disabled(m.now())
	st.clearDisable()
	m.mu.Unlock()

	RecordPairEnabled(key, true)
	if wasDisabled {
		m.log.Info("pair enabled", utils.String("pair", key))
	}
}

// IsEnabled проверяет пару; истёкшее отключение снимается с обнулением ошибок
func (m *PairStatusManager) IsEnabled(key string) bool {
	now := m.now()

	m.mu.Lock()
	st, ok := m.pairs[key]
	if !ok {
		m.mu.Unlock()
		return true
	}
	if st.disabled(now) {
		m.mu.Unlock()
		return false
	}
	expired := !st.disabledUntil.IsZero()
	if expired {
		st.clearDisable()
	}
	m.mu.Unlock()

	if expired {
		RecordPairEnabled(key, true)
		m.log.Info("pair re-enabled after cooldown", utils.String("pair", key))
	}
	return true
}

// ResetErrors обнуляет счётчики после успешной операции
func (m *PairStatusManager) ResetErrors(key string) {
	m.mu.Lock()
	if st, ok := m.pairs[key]; ok {
		st.errorCount = 0
		st.strikes = 0
	}
	m.mu.Unlock()
}

// Strikes возвращает число критических ошибок с последней успешной операции
func (m *PairStatusManager) Strikes(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.pairs[key]; ok {
		return st.strikes
	}
	return 0
}

// ErrorCount возвращает текущий счётчик ошибок
func (m *PairStatusManager) ErrorCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.pairs[key]; ok {
		return st.errorCount
	}
	return 0
}

// AutoReEnable включает пары, отключённые дольше sweepHorizon
// Ручные отключения не затрагиваются. Возвращает количество включённых пар
func (m *PairStatusManager) AutoReEnable() int {
	now := m.now()
	var enabled []string

	m.mu.Lock()
	for key, st := range m.pairs {
		if st.disabledSince.IsZero() || st.manual {
			continue
		}
		if !st.disabled(now) || now.Sub(st.disabledSince) >= m.sweepHorizon {
			st.clearDisable()
			enabled = append(enabled, key)
		}
	}
	m.mu.Unlock()

	for _, key := range enabled {
		RecordPairEnabled(key, true)
		m.log.Info("pair re-enabled by sweep", utils.String("pair", key))
	}
	return len(enabled)
}

// Snapshot возвращает состояние всех известных пар, отсортированное по ключу
func (m *PairStatusManager) Snapshot() []models.PairStatus {
	now := m.now()

	m.mu.Lock()
	out := make([]models.PairStatus, 0, len(m.pairs))
	for key, st := range m.pairs {
		ps := models.PairStatus{
			Key:        key,
			Enabled:    !st.disabled(now),
			ErrorCount: st.errorCount,
			Strikes:    st.strikes,
			Manual:     st.manual,
		}
		if !ps.Enabled {
			ps.DisabledSince = st.disabledSince
			if !st.manual {
				ps.DisabledUntil = st.disabledUntil
			}
		}
		out = append(out, ps)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Counts возвращает количество активных и отключённых пар
func (m *PairStatusManager) Counts() (active, disabled int) {
	for _, ps := range m.Snapshot() {
		if ps.Enabled {
			active++
		} else {
			disabled++
		}
	}
	return active, disabled
}
