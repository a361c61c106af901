package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Значения по умолчанию, взятые с запасом от лимитов бирж (20/s, 1200/min)
const (
	DefaultPerSecond = 18
	DefaultPerMinute = 1100

	// Ожидание, если окно переполнено, но самую старую запись определить нельзя
	fallbackSecondWait = 20 * time.Millisecond
	fallbackMinuteWait = 50 * time.Millisecond
)

// WindowLimiter - двойное скользящее окно (1 секунда и 60 секунд)
//
// Хранит метки времени принятых вызовов в двух очередях. Перед каждой
// проверкой из очередей удаляются записи старше окна. Вызов принимается,
// только если обе очереди ниже своих потолков. Иначе возвращается время,
// через которое освободится место в ограничивающем окне.
//
// Один WindowLimiter обслуживает все ордерные вызовы одной биржи
// (place/cancel/status), поэтому он общий для всех воркеров биржи.
type WindowLimiter struct {
	perSecond int
	perMinute int

	second []time.Time
	minute []time.Time

	now func() time.Time
	mu  sync.Mutex
}

// NewWindowLimiter создаёт лимитер с потолками perSecond и perMinute
func NewWindowLimiter(perSecond, perMinute int) *WindowLimiter {
	if perSecond <= 0 {
		perSecond = DefaultPerSecond
	}
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	return &WindowLimiter{
		perSecond: perSecond,
		perMinute: perMinute,
		second:    make([]time.Time, 0, perSecond),
		minute:    make([]time.Time, 0, perMinute),
		now:       time.Now,
	}
}

// evict удаляет записи старше окна. Вызывается под lock'ом
func evict(q []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(q) && now.Sub(q[i]) >= window {
		i++
	}
	if i == 0 {
		return q
	}
	return append(q[:0], q[i:]...)
}

// Allow пытается занять слот
//
// Возвращает:
//   - true, 0: вызов принят и учтён в обоих окнах
//   - false, wait: вызов отклонён, wait - рекомендуемая пауза
func (wl *WindowLimiter) Allow() (bool, time.Duration) {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	now := wl.now()
	wl.second = evict(wl.second, now, time.Second)
	wl.minute = evict(wl.minute, now, time.Minute)

	if len(wl.second) < wl.perSecond && len(wl.minute) < wl.perMinute {
		wl.second = append(wl.second, now)
		wl.minute = append(wl.minute, now)
		return true, 0
	}

	return false, wl.nextWaitLocked(now)
}

// nextWaitLocked считает паузу по самой старой записи ограничивающего окна
func (wl *WindowLimiter) nextWaitLocked(now time.Time) time.Duration {
	if len(wl.second) >= wl.perSecond {
		if len(wl.second) == 0 {
			return fallbackSecondWait
		}
		wait := time.Second - now.Sub(wl.second[0])
		if wait <= 0 {
			return fallbackSecondWait
		}
		return wait
	}
	if len(wl.minute) == 0 {
		return fallbackMinuteWait
	}
	wait := time.Minute - now.Sub(wl.minute[0])
	if wait <= 0 {
		return fallbackMinuteWait
	}
	return wait
}

// Wait блокирует до получения слота или отмены контекста
func (wl *WindowLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait := wl.Allow()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// WindowStats - заполненность окон
type WindowStats struct {
	PerSecond   int `json:"per_second"`
	PerMinute   int `json:"per_minute"`
	SecondLimit int `json:"second_limit"`
	MinuteLimit int `json:"minute_limit"`
}

// Stats возвращает текущую заполненность окон
func (wl *WindowLimiter) Stats() WindowStats {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	now := wl.now()
	wl.second = evict(wl.second, now, time.Second)
	wl.minute = evict(wl.minute, now, time.Minute)

	return WindowStats{
		PerSecond:   len(wl.second),
		PerMinute:   len(wl.minute),
		SecondLimit: wl.perSecond,
		MinuteLimit: wl.perMinute,
	}
}

// ============================================================
// WindowSet
// ============================================================

// WindowSet - по одному WindowLimiter на биржу
type WindowSet struct {
	limiters  map[string]*WindowLimiter
	perSecond int
	perMinute int
	mu        sync.Mutex
}

// NewWindowSet создаёт набор оконных лимитеров с общими потолками
func NewWindowSet(perSecond, perMinute int) *WindowSet {
	return &WindowSet{
		limiters:  make(map[string]*WindowLimiter),
		perSecond: perSecond,
		perMinute: perMinute,
	}
}

// Get возвращает лимитер биржи
func (ws *WindowSet) Get(exchange string) *WindowLimiter {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	l, ok := ws.limiters[exchange]
	if !ok {
		l = NewWindowLimiter(ws.perSecond, ws.perMinute)
		ws.limiters[exchange] = l
	}
	return l
}
