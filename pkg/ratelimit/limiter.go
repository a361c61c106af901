package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - Token Bucket для равномерного опроса публичных эндпоинтов
//
// Ведро наполняется со скоростью rate токенов/сек до ёмкости burst,
// каждый запрос забирает 1 токен. Используется фидом рыночных данных
// в режиме polling, когда стрим недоступен. Ордерные вызовы идут через
// WindowLimiter с жёсткими лимитами на секунду и минуту.
//
//	limiter := NewRateLimiter(10, 20) // 10 req/sec, burst 20
//	err := limiter.Wait(ctx)
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт token bucket; при некорректных параметрах берёт 10 req/sec, burst 2x
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill пополняет токены. Вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		waitTime := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен без блокировки
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens возвращает текущее количество доступных токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// ============================================================
// MultiLimiter
// ============================================================

// MultiLimiter - набор token bucket по имени биржи
// Лимитер создаётся лениво при первом обращении с параметрами по умолчанию
type MultiLimiter struct {
	limiters map[string]*RateLimiter
	rate     float64
	burst    float64
	mu       sync.RWMutex
}

// NewMultiLimiter создаёт набор лимитеров с общими параметрами
func NewMultiLimiter(rate, burst float64) *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*RateLimiter),
		rate:     rate,
		burst:    burst,
	}
}

// Get возвращает лимитер для ключа, создавая его при необходимости
func (ml *MultiLimiter) Get(key string) *RateLimiter {
	ml.mu.RLock()
	l, ok := ml.limiters[key]
	ml.mu.RUnlock()
	if ok {
		return l
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()
	if l, ok = ml.limiters[key]; ok {
		return l
	}
	l = NewRateLimiter(ml.rate, ml.burst)
	ml.limiters[key] = l
	return l
}

// Wait ждёт токен у лимитера для ключа
func (ml *MultiLimiter) Wait(ctx context.Context, key string) error {
	return ml.Get(key).Wait(ctx)
}
