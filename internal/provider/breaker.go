package provider

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSuspended is returned while a provider's circuit breaker is open.
var ErrSuspended = errors.New("provider suspended by circuit breaker")

// Breaker suspends calls to a provider after a run of consecutive failures
// (each failure being a fully retry-exhausted call) and resumes automatically
// once the cooldown window has passed.
type Breaker struct {
	Name      string
	Threshold int
	Cooldown  time.Duration
	Logger    *zap.Logger

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func NewBreaker(name string, threshold int, cooldown time.Duration, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &Breaker{Name: name, Threshold: threshold, Cooldown: cooldown, Logger: logger}
}

// Allow reports whether a call may proceed. An expired cooldown closes the
// breaker and resets the failure count.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if time.Now().Before(b.openUntil) {
		return false
	}
	b.openUntil = time.Time{}
	b.failures = 0
	if b.Logger != nil {
		b.Logger.Info("circuit breaker closed", zap.String("provider", b.Name))
	}
	return true
}

func (b *Breaker) Success() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

func (b *Breaker) Failure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures < b.Threshold {
		return
	}
	b.openUntil = time.Now().Add(b.Cooldown)
	if b.Logger != nil {
		b.Logger.Warn("circuit breaker opened",
			zap.String("provider", b.Name),
			zap.Int("consecutive_failures", b.failures),
			zap.Duration("cooldown", b.Cooldown),
		)
	}
}
