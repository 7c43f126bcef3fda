package ratelimit

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"datasweep/config"
	"datasweep/internal/errs"
)

// Limiter guards calls into the external mail provider. Each user gets a
// token bucket (capacity and refill rate from config); a shared circuit
// breaker opens for an exponentially growing, jittered window whenever the
// provider itself pushes back. Exhaustion surfaces as errs.RateLimited
// with a retry_after hint; callers reschedule, they never spin.
type Limiter struct {
	cfg *config.RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	breakerMu    sync.Mutex
	breakerTrips int
	openUntil    time.Time
}

func New(cfg *config.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Acquire takes one permit for the user or returns errs.RateLimited with
// the duration to wait. Release is implicit: permits refill over time.
func (l *Limiter) Acquire(userID string) error {
	if wait := l.breakerWait(); wait > 0 {
		return errs.RateLimited(wait)
	}

	bucket := l.bucketFor(userID)
	reservation := bucket.Reserve()
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return errs.RateLimited(delay)
	}
	return nil
}

// ReportProviderPushback opens the circuit breaker after the provider
// returned a rate or quota error. The window grows as base × 2^trips with
// jitter, capped at the configured ceiling, and never shrinks below the
// provider's own retry_after hint.
func (l *Limiter) ReportProviderPushback(retryAfter time.Duration) {
	l.breakerMu.Lock()
	defer l.breakerMu.Unlock()

	window := l.cfg.BreakerBase << uint(l.breakerTrips)
	if window > l.cfg.BreakerCeiling {
		window = l.cfg.BreakerCeiling
	}
	// Up to 25% jitter keeps a fleet of workers from retrying in lockstep.
	window += time.Duration(rand.Int63n(int64(window)/4 + 1))
	if retryAfter > window {
		window = retryAfter
	}

	l.breakerTrips++
	l.openUntil = time.Now().Add(window)
	logrus.Warnf("Provider pushback, circuit open for %s (trip %d)", window, l.breakerTrips)
}

// ReportSuccess closes the breaker after a clean provider call.
func (l *Limiter) ReportSuccess() {
	l.breakerMu.Lock()
	defer l.breakerMu.Unlock()
	l.breakerTrips = 0
	l.openUntil = time.Time{}
}

func (l *Limiter) breakerWait() time.Duration {
	l.breakerMu.Lock()
	defer l.breakerMu.Unlock()
	if wait := time.Until(l.openUntil); wait > 0 {
		return wait
	}
	return 0
}

func (l *Limiter) bucketFor(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[userID]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(l.cfg.RefillPerSec), l.cfg.Burst)
		l.buckets[userID] = bucket
	}
	return bucket
}
