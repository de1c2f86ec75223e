package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultGlobalRPS is the upstream's documented credential-wide ceiling.
const DefaultGlobalRPS = 50

// GlobalLimiter enforces the credential-wide ceiling shared by all buckets.
//
// Steady-state pacing uses a token bucket at the configured requests-per-
// second rate: the optimistic-decrement path is a single atomic reservation,
// and the wait-until-refill path is serialized inside rate.Limiter so only
// one waiter advances the window. On top of that, an authoritative global
// 429 freezes all admissions until the upstream-reported retry deadline.
type GlobalLimiter struct {
	pacer *rate.Limiter

	mu          sync.Mutex
	rps         int
	frozenUntil time.Time
}

// NewGlobalLimiter creates a GlobalLimiter pacing at rps requests per
// second. Zero or negative rps falls back to DefaultGlobalRPS.
func NewGlobalLimiter(rps int) *GlobalLimiter {
	if rps <= 0 {
		rps = DefaultGlobalRPS
	}
	return &GlobalLimiter{
		pacer: rate.NewLimiter(rate.Limit(rps), rps),
		rps:   rps,
	}
}

// Wait blocks until a global slot is available or ctx is canceled. A freeze
// window set by Freeze is honored before the pacer is consulted, so no
// pacer token is consumed by requests that arrive during a global stop. A
// freeze that lands while a request is already suspended inside the pacer is
// re-checked after the pacer wait returns, so nothing reaches the upstream
// inside the freeze window.
func (g *GlobalLimiter) Wait(ctx context.Context) error {
	for {
		if err := g.waitThaw(ctx); err != nil {
			return err
		}
		if err := g.pacer.Wait(ctx); err != nil {
			return err
		}
		if !time.Now().Before(g.FrozenUntil()) {
			return nil
		}
	}
}

// waitThaw sleeps out the current freeze window, if any.
func (g *GlobalLimiter) waitThaw(ctx context.Context) error {
	for {
		delay := time.Until(g.FrozenUntil())
		if delay <= 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Freeze stops all global admissions for the given duration. Called when
// the upstream reports a global rate-limit condition; the upstream value is
// authoritative, so a later shorter freeze still overwrites an earlier one.
func (g *GlobalLimiter) Freeze(d time.Duration) {
	g.mu.Lock()
	g.frozenUntil = time.Now().Add(d)
	g.mu.Unlock()
}

// FrozenUntil returns the current freeze deadline (zero when not frozen).
func (g *GlobalLimiter) FrozenUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frozenUntil
}

// SetRate updates the pacing ceiling. Used by config hot-reload.
func (g *GlobalLimiter) SetRate(rps int) {
	if rps <= 0 {
		rps = DefaultGlobalRPS
	}
	g.mu.Lock()
	g.rps = rps
	g.mu.Unlock()
	g.pacer.SetLimit(rate.Limit(rps))
	g.pacer.SetBurst(rps)
}

// Rate returns the configured requests-per-second ceiling.
func (g *GlobalLimiter) Rate() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rps
}
