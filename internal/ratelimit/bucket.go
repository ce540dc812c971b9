// Package ratelimit paces requests to model backends.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const minWait = 10 * time.Millisecond

// Limiter is a token bucket. A nil *Limiter admits everything.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	perSecond  float64
	lastRefill time.Time
	now        func() time.Time
}

// New creates a limiter holding up to burst tokens, refilled at perSecond.
func New(burst, perSecond float64) *Limiter {
	l := &Limiter{
		tokens:    burst,
		burst:     burst,
		perSecond: perSecond,
		now:       time.Now,
	}
	l.lastRefill = l.now()
	return l
}

// PerMinute returns a limiter admitting n requests per minute with a burst
// of n. n <= 0 returns nil.
func PerMinute(n int) *Limiter {
	if n <= 0 {
		return nil
	}
	return New(float64(n), float64(n)/60)
}

// Allow takes one token if available.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.take()
	return ok
}

// Wait blocks until a token is taken or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	for {
		l.mu.Lock()
		wait, ok := l.take()
		l.mu.Unlock()
		if ok {
			return nil
		}

		timer := time.NewTimer(max(wait, minWait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens returns the tokens currently available.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// take refills and consumes one token. When none is available it returns
// how long until one will be. Callers hold mu.
func (l *Limiter) take() (time.Duration, bool) {
	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}
	if l.perSecond <= 0 {
		return time.Hour, false
	}
	deficit := 1 - l.tokens
	return time.Duration(deficit / l.perSecond * float64(time.Second)), false
}

func (l *Limiter) refill() {
	now := l.now()
	l.tokens = min(l.burst, l.tokens+now.Sub(l.lastRefill).Seconds()*l.perSecond)
	l.lastRefill = now
}
