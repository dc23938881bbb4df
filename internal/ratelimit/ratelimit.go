// Package ratelimit gates upstream calls so each source is queried at most
// once per configured minimum interval. Sources are hit once per fetch
// attempt, so a burst-1 limiter per source is all that is needed.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const DefaultMinInterval = time.Second

// Gate holds one limiter per source name. Acquire blocks the caller until
// the source's minimum interval has elapsed since the previous Acquire, or
// returns early with the context error.
type Gate struct {
	defaultInterval time.Duration

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func NewGate(defaultInterval time.Duration) *Gate {
	if defaultInterval <= 0 {
		defaultInterval = DefaultMinInterval
	}
	return &Gate{
		defaultInterval: defaultInterval,
		limiters:        make(map[string]*rate.Limiter),
	}
}

// SetInterval overrides the minimum interval for one source. An interval of
// zero or below removes rate limiting for that source entirely.
func (g *Gate) SetInterval(sourceName string, interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if interval <= 0 {
		g.limiters[sourceName] = rate.NewLimiter(rate.Inf, 1)
		return
	}
	g.limiters[sourceName] = rate.NewLimiter(rate.Every(interval), 1)
}

// Acquire blocks until the source may be called again.
func (g *Gate) Acquire(ctx context.Context, sourceName string) error {
	g.mu.RLock()
	lim := g.limiters[sourceName]
	g.mu.RUnlock()

	if lim == nil {
		g.mu.Lock()
		if lim = g.limiters[sourceName]; lim == nil {
			lim = rate.NewLimiter(rate.Every(g.defaultInterval), 1)
			g.limiters[sourceName] = lim
		}
		g.mu.Unlock()
	}
	return lim.Wait(ctx)
}

// Allow reports whether the source may be called right now without waiting.
func (g *Gate) Allow(sourceName string) bool {
	g.mu.RLock()
	lim := g.limiters[sourceName]
	g.mu.RUnlock()
	if lim == nil {
		return true
	}
	return lim.Allow()
}
