// Package ratelimit implements the per user+IP sliding window limiter used
// as the first stage of the security pipeline.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
)

// Result is the outcome of one check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
}

// Limiter decides whether a request for key at now fits in the window.
type Limiter interface {
	Check(ctx context.Context, key string, now time.Time) (Result, error)
}

// New builds the limiter selected by cfg.Store.
func New(cfg config.RateLimitConfig, client redis.UniversalClient, keyPrefix string) Limiter {
	if cfg.Store == "redis" && client != nil {
		return NewRedisLimiter(client, keyPrefix+"ratelimit:", cfg.Window, cfg.MaxRequests)
	}
	return NewMemoryLimiter(cfg.Window, cfg.MaxRequests, cfg.IdleTTL, cfg.MaxKeys)
}

const lockStripes = 64

// MemoryLimiter keeps one window of timestamps per key.
//
// Prune, count and append for a key happen under that key's own mutex, so
// concurrent checks for one key never admit more than max requests and
// checks for different keys do not wait on each other. Windows idle for
// idleTTL expire; idleTTL is never shorter than the window, so an expired
// window held no live timestamps. When maxKeys windows are tracked, a new
// key may only displace the least recently used window if that window has
// no live timestamps; otherwise the new key is denied.
type MemoryLimiter struct {
	window  time.Duration
	max     int
	maxKeys int
	windows *expirable.LRU[string, *slidingWindow]
	stripes [lockStripes]sync.Mutex

	// createMu serializes key creation against the size check.
	createMu sync.Mutex
}

type slidingWindow struct {
	mu      sync.Mutex
	stamps  []time.Time
	evicted bool
}

// live reports whether w holds a timestamp after cutoff. Callers hold w.mu.
func (w *slidingWindow) live(cutoff time.Time) bool {
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			return true
		}
	}
	return false
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(window time.Duration, max int, idleTTL time.Duration, maxKeys int) *MemoryLimiter {
	if idleTTL < window {
		idleTTL = window
	}
	if maxKeys <= 0 {
		maxKeys = 100000
	}
	return &MemoryLimiter{
		window:  window,
		max:     max,
		maxKeys: maxKeys,
		windows: expirable.NewLRU[string, *slidingWindow](maxKeys, nil, idleTTL),
	}
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(_ context.Context, key string, now time.Time) (Result, error) {
	cutoff := now.Add(-l.window)

	w := l.lockWindow(key, cutoff)
	if w == nil {
		return Result{Allowed: false, Remaining: 0, Limit: l.max}, nil
	}
	defer w.mu.Unlock()

	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= l.max {
		return Result{Allowed: false, Remaining: 0, Limit: l.max}, nil
	}

	w.stamps = append(w.stamps, now)
	return Result{Allowed: true, Remaining: l.max - len(w.stamps), Limit: l.max}, nil
}

// lockWindow returns the locked window for key. It returns nil when the key
// is new and every tracked window still holds live timestamps.
func (l *MemoryLimiter) lockWindow(key string, cutoff time.Time) *slidingWindow {
	for {
		w := l.acquire(key, cutoff)
		if w == nil {
			return nil
		}
		w.mu.Lock()
		if !w.evicted {
			return w
		}
		// Displaced between acquire and lock; fetch the replacement.
		w.mu.Unlock()
	}
}

// acquire returns the window for key, creating it if needed, and refreshes
// its idle deadline. The stripe lock makes get-or-create atomic per key.
func (l *MemoryLimiter) acquire(key string, cutoff time.Time) *slidingWindow {
	mu := &l.stripes[stripe(key)]
	mu.Lock()
	defer mu.Unlock()

	if w, ok := l.windows.Get(key); ok {
		l.windows.Add(key, w)
		return w
	}

	l.createMu.Lock()
	defer l.createMu.Unlock()

	if l.windows.Len() >= l.maxKeys && !l.evictIdle(cutoff) {
		return nil
	}
	w := &slidingWindow{}
	l.windows.Add(key, w)
	return w
}

// evictIdle removes the least recently used window if it holds no live
// timestamps. Callers hold createMu.
func (l *MemoryLimiter) evictIdle(cutoff time.Time) bool {
	key, oldest, ok := l.windows.GetOldest()
	if !ok {
		return true
	}

	oldest.mu.Lock()
	defer oldest.mu.Unlock()
	if oldest.live(cutoff) {
		return false
	}
	oldest.evicted = true
	l.windows.Remove(key)
	return true
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	return l.windows.Len()
}

func stripe(key string) uint32 {
	return uint32(xxhash.Sum64String(key) % lockStripes)
}
