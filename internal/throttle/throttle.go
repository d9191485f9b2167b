// Package throttle gates outbound provider calls with per-key sliding windows.
//
// Admission is immediate: a denied call is never queued, the caller skips the
// provider for the current request.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Limiter admits or denies one call for a provider key
type Limiter interface {
	TryAcquire(ctx context.Context, key string) bool
}

// Rule is the quota for one key: at most Max calls in any Interval
type Rule struct {
	Max      int
	Interval time.Duration
}

// Config maps provider keys to their rule. Keys without an entry use Default.
type Config struct {
	Default Rule
	Keys    map[string]Rule
}

// RuleFor returns the rule applied to key
func (c Config) RuleFor(key string) Rule {
	if r, ok := c.Keys[key]; ok {
		return r
	}
	return c.Default
}

// Stats is a point-in-time view of one window
type Stats struct {
	Key      string        `json:"key"`
	Count    int           `json:"count"`
	Max      int           `json:"max"`
	Interval time.Duration `json:"interval"`
}

// Window is an in-process sliding window limiter.
// A rule with Max <= 0 denies every call for its key.
type Window struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	windows map[string][]time.Time
}

// NewWindow creates an in-memory limiter
func NewWindow(cfg Config) *Window {
	return &Window{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// WithClock replaces the time source, for tests
func (w *Window) WithClock(now func() time.Time) *Window {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
	return w
}

// TryAcquire prunes stale timestamps for key and records a new one if the
// window has room. A denial leaves the window untouched.
func (w *Window) TryAcquire(_ context.Context, key string) bool {
	rule := w.cfg.RuleFor(key)
	if rule.Max <= 0 {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	stamps := prune(w.windows[key], now.Add(-rule.Interval))
	if len(stamps) >= rule.Max {
		w.windows[key] = stamps
		return false
	}

	w.windows[key] = append(stamps, now)
	return true
}

// Stats reports the live count for key
func (w *Window) Stats(key string) Stats {
	rule := w.cfg.RuleFor(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	stamps := prune(w.windows[key], w.now().Add(-rule.Interval))
	w.windows[key] = stamps

	return Stats{Key: key, Count: len(stamps), Max: rule.Max, Interval: rule.Interval}
}

// prune drops timestamps at or before cutoff. Stamps are appended in order,
// so only the expired prefix is walked.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	if i == len(stamps) {
		return nil
	}
	return stamps[i:]
}
