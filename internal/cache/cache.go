// Package cache holds resolved products keyed by canonical barcode.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noot-app/foodfit-server/internal/types"
)

// Store is a TTL-bounded product cache. Implementations hand out copies:
// callers may mutate what Get returns without touching the stored entry.
type Store interface {
	// Get returns (nil, false, nil) on a miss, including expired entries
	Get(ctx context.Context, barcode string) (*types.Product, bool, error)
	Put(ctx context.Context, barcode string, p *types.Product) error
}

// Stats tracks cache statistics
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Puts      uint64 `json:"puts"`
	Evictions uint64 `json:"evictions"`
	Errors    uint64 `json:"errors"`
	Entries   int    `json:"entries"`
}

type counters struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	puts      atomic.Uint64
	evictions atomic.Uint64
	errors    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Puts:      c.puts.Load(),
		Evictions: c.evictions.Load(),
		Errors:    c.errors.Load(),
	}
}

type entry struct {
	product    *types.Product
	insertedAt time.Time
}

// Memory is the in-process cache
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	stats   counters
	log     *slog.Logger
}

// NewMemory creates an in-process cache with the given TTL
func NewMemory(ttl time.Duration, logger *slog.Logger) *Memory {
	return &Memory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
		log:     logger,
	}
}

// WithClock replaces the time source, for tests
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Get returns a copy of the cached product. An expired entry is evicted on read.
func (m *Memory) Get(_ context.Context, barcode string) (*types.Product, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[barcode]
	if !ok {
		m.stats.misses.Add(1)
		return nil, false, nil
	}

	if m.expired(e) {
		delete(m.entries, barcode)
		m.stats.evictions.Add(1)
		m.stats.misses.Add(1)
		return nil, false, nil
	}

	m.stats.hits.Add(1)
	return e.product.Clone(), true, nil
}

// Put stores a copy of p. Concurrent writers race; the last one wins.
func (m *Memory) Put(_ context.Context, barcode string, p *types.Product) error {
	if p == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[barcode] = entry{product: p.Clone(), insertedAt: m.now()}
	m.stats.puts.Add(1)
	return nil
}

// Sweep evicts every expired entry and returns how many were removed
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, k)
			removed++
		}
	}
	m.stats.evictions.Add(uint64(removed))
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done
func (m *Memory) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Debug("Swept expired cache entries", "evicted", n)
			}
		}
	}
}

// Len returns the number of stored entries, expired or not
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Stats returns a snapshot of the counters
func (m *Memory) Stats() Stats {
	s := m.stats.snapshot()
	s.Entries = m.Len()
	return s
}

func (m *Memory) expired(e entry) bool {
	return m.now().Sub(e.insertedAt) >= m.ttl
}
