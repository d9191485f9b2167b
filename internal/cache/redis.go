package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noot-app/foodfit-server/internal/types"
)

// Redis stores products as JSON with a server-side expiry, so expired
// entries are never returned and no sweeper is needed.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	stats  counters
	log    *slog.Logger
}

// NewRedis creates a cache whose keys live under prefix+"product:"
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix + "product:",
		ttl:    ttl,
		log:    logger,
	}
}

// Get decodes the stored product. Undecodable entries are dropped and reported as a miss.
func (r *Redis) Get(ctx context.Context, barcode string) (*types.Product, bool, error) {
	key := r.prefix + barcode

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.stats.misses.Add(1)
			return nil, false, nil
		}
		r.stats.errors.Add(1)
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var p types.Product
	if err := json.Unmarshal(data, &p); err != nil {
		r.stats.errors.Add(1)
		r.stats.misses.Add(1)
		r.log.Warn("Dropping undecodable cache entry", "barcode", barcode, "error", err)
		_ = r.client.Del(ctx, key).Err()
		return nil, false, nil
	}

	r.stats.hits.Add(1)
	return &p, true, nil
}

// Put encodes p and stores it with the cache TTL
func (r *Redis) Put(ctx context.Context, barcode string, p *types.Product) error {
	if p == nil {
		return nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		r.stats.errors.Add(1)
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := r.client.Set(ctx, r.prefix+barcode, data, r.ttl).Err(); err != nil {
		r.stats.errors.Add(1)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	r.stats.puts.Add(1)
	return nil
}

// Stats returns a snapshot of the counters. Entries is not tracked for Redis.
func (r *Redis) Stats() Stats {
	return r.stats.snapshot()
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
