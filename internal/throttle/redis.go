package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the ZSET to the window, then admits and records
// the call only when the count is under the limit. Returns {allowed, count}.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local current = redis.call('ZCARD', key)
	if current >= limit then
		return {0, current}
	end

	local counter = redis.call('INCR', key .. ':seq')
	redis.call('ZADD', key, now, now .. ':' .. counter)
	redis.call('PEXPIRE', key, window_ms)
	redis.call('PEXPIRE', key .. ':seq', window_ms)
	return {1, current + 1}
`)

// RedisWindow shares sliding windows between server instances.
// Redis failures admit the call: a Redis outage must not blank out every provider.
type RedisWindow struct {
	client redis.UniversalClient
	cfg    Config
	prefix string
	now    func() time.Time
	log    *slog.Logger
}

// NewRedisWindow creates a limiter whose windows live under prefix+"throttle:"+key
func NewRedisWindow(client redis.UniversalClient, cfg Config, prefix string, logger *slog.Logger) *RedisWindow {
	return &RedisWindow{
		client: client,
		cfg:    cfg,
		prefix: prefix + "throttle:",
		now:    time.Now,
		log:    logger,
	}
}

// TryAcquire runs the sliding window script for key
func (r *RedisWindow) TryAcquire(ctx context.Context, key string) bool {
	rule := r.cfg.RuleFor(key)
	if rule.Max <= 0 {
		return false
	}

	now := r.now()
	res, err := slidingWindowScript.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixMilli(),
		now.Add(-rule.Interval).UnixMilli(),
		rule.Max,
		rule.Interval.Milliseconds(),
	).Int64Slice()
	if err != nil {
		r.log.Warn("Throttle backend unavailable, admitting call", "provider", key, "error", err)
		return true
	}
	if len(res) != 2 {
		r.log.Warn("Unexpected throttle script reply, admitting call", "provider", key, "reply_len", len(res))
		return true
	}

	return res[0] == 1
}

// Stats reports the live count for key
func (r *RedisWindow) Stats(ctx context.Context, key string) (Stats, error) {
	rule := r.cfg.RuleFor(key)
	from := strconv.FormatInt(r.now().Add(-rule.Interval).UnixMilli(), 10)

	count, err := r.client.ZCount(ctx, r.prefix+key, "("+from, "+inf").Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count throttle window: %w", err)
	}

	return Stats{Key: key, Count: int(count), Max: rule.Max, Interval: rule.Interval}, nil
}

// Reset clears the window for key
func (r *RedisWindow) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key, r.prefix+key+":seq").Err()
}
