package throttle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisWindow_TryAcquire(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := NewRedisWindow(client, Config{Default: Rule{Max: 3, Interval: time.Minute}}, "test:foodfit:", logger)
	require.NoError(t, w.Reset(ctx, "usda"))
	t.Cleanup(func() { _ = w.Reset(ctx, "usda") })

	for i := 0; i < 3; i++ {
		assert.True(t, w.TryAcquire(ctx, "usda"), "call %d should be admitted", i+1)
	}
	assert.False(t, w.TryAcquire(ctx, "usda"))

	stats, err := w.Stats(ctx, "usda")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)

	// move the clock past the window
	w.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.True(t, w.TryAcquire(ctx, "usda"))
}

func TestRedisWindow_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewRedisWindow(client, Config{Default: Rule{Max: 1, Interval: time.Minute}}, "test:", logger)

	assert.True(t, w.TryAcquire(context.Background(), "usda"))
	assert.True(t, w.TryAcquire(context.Background(), "usda"))
}
