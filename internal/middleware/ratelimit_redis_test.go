package middleware

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedAddr returns a loopback address with nothing listening on it.
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRedisRateLimitStore_FailOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        closedAddr(t),
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	metrics := NewMetrics()
	store := NewRedisRateLimitStore(client, WithRedisMetrics(metrics))
	cfg := RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}

	for i := 0; i < 2; i++ {
		allowed, remaining, retryAfter := store.Allow(context.Background(), "ratelimit:create-session:192.0.2.1", cfg)
		assert.True(t, allowed, "unavailable redis must not block checkout")
		assert.Equal(t, cfg.RequestsPerWindow, remaining)
		assert.Zero(t, retryAfter)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.rateLimitRedisErrors))
}

func TestRateLimiter_RedisOutageStillServes(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: closedAddr(t), DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	store := NewRedisRateLimitStore(client)
	handler := RateLimiter(store, RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute},
		IPKeyFunc(nil), "create-session", nil)(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, 200, serveCreateSession(handler).Code)
	}
}
