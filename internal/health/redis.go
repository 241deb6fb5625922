package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// redisPinger is the subset of redis.Cmdable used for health checks.
type redisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker implements health checking for Redis.
type RedisChecker struct {
	client redisPinger
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redisPinger) *RedisChecker {
	return &RedisChecker{
		client: client,
	}
}

// HealthCheck performs a health check on Redis by sending a PING command.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
