package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis лимитер на INCR + EXPIRE. При недоступности Redis запрос пропускается.
type Redis struct {
	client  *redis.Client
	logger  *zap.Logger
	prefix  string
	timeout time.Duration
}

// NewRedis подключается к Redis и проверяет соединение
func NewRedis(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Redis{
		client:  client,
		logger:  logger.Named("ratelimit"),
		prefix:  "teamhub:ratelimit:",
		timeout: 250 * time.Millisecond,
	}, nil
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, win time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if win <= 0 {
		win = time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	redisKey := r.prefix + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		r.logger.Error("redis rate limiter error", zap.String("op", "incr"), zap.Error(err))
		return Decision{Allowed: true}
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, win).Err(); err != nil {
			r.logger.Error("redis rate limiter error", zap.String("op", "expire"), zap.Error(err))
		}
	}

	ttl, err := r.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = win
	}
	return newDecision(int(count), limit, time.Now().Add(ttl))
}

func (r *Redis) Close() {
	if r.client != nil {
		_ = r.client.Close()
	}
}
