package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/domain"
	"meetbook/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	slotLockPrefix  = "meetbook:slot:"
	rateLimitPrefix = "meetbook:rate:"
)

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	client := redis.NewClient(options)

	return client
}

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSlotLocker is a SET NX PX token lock shared by every instance
// pointing at the same Redis.
type RedisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

var _ domain.SlotLocker = (*RedisSlotLocker)(nil)

func NewRedisSlotLocker(client *redis.Client, ttl, retry time.Duration) *RedisSlotLocker {
	return &RedisSlotLocker{client: client, ttl: ttl, retry: retry}
}

func (l *RedisSlotLocker) Lock(ctx context.Context, key models.SlotKey) (func(), error) {
	if l.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	name := slotLockPrefix + key.String()
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to acquire slot lock: %w", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even if the caller's context is already done.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{name}, token).Err()
		})
	}, nil
}

// RedisRateLimiter is a fixed-window counter (INCR + EXPIRE).
type RedisRateLimiter struct {
	client *redis.Client
}

var _ domain.RateLimiter = (*RedisRateLimiter)(nil)

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	name := rateLimitPrefix + key
	count, err := r.client.Incr(ctx, name).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, name, window)
	}

	return count <= int64(limit), nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
