package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/storefront/backend/internal/domain/delivery"
)

const defaultLockKeyPrefix = "delivery:dispatch-lock:"

// releaseScript deletes the key only when it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisDispatchLock implements DispatchLocker with SET NX PX, so every
// instance of the service shares the same per-pair locks
type RedisDispatchLock struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisDispatchLock connects to Redis and verifies the connection
func NewRedisDispatchLock(cfg RedisConfig) (*RedisDispatchLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisDispatchLockWithClient(client, ""), nil
}

// NewRedisDispatchLockWithClient creates a lock over an existing client
func NewRedisDispatchLockWithClient(client *redis.Client, keyPrefix string) *RedisDispatchLock {
	if keyPrefix == "" {
		keyPrefix = defaultLockKeyPrefix
	}
	return &RedisDispatchLock{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// TryLock sets the key with a fresh token if it does not exist
func (l *RedisDispatchLock) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire dispatch lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases the key if token still owns it
func (l *RedisDispatchLock) Unlock(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.keyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release dispatch lock: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (l *RedisDispatchLock) Close() error {
	return l.client.Close()
}

// GetClient returns the underlying Redis client (for testing/monitoring)
func (l *RedisDispatchLock) GetClient() *redis.Client {
	return l.client
}

// Ensure RedisDispatchLock implements DispatchLocker
var _ delivery.DispatchLocker = (*RedisDispatchLock)(nil)
