package cache

import (
	"fmt"

	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Lock backends accepted by DispatchLockFactory.CreateLock
const (
	LockBackendRedis  = "redis"
	LockBackendMemory = "memory"
)

// DispatchLock is a DispatchLocker that owns resources
type DispatchLock interface {
	delivery.DispatchLocker
	Close() error
}

// DispatchLockFactory creates dispatch locks based on configuration
type DispatchLockFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// DispatchLockFactoryOption is a functional option for configuring the factory
type DispatchLockFactoryOption func(*DispatchLockFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) DispatchLockFactoryOption {
	return func(f *DispatchLockFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to an in-memory lock when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) DispatchLockFactoryOption {
	return func(f *DispatchLockFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewDispatchLockFactory creates a new factory
func NewDispatchLockFactory(cfg config.RedisConfig, opts ...DispatchLockFactoryOption) *DispatchLockFactory {
	f := &DispatchLockFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisLock creates a Redis-backed dispatch lock
func (f *DispatchLockFactory) CreateRedisLock() (DispatchLock, error) {
	lock, err := NewRedisDispatchLock(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis dispatch lock: %w", err)
	}
	return lock, nil
}

// CreateLock creates the lock for backend. The redis backend falls back to
// memory when Redis is unreachable and fallback is allowed.
// WARNING: in-memory locks do not serialise dispatches across instances.
func (f *DispatchLockFactory) CreateLock(backend string) (DispatchLock, error) {
	switch backend {
	case LockBackendMemory:
		f.logger.Info("using in-memory dispatch lock")
		return NewInMemoryDispatchLock(), nil
	case LockBackendRedis, "":
	default:
		return nil, fmt.Errorf("unknown dispatch lock backend: %s", backend)
	}

	lock, err := f.CreateRedisLock()
	if err == nil {
		f.logger.Info("using Redis dispatch lock")
		return lock, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for dispatch locking but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory dispatch lock. "+
		"Concurrent dispatches on other instances will not be serialised.",
		zap.Error(err),
	)
	return NewInMemoryDispatchLock(), nil
}
