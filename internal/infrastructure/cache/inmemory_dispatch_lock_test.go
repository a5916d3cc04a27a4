package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/backend/internal/infrastructure/config"
)

func TestInMemoryDispatchLock_TryLock(t *testing.T) {
	lock := NewInMemoryDispatchLock()
	defer lock.Close()

	ctx := context.Background()

	t.Run("second holder is rejected", func(t *testing.T) {
		token, ok, err := lock.TryLock(ctx, "order-1:carrier", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEmpty(t, token)

		_, ok, err = lock.TryLock(ctx, "order-1:carrier", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, lock.Unlock(ctx, "order-1:carrier", token))
		_, ok, err = lock.TryLock(ctx, "order-1:carrier", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "released key can be taken again")
	})

	t.Run("different keys are independent", func(t *testing.T) {
		_, ok1, _ := lock.TryLock(ctx, "order-2:a", time.Minute)
		_, ok2, _ := lock.TryLock(ctx, "order-2:b", time.Minute)
		assert.True(t, ok1)
		assert.True(t, ok2)
	})

	t.Run("expired lock can be taken over", func(t *testing.T) {
		stale, ok, err := lock.TryLock(ctx, "order-3:carrier", 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(20 * time.Millisecond)

		fresh, ok, err := lock.TryLock(ctx, "order-3:carrier", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		// the stale owner must not release the new owner's lock
		require.NoError(t, lock.Unlock(ctx, "order-3:carrier", stale))
		_, ok, _ = lock.TryLock(ctx, "order-3:carrier", time.Minute)
		assert.False(t, ok)

		require.NoError(t, lock.Unlock(ctx, "order-3:carrier", fresh))
	})
}

func TestInMemoryDispatchLock_Concurrent(t *testing.T) {
	lock := NewInMemoryDispatchLock()
	defer lock.Close()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := lock.TryLock(context.Background(), "hot-key", time.Minute); ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
}

func TestInMemoryDispatchLock_Cleanup(t *testing.T) {
	lock := NewInMemoryDispatchLock()
	defer lock.Close()

	_, _, _ = lock.TryLock(context.Background(), "a", time.Millisecond)
	_, _, _ = lock.TryLock(context.Background(), "b", time.Hour)
	time.Sleep(5 * time.Millisecond)

	lock.cleanup()
	assert.Equal(t, 1, lock.Size())

	// Close is idempotent
	assert.NoError(t, lock.Close())
	assert.NoError(t, lock.Close())
}

func TestDispatchLockFactory_CreateLock(t *testing.T) {
	unreachable := config.RedisConfig{Host: "127.0.0.1", Port: 1}

	t.Run("memory backend", func(t *testing.T) {
		lock, err := NewDispatchLockFactory(unreachable).CreateLock(LockBackendMemory)
		require.NoError(t, err)
		defer lock.Close()
		assert.IsType(t, &InMemoryDispatchLock{}, lock)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := NewDispatchLockFactory(unreachable).CreateLock("etcd")
		assert.Error(t, err)
	})

	t.Run("redis unavailable falls back", func(t *testing.T) {
		lock, err := NewDispatchLockFactory(unreachable).CreateLock(LockBackendRedis)
		require.NoError(t, err)
		defer lock.Close()
		assert.IsType(t, &InMemoryDispatchLock{}, lock)
	})

	t.Run("redis required", func(t *testing.T) {
		_, err := NewDispatchLockFactory(unreachable, WithInMemoryFallback(false)).CreateLock(LockBackendRedis)
		assert.Error(t, err)
	})
}
