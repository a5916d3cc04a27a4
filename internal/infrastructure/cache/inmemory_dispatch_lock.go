package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/backend/internal/domain/delivery"
)

// lockEntry is a held key with its owner token
type lockEntry struct {
	token     string
	expiresAt time.Time
}

// InMemoryDispatchLock implements DispatchLocker with an in-process map.
// It only serialises dispatches within one instance.
type InMemoryDispatchLock struct {
	mu        sync.Mutex
	entries   map[string]lockEntry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryDispatchLock creates an in-memory lock and starts its
// expired entry cleanup goroutine
func NewInMemoryDispatchLock() *InMemoryDispatchLock {
	l := &InMemoryDispatchLock{
		entries:  make(map[string]lockEntry),
		stopChan: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop()

	return l
}

// TryLock takes key unless a live entry holds it
func (l *InMemoryDispatchLock) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if e, exists := l.entries[key]; exists && now.Before(e.expiresAt) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.entries[key] = lockEntry{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Unlock releases key if token still owns it. A lock that expired and was
// taken by someone else is left alone.
func (l *InMemoryDispatchLock) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, exists := l.entries[key]; exists && e.token == token {
		delete(l.entries, key)
	}
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (l *InMemoryDispatchLock) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
	return nil
}

func (l *InMemoryDispatchLock) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *InMemoryDispatchLock) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, e := range l.entries {
		if now.After(e.expiresAt) {
			delete(l.entries, key)
		}
	}
}

// Size returns the number of held entries (for testing/monitoring)
func (l *InMemoryDispatchLock) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Ensure InMemoryDispatchLock implements DispatchLocker
var _ delivery.DispatchLocker = (*InMemoryDispatchLock)(nil)
