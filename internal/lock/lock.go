// Package lock provides a per-asset dispatch lock so only one pipeline
// instance claims an asset at a time.
package lock

import (
	"context"
	"sync"
	"time"
)

// ReleaseFunc releases a held lock. It is safe to call more than once.
type ReleaseFunc func(context.Context) error

// Locker guards job dispatch per asset. Acquire returns ok=false when
// another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error)
}

// MemoryLocker is an in-process Locker for single-node deployments.
type MemoryLocker struct {
	mu      sync.Mutex
	held    map[string]time.Time
	nowFunc func() time.Time
}

// NewMemoryLocker constructs an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:    make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, false, nil
	}
	l.held[key] = now.Add(ttl)

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}
	return release, true, nil
}
