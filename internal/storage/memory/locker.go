package memory

import (
	"context"
	"sync"
	"time"

	"solana-swap-ledger/internal/storage"
)

var _ storage.Locker = (*Locker)(nil)

// Locker is an in-process storage.Locker for single-instance deployments.
type Locker struct {
	mu    sync.Mutex
	held  map[string]lockEntry
	now   func() time.Time
	token uint64
}

type lockEntry struct {
	token   uint64
	expires time.Time
}

// NewLocker creates a new in-process locker.
func NewLocker() *Locker {
	return &Locker{
		held: make(map[string]lockEntry),
		now:  time.Now,
	}
}

// Acquire takes key for ttl. The release func is idempotent and only frees
// the lock if it was not taken over after expiry.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, storage.ErrLockHeld
	}

	l.token++
	token := l.token
	l.held[key] = lockEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if e, ok := l.held[key]; ok && e.token == token {
				delete(l.held, key)
			}
		})
	}, nil
}
