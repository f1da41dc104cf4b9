package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"solana-swap-ledger/internal/storage"
)

// unlockLua deletes the lock key only while it still holds the caller's token,
// so an expired holder cannot release a lock someone else has since taken.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

var _ storage.Locker = (*LockManager)(nil)

// LockManager implements storage.Locker with SET NX PX and a token-checked unlock.
type LockManager struct {
	rdb      *redis.Client
	prefix   string
	unlockSc *redis.Script
	logger   *zap.Logger
}

// NewLockManager creates a LockManager. Keys are stored as "<prefix>lock:<key>".
// A nil logger discards release failures.
func NewLockManager(c *Client, prefix string, logger *zap.Logger) *LockManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockManager{
		rdb:      c.rdb,
		prefix:   prefix,
		unlockSc: redis.NewScript(unlockLua),
		logger:   logger.With(zap.String("component", "redis_lock")),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.prefix + "lock:" + key
}

// Acquire obtains the lock for key with the given TTL. The returned release
// func is safe to call more than once. Release errors are logged, not returned.
// Returns storage.ErrLockHeld if another owner holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, storage.ErrLockHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// the caller's context may already be cancelled at shutdown
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		deleted, err := lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Int()
		if err != nil {
			lm.logger.Warn("lock release failed, key is held until its ttl expires",
				zap.String("key", lk),
				zap.Duration("ttl", ttl),
				zap.Error(err),
			)
			return
		}
		if deleted == 0 {
			lm.logger.Debug("lock expired before release", zap.String("key", lk))
		}
	}

	return release, nil
}
