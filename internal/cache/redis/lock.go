package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/catallaxyz/matchd/internal/domain"
)

// unlockLua releases a lock only when the caller still owns it, so a
// holder whose TTL expired cannot release a successor's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements expiring exclusive locks with SET NX plus a
// token-checked release. The TTL bounds how long a crashed holder can
// block the key.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
	logger *slog.Logger
}

func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		rdb:    c.Underlying(),
		unlock: redis.NewScript(unlockLua),
		logger: logger.With("component", "lock"),
	}
}

// Acquire obtains the lock for key, returning an unlock function. It does
// not block: a held lock is reported immediately as ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lockKey := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lm.unlock.Run(ctx, lm.rdb, []string{lockKey}, token).Err(); err != nil {
			lm.logger.Warn("lock release failed", "key", key, "error", err)
		}
	}
	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
