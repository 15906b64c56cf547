package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrLocked is returned by TryLock when the lock is already held.
var ErrLocked = errors.New("lock is already held")

// RefreshLockKey returns the lease key guarding a named operation on one
// account. Only one holder of a given (operation, account) key runs at a time.
func RefreshLockKey(operation string, accountID int64) string {
	return fmt.Sprintf("streamvault:lock:%s:%d", operation, accountID)
}

// TryLock attempts to acquire a distributed lock identified by key.
// It uses the Redis SET NX EX pattern. On success it returns an unlock
// function that MUST be called (typically via defer) to release the lock.
// If the lock is already held, ErrLocked is returned.
func TryLock(ctx context.Context, r *Redis, key string, ttl time.Duration) (unlock func(), err error) {
	// Random token ensures only the holder can release the lock.
	token := randomToken()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	// unlock deletes the key only if the token still matches (Lua script for atomicity).
	unlockScript := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
	return func() {
		// Use a background context so unlock works even if the refresh context
		// is cancelled or timed out.
		_ = r.client.Eval(context.Background(), unlockScript, []string{key}, token).Err()
	}, nil
}

// Locks hands out Redis-backed leases behind a small interface surface, so
// code that only needs TryLock does not carry the whole Redis wrapper.
type Locks struct {
	r *Redis
}

// NewLocks returns a lease provider backed by r.
func NewLocks(r *Redis) *Locks {
	return &Locks{r: r}
}

// TryLock acquires the lease for key, or ErrLocked when held elsewhere.
func (l *Locks) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return TryLock(ctx, l.r, key, ttl)
}

// IsLocked returns true if the lock key exists.
func IsLocked(ctx context.Context, r *Redis, key string) bool {
	n, _ := r.client.Exists(ctx, key).Result()
	return n > 0
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
