package calendarsync

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSyncInProgress means another sync pass currently holds the
// account's lock; the caller should simply skip this run.
var ErrSyncInProgress = fmt.Errorf("sync already in progress")

const lockTTL = 2 * time.Minute

// AccountLock serializes sync passes per account. The TTL bounds how long
// a crashed holder can block the account.
type AccountLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAccountLock(client *redis.Client) *AccountLock {
	return &AccountLock{client: client, ttl: lockTTL}
}

// Acquire takes the account's lock or reports ErrSyncInProgress.
func (l *AccountLock) Acquire(ctx context.Context, accountID int64) error {
	ok, err := l.client.SetNX(ctx, lockKey(accountID), "1", l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return ErrSyncInProgress
	}
	return nil
}

// Release frees the account's lock. Best-effort: an expired lock is
// already free.
func (l *AccountLock) Release(ctx context.Context, accountID int64) {
	l.client.Del(ctx, lockKey(accountID))
}

func lockKey(accountID int64) string {
	return fmt.Sprintf("sync_lock:%d", accountID)
}
