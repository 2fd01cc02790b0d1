package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BillingLockKey builds redis keys for billing critical sections. Uniqueness
// on billing_periods is the last line of defence; this lock keeps two
// overlapping generator runs from racing on the same customer in the first
// place.
func BillingLockKey(companyID, customerID int64, billingType string) string {
	return fmt.Sprintf("billing:%d:%d:%s:lock", companyID, customerID, billingType)
}

// RunLock is a redis-backed advisory lock for generator runs.
type RunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunLock constructs a RunLock with the given lease duration.
func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RunLock{client: client, ttl: ttl}
}

// Acquire takes the lock or returns ErrRunLocked when it is held elsewhere.
// A nil client degrades to a no-op so single-process deployments and tests
// run without redis.
func (l *RunLock) Acquire(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire billing lock: %w", err)
	}
	if !ok {
		return ErrRunLocked
	}
	return nil
}

// Release drops the lock. Errors are returned for logging only; the TTL
// reclaims abandoned locks.
func (l *RunLock) Release(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, key).Err()
}
