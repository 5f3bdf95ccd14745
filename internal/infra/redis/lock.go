package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"checkout-orchestrator/internal/domain"
)

const lockPrefix = "checkout_lock:"

// CheckoutLockKey namespaces the per-client checkout lock.
func CheckoutLockKey(clientKey string) string { return lockPrefix + clientKey }

// RedisLocker hands out owner-tokened leases so a session only ever releases
// the lease it took, even after its TTL lapsed and another session took over.
type RedisLocker struct {
	cli   RedisClient
	newID func() string
}

func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{cli: c, newID: uuid.NewString}
}

// TryLock does not wait. A held key yields domain.ErrCheckoutInProgress.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	owner := l.newID()
	acquired, err := l.cli.SetNX(ctx, key, owner, ttl)
	switch {
	case err != nil:
		return "", fmt.Errorf("redis lock %q: %w", key, err)
	case !acquired:
		return "", domain.ErrCheckoutInProgress
	}
	return owner, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	if _, err := l.cli.CompareAndDelete(ctx, key, token); err != nil {
		return fmt.Errorf("redis unlock %q: %w", key, err)
	}
	return nil
}
