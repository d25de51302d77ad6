// Package lock provides the redis backed run lock for bulk reconciliation passes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/reconciler/internal/shared"
)

// DefaultTTL bounds how long a crashed holder can block other runs.
const DefaultTTL = 2 * time.Minute

// Locker hands out exclusive, expiring locks.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

var _ shared.RunLocker = (*Locker)(nil)

// New constructs a Locker over an existing redis client.
func New(client redis.Scripter, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{client: redislock.New(client), ttl: ttl}
}

// Acquire obtains key without waiting. A held lock yields shared.ErrRunInProgress.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("platform/lock: locker not configured")
	}
	held, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("platform/lock: %s: %w", key, shared.ErrRunInProgress)
	}
	if err != nil {
		return nil, fmt.Errorf("platform/lock: obtain %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := held.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("platform/lock: release %s: %w", key, err)
		}
		return nil
	}, nil
}
