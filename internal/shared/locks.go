package shared

import (
	"context"
	"fmt"
)

// RunLocker serialises bulk reconciliation passes across processes.
type RunLocker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// RunLockKey builds redis keys for a bulk reconciliation pass.
func RunLockKey(pass string) string {
	return fmt.Sprintf("reconcile:%s:lock", pass)
}

// AcquireRun takes the lock for pass when locker is configured. The returned
// release func is never nil.
func AcquireRun(ctx context.Context, locker RunLocker, pass string) (func(context.Context) error, error) {
	if locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	release, err := locker.Acquire(ctx, RunLockKey(pass))
	if err != nil {
		return nil, err
	}
	if release == nil {
		release = func(context.Context) error { return nil }
	}
	return release, nil
}
