// Package lock serializes access to a registry file with whole-file
// advisory locks. Locks are taken on a fresh file description per call, so
// they exclude other processes as well as other callers in the same process.
package lock

import (
	"context"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/zfair/zuid/zerrors"
)

const fileMode = 0644

// DefaultRetryDelay is the polling interval used by the context-aware
// variants when the caller passes a non-positive delay.
const DefaultRetryDelay = 10 * time.Millisecond

// WithExclusive creates path if needed, blocks until an exclusive lock is
// granted, runs fn and releases the lock on every exit path.
func WithExclusive(path string, fn func() error) error {
	return with(path, (*flock.Flock).Lock, fn)
}

// WithShared is WithExclusive with a shared lock, for read-only access.
func WithShared(path string, fn func() error) error {
	return with(path, (*flock.Flock).RLock, fn)
}

// WithExclusiveContext polls for an exclusive lock every retryDelay until it
// is granted or ctx is done.
func WithExclusiveContext(ctx context.Context, path string, retryDelay time.Duration, fn func() error) error {
	return withContext(ctx, path, retryDelay, (*flock.Flock).TryLockContext, fn)
}

// WithSharedContext is WithExclusiveContext with a shared lock.
func WithSharedContext(ctx context.Context, path string, retryDelay time.Duration, fn func() error) error {
	return withContext(ctx, path, retryDelay, (*flock.Flock).TryRLockContext, fn)
}

func with(path string, acquire func(*flock.Flock) error, fn func() error) error {
	fl, err := open(path)
	if err != nil {
		return err
	}
	if err := acquire(fl); err != nil {
		_ = fl.Close()
		return zerrors.NewIOError("lock", path, err)
	}
	return run(fl, path, fn)
}

func withContext(
	ctx context.Context,
	path string,
	retryDelay time.Duration,
	acquire func(*flock.Flock, context.Context, time.Duration) (bool, error),
	fn func() error,
) error {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	fl, err := open(path)
	if err != nil {
		return err
	}
	locked, err := acquire(fl, ctx, retryDelay)
	if err == nil && !locked {
		err = ctx.Err()
	}
	if err != nil {
		_ = fl.Close()
		return zerrors.NewIOError("lock", path, err)
	}
	return run(fl, path, fn)
}

// open makes sure the file exists with a readable mode before flock opens
// its own handle on it.
func open(path string) (*flock.Flock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, fileMode)
	if err != nil {
		return nil, zerrors.NewIOError("open", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, zerrors.NewIOError("open", path, err)
	}
	return flock.New(path), nil
}

func run(fl *flock.Flock, path string, fn func() error) (err error) {
	defer func() {
		if uerr := fl.Unlock(); uerr != nil && err == nil {
			err = zerrors.NewIOError("unlock", path, uerr)
		}
	}()
	return fn()
}
