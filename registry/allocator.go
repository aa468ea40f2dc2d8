// Package registry allocates stable ids for names out of registry files.
//
// A registry is a plain text file of name=id lines. The first time a name is
// requested it receives the smallest id at or above the requested start that
// no other name in the same registry holds, and that record is appended to
// the file. Later requests for the name return the recorded id. Every call
// reloads the file under an exclusive advisory lock, so any number of
// processes may share one registry.
//
// Names are compared as plain strings. Two unrelated entities that present
// the same name to the same registry get the same id.
package registry

import (
	"context"
	"math"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zfair/zuid/internal/lock"
	"github.com/zfair/zuid/internal/store"
	"github.com/zfair/zuid/internal/util"
	"github.com/zfair/zuid/zerrors"
)

// DefaultFileName is the registry used when a caller names none.
const DefaultFileName = "types.toml"

// Result of an allocation.
type Result struct {
	ID uint64
	// Created is set when the record did not exist and was appended.
	Created bool
}

// Allocator hands out ids from registry files. It keeps no state between
// calls and is safe for concurrent use.
type Allocator struct {
	logger      *zap.Logger
	lockTimeout time.Duration
	retryDelay  time.Duration
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Allocator) { a.logger = logger }
}

// WithLockTimeout bounds how long an allocation waits for the registry lock.
// Zero, the default, waits forever.
func WithLockTimeout(d time.Duration) Option {
	return func(a *Allocator) { a.lockTimeout = d }
}

// WithRetryDelay sets how often a bounded wait polls the lock.
func WithRetryDelay(d time.Duration) Option {
	return func(a *Allocator) { a.retryDelay = d }
}

// NewAllocator creates an allocator.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		logger:     zap.NewNop(),
		retryDelay: lock.DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// ValidateName rejects names that cannot be stored as a single registry line.
func ValidateName(name string) error {
	if name == "" {
		return errors.Wrap(zerrors.ErrInvalidName, "empty name")
	}
	if strings.ContainsAny(name, "=\r\n") {
		return errors.Wrapf(zerrors.ErrInvalidName, "%q contains '=' or a line break", name)
	}
	return nil
}

// Next decides the id for name given the current registry content. A known
// name keeps its id. An unknown name gets the first id at or above start that
// is not taken; the scan moves upward only and never wraps.
func Next(m store.Mapping, name string, start uint64) (uint64, bool, error) {
	if id, ok := m.Lookup(name); ok {
		return id, false, nil
	}
	taken := m.Taken()
	for id := start; ; id++ {
		if _, ok := taken[id]; !ok {
			return id, true, nil
		}
		if id == math.MaxUint64 {
			return 0, false, errors.Wrapf(zerrors.ErrIDSpaceExhausted, "start %d", start)
		}
	}
}

// GenID returns the id of name in the registry at path, allocating and
// recording one if needed. An empty path means DefaultFileName.
func (a *Allocator) GenID(path, name string, start uint64) (uint64, error) {
	res, err := a.Allocate(context.Background(), path, name, start)
	if err != nil {
		return 0, err
	}
	return res.ID, nil
}

// Allocate is GenID reporting whether the record was created. Waiting for
// the lock honours ctx cancellation and the configured lock timeout.
func (a *Allocator) Allocate(ctx context.Context, path, name string, start uint64) (Result, error) {
	if err := ValidateName(name); err != nil {
		return Result{}, err
	}
	path = orDefault(path)

	var res Result
	err := a.exclusive(ctx, path, func() error {
		m, err := store.Load(path)
		if err != nil {
			return err
		}
		id, created, err := Next(m, name, start)
		if err != nil {
			return err
		}
		if created {
			if err := store.Append(path, name, id); err != nil {
				return err
			}
		}
		res = Result{ID: id, Created: created}
		return nil
	})
	if err != nil {
		a.logger.Error(
			"Registry allocation failed",
			zap.String("registry", path),
			zap.String("name", name),
			zap.Error(err),
		)
		return Result{}, err
	}

	fields := []zap.Field{
		zap.String("registry", path),
		zap.Uint64("registryID", util.Fingerprint(path)),
		zap.String("name", name),
		zap.Uint64("id", res.ID),
	}
	if res.Created {
		a.logger.Info("Registry record created", append(fields, zap.Uint64("start", start))...)
	} else {
		a.logger.Debug("Registry record found", fields...)
	}
	return res, nil
}

// Lookup returns the recorded id of name without allocating. A registry file
// that does not exist is reported as empty and is not created.
func (a *Allocator) Lookup(path, name string) (uint64, bool, error) {
	var (
		id uint64
		ok bool
	)
	err := a.shared(orDefault(path), func(m store.Mapping) {
		id, ok = m.Lookup(name)
	})
	return id, ok, err
}

// Records lists the registry at path sorted by id.
func (a *Allocator) Records(path string) ([]store.Record, error) {
	var records []store.Record
	err := a.shared(orDefault(path), func(m store.Mapping) {
		records = m.Records()
	})
	return records, err
}

func (a *Allocator) shared(path string, fn func(store.Mapping)) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			fn(store.Mapping{})
			return nil
		}
		return zerrors.NewIOError("stat", path, err)
	}
	return lock.WithShared(path, func() error {
		m, err := store.Load(path)
		if err != nil {
			return err
		}
		fn(m)
		return nil
	})
}

func (a *Allocator) exclusive(ctx context.Context, path string, fn func() error) error {
	if a.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.lockTimeout)
		defer cancel()
	}
	if ctx.Done() == nil {
		return lock.WithExclusive(path, fn)
	}
	return lock.WithExclusiveContext(ctx, path, a.retryDelay, fn)
}

func orDefault(path string) string {
	if path == "" {
		return DefaultFileName
	}
	return path
}
