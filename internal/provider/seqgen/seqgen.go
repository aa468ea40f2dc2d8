// Package seqgen provides sequential ids for callers that do not need them
// to survive a restart.
package seqgen

import (
	"context"
	"io"

	"go.uber.org/atomic"

	"github.com/zfair/zuid/internal/config"
)

// Sequencer hands out increasing ids starting at 0.
type Sequencer interface {
	io.Closer
	// Sequencer implements a config provider.
	config.Provider
	// NextID returns the next id of the sequence.
	NextID(ctx context.Context) (uint64, error)
}

var _ Sequencer = (*Counter)(nil)

// Counter is an in-process sequence. The first call to Next returns 0 and
// no value is returned twice by the same Counter. Nothing is persisted, so
// a new process starts over at 0.
type Counter struct {
	next atomic.Uint64
}

// NewCounter creates a counter starting at 0.
func NewCounter() *Counter {
	return &Counter{}
}

// Next returns the current value and advances the counter.
func (c *Counter) Next() uint64 {
	return c.next.Inc() - 1
}

// Name of the in-process sequencer provider.
func (*Counter) Name() string {
	return "memory"
}

// Configure accepts no options.
func (*Counter) Configure(ctx context.Context, config map[string]interface{}) error {
	return nil
}

func (c *Counter) NextID(ctx context.Context) (uint64, error) {
	return c.Next(), nil
}

func (*Counter) Close() error {
	return nil
}
