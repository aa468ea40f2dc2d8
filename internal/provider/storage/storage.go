package storage

import (
	"context"
	"io"
	"time"

	"github.com/zfair/zuid/internal/config"
)

// Record is a registry record as mirrored into audit storage.
type Record struct {
	Registry  string    `json:"registry"`
	Name      string    `json:"name"`
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type QueryOptions struct {
	Registry string    // exact registry file name, empty for all
	Name     string    // exact record name, empty for all
	From     time.Time // records created at or after
	Until    time.Time // records created before
	Limit    uint64    // query limit
	Offset   uint64    // query offset
}

// Storage keeps an append-only copy of every record the service created.
// The registry files stay the source of truth; a storage provider is never
// read back to decide an allocation.
type Storage interface {
	io.Closer
	// Storage implements a config provider.
	config.Provider
	// StoreRecord mirrors a newly created record. Storing a record that is
	// already present is not an error.
	StoreRecord(ctx context.Context, r *Record) error
	// QueryRecords lists mirrored records ordered by creation time.
	QueryRecords(ctx context.Context, opts QueryOptions) ([]*Record, error)
}
