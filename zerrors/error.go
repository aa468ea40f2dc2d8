// Package zerrors contains all project-wide errors.
package zerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidName      = errors.New("Invalid record name")
	ErrUnknownIDType    = errors.New("Unknown id type")
	ErrIDSpaceExhausted = errors.New("No id available above start")
	ErrRecordNotFound   = errors.New("Record not found")
	ErrInvalidRegistry  = errors.New("Invalid registry name")
)

// IOError reports a failure to open, read, write or lock a registry file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError wraps err with the operation and path it failed on.
func NewIOError(op, path string, err error) error {
	return errors.WithStack(&IOError{Op: op, Path: path, Err: err})
}

// NarrowingError reports an id that does not fit the caller's id type.
type NarrowingError struct {
	ID     uint64
	Target string
}

func (e *NarrowingError) Error() string {
	return fmt.Sprintf("id %d does not fit into %s", e.ID, e.Target)
}
