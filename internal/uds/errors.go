package uds

import (
	"errors"
	"fmt"

	"github.com/maruel/uds/internal/journal"
)

var (
	// ErrInvalidArgument is returned for a malformed field name, record,
	// document or selector.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidTable is returned for a table name that is not recognized.
	ErrInvalidTable = errors.New("invalid table")
	// ErrNotImplemented is returned when committing a record that is not
	// bound to a table.
	ErrNotImplemented = errors.New("not implemented")
	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("store closed")
	// ErrNotPersisted is returned when destroying a record that was never
	// committed.
	ErrNotPersisted = errors.New("record not persisted")

	// ErrFieldNotRecorded is returned by Get for a field without history.
	ErrFieldNotRecorded = journal.ErrFieldNotRecorded
	// ErrInvalidOption is returned by Journal for contradictory options.
	ErrInvalidOption = journal.ErrInvalidOption
)

// BackendError wraps an error returned by the persistence backend. The
// wrapped error is passed through unchanged.
type BackendError struct {
	Op    string
	Table string
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
