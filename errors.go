package rvf

import (
	"errors"
	"fmt"

	"github.com/ruvector/rvf/container"
	"github.com/ruvector/rvf/migration"
)

var (
	// ErrNotFound is returned when a key, vector or segment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned on use after Close.
	ErrClosed = errors.New("backend is closed")

	// ErrReadOnly is returned for mutations on a read-only backend.
	ErrReadOnly = errors.New("backend is read-only")

	// ErrLocked is returned when another process holds the write lock.
	ErrLocked = errors.New("store is locked by another writer")

	// ErrMigrationRequired is returned for write attempts on a legacy
	// store that was opened without migration (read-only or with
	// auto-migration disabled).
	ErrMigrationRequired = errors.New("legacy store requires migration")

	// ErrInvalidK is returned when a search asks for a non-positive k.
	ErrInvalidK = errors.New("k must be positive")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, container.ErrNotFound) || errors.Is(err, container.ErrSegmentNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, container.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, container.ErrReadOnly) {
		return fmt.Errorf("%w: %w", ErrReadOnly, err)
	}
	if errors.Is(err, container.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrLocked, err)
	}
	if errors.Is(err, migration.ErrMigrationFailed) {
		return err
	}

	return err
}
