package container

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the container file is absent. This is
	// benign; the caller may create a fresh container.
	ErrNotFound = errors.New("container file not found")

	// ErrClosed is returned when an operation is attempted on a closed
	// container.
	ErrClosed = errors.New("container is closed")

	// ErrReadOnly is returned when a mutation is attempted on a container
	// opened read-only.
	ErrReadOnly = errors.New("container is read-only")

	// ErrLocked is returned when another process holds the write lock.
	ErrLocked = errors.New("container is locked by another writer")

	// ErrSegmentExists is returned when creating a segment whose id is
	// already taken.
	ErrSegmentExists = errors.New("segment already exists")

	// ErrSegmentNotFound is returned when a segment id is not in the
	// directory.
	ErrSegmentNotFound = errors.New("segment not found")
)

// ChecksumError indicates the whole-file digest disagrees with the file
// contents. The container refuses to open at all.
type ChecksumError struct {
	Expected []byte
	Actual   []byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %x, got %x", e.Expected, e.Actual)
}

// VersionError indicates the file's major version is newer than this
// implementation understands.
type VersionError struct {
	Major uint16
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("unsupported container version %d: upgrade required (this build understands up to %d)", e.Major, MajorVersion)
}
