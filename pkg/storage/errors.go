package storage

import "errors"

var (
	// ErrNotFound is returned when a required object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrReadOnly is returned when writing through a path with no
	// writable mount, or to a read-only backing storage.
	ErrReadOnly = errors.New("storage is read-only")

	// ErrBadObject is returned when stored data cannot be parsed or
	// initialized into an object.
	ErrBadObject = errors.New("malformed object data")

	// ErrIO wraps underlying file, archive or database failures.
	ErrIO = errors.New("storage I/O failure")
)
