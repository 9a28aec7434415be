package bitcaskdb

import "github.com/pkg/errors"

var (
	// ErrWriteLocked is returned by Open(WithReadWrite()) when another
	// process already holds the store's write lock.
	ErrWriteLocked = errors.New("bitcaskdb: store is write-locked by another process")

	// ErrMergeLocked is returned by Merge when another process is already
	// merging this store.
	ErrMergeLocked = errors.New("bitcaskdb: store is merge-locked by another process")

	// ErrReadOnly is returned by Put/Delete on a store opened without
	// WithReadWrite().
	ErrReadOnly = errors.New("bitcaskdb: store is read-only")

	// ErrKeyNotFound is returned by Get when the key has no live value.
	ErrKeyNotFound = errors.New("bitcaskdb: key not found")

	// ErrCorruptRecord is returned when a stored record fails its checksum.
	ErrCorruptRecord = errors.New("bitcaskdb: corrupt record")

	// ErrInvalidArgument is returned for an empty key or an oversize key/value.
	ErrInvalidArgument = errors.New("bitcaskdb: invalid argument")

	// ErrClosed is returned by any operation on a store that has been closed.
	ErrClosed = errors.New("bitcaskdb: store is closed")
)
