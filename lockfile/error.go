package lockfile

import "github.com/pkg/errors"

var (
	// ErrLocked is returned by Acquire when a live owner already holds the lock.
	ErrLocked = errors.New("lockfile: already locked")
)
