// Package lockfile implements the directory-level write/merge lock
// protocol: at most one live writer and at most one live merger per
// store, backed by an OS advisory flock plus a small text body recording
// who holds the lock and which data file they are actively appending to.
package lockfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Kind identifies which of the store's two locks is being manipulated.
type Kind string

const (
	Write Kind = "write"
	Merge Kind = "merge"

	writeLockName = "bitcask.write.lock"
	mergeLockName = "bitcask.merge.lock"
)

func filename(kind Kind) string {
	if kind == Merge {
		return mergeLockName
	}
	return writeLockName
}

// Lock is a held write or merge lock.
type Lock struct {
	mu    sync.Mutex
	kind  Kind
	path  string
	fl    *flock.Flock
	owner string
}

// Identity returns a process identity string suitable as a lock's owner
// field: hostname and pid, so a stale lock's liveness can be checked from
// any process on the same host.
func Identity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// Acquire attempts to take the named lock in dir. If the lock file exists
// but its recorded owner process is no longer alive, Acquire reclaims it —
// the only legitimate way to bypass an existing lock file.
func Acquire(kind Kind, dir string) (*Lock, error) {
	p := filepath.Join(dir, filename(kind))
	fl := flock.New(p)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !ok {
		return nil, errors.WithStack(ErrLocked)
	}

	owner, _, found, err := readBody(p)
	if err != nil {
		fl.Unlock()
		return nil, err
	}
	// TryLock creates the file if it did not exist, so an empty body means
	// no owner was ever recorded rather than a live holder.
	if found && owner != "" && isLiveOwner(owner) {
		fl.Unlock()
		return nil, errors.WithStack(ErrLocked)
	}

	self := Identity()
	if err := writeBody(p, self, ""); err != nil {
		fl.Unlock()
		return nil, err
	}

	return &Lock{kind: kind, path: p, fl: fl, owner: self}, nil
}

// Release removes the lock file and drops the OS-level flock.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return errors.WithStack(l.fl.Unlock())
}

// Update rewrites the lock body to record the active data file name, so a
// concurrent read-only Open can discover and exclude it.
func (l *Lock) Update(activeFilename string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return writeBody(l.path, l.owner, activeFilename)
}

// Check reads a lock file's body without acquiring it, returning the
// recorded owner and active filename. found is false if no lock file
// exists in dir.
func Check(kind Kind, dir string) (owner, activeFilename string, found bool, err error) {
	p := filepath.Join(dir, filename(kind))
	return readBody(p)
}

func writeBody(path, owner, activeFilename string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s %s\n", owner, activeFilename); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(f.Sync())
}

func readBody(path string) (owner, activeFilename string, found bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", false, nil
		}
		return "", "", false, errors.WithStack(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return "", "", true, nil
	}
	line := strings.TrimSpace(scanner.Text())
	fields := strings.SplitN(line, " ", 2)
	owner = fields[0]
	if len(fields) > 1 {
		activeFilename = fields[1]
	}
	return owner, activeFilename, true, nil
}

// isLiveOwner reports whether owner (a "host:pid" identity string) names a
// still-running process. An owner on a different host, or one whose format
// we cannot parse, is conservatively treated as live so that we never steal
// a lock we cannot actually verify is dead.
func isLiveOwner(owner string) bool {
	host, pidStr, ok := strings.Cut(owner, ":")
	if !ok {
		return true
	}
	selfHost, err := os.Hostname()
	if err != nil || host != selfHost {
		return true
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return true
	}
	return processAlive(pid)
}
