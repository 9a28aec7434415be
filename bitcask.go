// Package bitcaskdb implements the Bitcask log-structured key/value store
// model: an append-only per-directory log, an in-memory keydir index, and a
// merge pass that compacts old segments. See merge for compaction and the
// datafile/keydir/lockfile/record packages for the on-disk pieces.
package bitcaskdb

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/acme/bitcaskdb/datafile"
	"github.com/acme/bitcaskdb/keydir"
	"github.com/acme/bitcaskdb/lockfile"
	"github.com/acme/bitcaskdb/merge"
	"github.com/acme/bitcaskdb/record"
)

// Stats reports operational bookkeeping about an open store.
type Stats struct {
	Datafiles        int
	Keys             int
	Size             int64
	ReclaimableSpace int64
}

// Bitcask is a handle on an open store directory. A handle opened without
// WithReadWrite() is read-only: Put and Delete return ErrReadOnly.
type Bitcask struct {
	mu   sync.RWMutex
	path string
	opt  *option

	lock *lockfile.Lock // nil unless opt.readWrite
	curr *datafile.File // nil unless opt.readWrite

	datafiles map[int64]*datafile.File
	index     *keydir.Keydir
	metadata  *metadata

	closed bool
}

// Open opens (creating if necessary) the store at path.
func Open(path string, funcs ...OptionFunc) (*Bitcask, error) {
	opt := newDefaultOption()
	for _, fn := range funcs {
		if err := fn(opt); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, errors.WithStack(err)
	}

	var lock *lockfile.Lock
	if opt.readWrite {
		lk, err := lockfile.Acquire(lockfile.Write, path)
		if err != nil {
			if errors.Is(err, lockfile.ErrLocked) {
				return nil, errors.WithStack(ErrWriteLocked)
			}
			return nil, errors.Wrap(err, "bitcaskdb: acquiring write lock")
		}
		lock = lk
	}

	excludeID := int64(-1)
	if !opt.readWrite {
		if _, activeFilename, found, err := lockfile.Check(lockfile.Write, path); err == nil && found && activeFilename != "" {
			if id, err := datafile.FileTstamp(activeFilename); err == nil {
				excludeID = id
			}
		}
	}

	allIDs, err := datafile.ListFileIDs(path)
	if err != nil {
		releaseLock(lock)
		return nil, errors.Wrap(err, "bitcaskdb: listing data files")
	}

	readIDs := make([]int64, 0, len(allIDs))
	for _, id := range allIDs {
		if id == excludeID {
			continue
		}
		readIDs = append(readIDs, id)
	}
	// Newest-first is an optimisation, not a correctness requirement: the
	// keydir's monotonic-tstamp Put converges to the same result regardless
	// of scan order.
	sortDescending(readIDs)

	index := keydir.New()
	datafiles := make(map[int64]*datafile.File, len(readIDs))
	for _, id := range readIDs {
		if err := datafile.LoadFileIntoKeydir(path, id, index, true, opt.logger); err != nil {
			closeAll(datafiles)
			releaseLock(lock)
			if errors.Is(err, record.ErrCorrupt) {
				return nil, errors.Wrap(ErrCorruptRecord, err.Error())
			}
			return nil, errors.Wrapf(err, "bitcaskdb: indexing data file %d", id)
		}
		f, err := datafile.OpenReadonly(datafile.MkFilename(path, id))
		if err != nil {
			closeAll(datafiles)
			releaseLock(lock)
			return nil, errors.Wrapf(err, "bitcaskdb: opening data file %d", id)
		}
		datafiles[id] = f
	}

	meta, err := loadMetadata(path)
	if err != nil {
		closeAll(datafiles)
		releaseLock(lock)
		return nil, err
	}

	var curr *datafile.File
	if opt.readWrite {
		f, err := datafile.Create(path)
		if err != nil {
			closeAll(datafiles)
			releaseLock(lock)
			return nil, errors.Wrap(err, "bitcaskdb: creating write file")
		}
		curr = f
		if err := lock.Update(filepath.Base(f.Name())); err != nil {
			f.Close()
			closeAll(datafiles)
			releaseLock(lock)
			return nil, err
		}
	}

	return &Bitcask{
		path:      path,
		opt:       opt,
		lock:      lock,
		curr:      curr,
		datafiles: datafiles,
		index:     index,
		metadata:  meta,
	}, nil
}

func releaseLock(l *lockfile.Lock) {
	if l != nil {
		l.Release()
	}
}

func closeAll(datafiles map[int64]*datafile.File) {
	for _, f := range datafiles {
		f.Close()
	}
}

func sortDescending(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
}

// Close flushes and releases every resource held by the store. Close is
// idempotent.
func (b *Bitcask) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if b.curr != nil {
		keep(b.curr.Close())
	}
	closeAll(b.datafiles)
	keep(saveMetadata(b.path, b.metadata))
	if b.lock != nil {
		keep(b.lock.Release())
	}
	return first
}

// Get returns the current value of key, or ErrKeyNotFound if it has none.
func (b *Bitcask) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.WithStack(ErrInvalidArgument)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errors.WithStack(ErrClosed)
	}

	entry, ok := b.index.Get(key)
	if !ok {
		return nil, errors.WithStack(ErrKeyNotFound)
	}

	f := b.fileForRead(entry.FileID)
	if f == nil {
		return nil, errors.Errorf("bitcaskdb: keydir references unknown file %d", entry.FileID)
	}

	_, value, _, err := f.ReadAt(entry.Offset, entry.TotalSize)
	if err != nil {
		return nil, errors.Wrap(ErrCorruptRecord, err.Error())
	}
	if record.IsTombstone(value) {
		return nil, errors.WithStack(ErrKeyNotFound)
	}
	return value, nil
}

func (b *Bitcask) fileForRead(fileID int64) *datafile.File {
	if b.curr != nil && b.curr.ID() == fileID {
		return b.curr
	}
	return b.datafiles[fileID]
}

// Put stores value under key, replacing any current value.
func (b *Bitcask) Put(key, value []byte) error {
	return b.put(key, value)
}

// Delete removes key. It is implemented as writing a tombstone record, so a
// deleted key still occupies keydir and log space until the next merge.
func (b *Bitcask) Delete(key []byte) error {
	return b.put(key, []byte(record.Tombstone))
}

func (b *Bitcask) put(key, value []byte) error {
	if len(key) == 0 {
		return errors.WithStack(ErrInvalidArgument)
	}
	if !b.opt.readWrite {
		return errors.WithStack(ErrReadOnly)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.WithStack(ErrClosed)
	}

	tstamp := uint32(time.Now().Unix())
	offset, total, err := b.curr.Write(key, value, tstamp)
	if err != nil {
		if errors.Is(err, record.ErrKeyTooLarge) || errors.Is(err, record.ErrValueTooLarge) {
			return errors.WithStack(ErrInvalidArgument)
		}
		return err
	}

	if old, ok := b.index.Get(key); ok {
		b.metadata.ReclaimableSpace += old.TotalSize
	}
	b.index.Put(key, keydir.Entry{FileID: b.curr.ID(), Offset: offset, TotalSize: total, Tstamp: tstamp})

	// A fresh/empty file always accepts its first write regardless of size
	// (see datafile.File.CheckWrite); once a file is non-empty its own
	// size is what decides whether the *next* write rotates onto a new
	// file, checked here rather than before this write so that a
	// max_file_size smaller than a single record still makes progress.
	if b.curr.Size() > b.opt.maxFileSize {
		if err := b.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bitcask) rotateLocked() error {
	old := b.curr
	if err := old.Sync(); err != nil {
		return err
	}
	if err := old.Close(); err != nil {
		return err
	}

	ro, err := datafile.OpenReadonly(old.Name())
	if err != nil {
		return errors.Wrap(err, "bitcaskdb: reopening rotated file read-only")
	}
	b.datafiles[ro.ID()] = ro

	f, err := datafile.Create(b.path)
	if err != nil {
		return errors.Wrap(err, "bitcaskdb: creating rotated write file")
	}
	b.curr = f

	if b.opt.logger != nil {
		b.opt.logger.Printf("bitcaskdb: rotated to %s", f.Name())
	}
	return b.lock.Update(filepath.Base(f.Name()))
}

// Sync flushes the active write file to stable storage.
func (b *Bitcask) Sync() error {
	if !b.opt.readWrite {
		return errors.WithStack(ErrReadOnly)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.WithStack(ErrClosed)
	}
	return b.curr.Sync()
}

// Stats reports the number of data files, indexed keys, on-disk size, and
// bytes that a merge could reclaim.
func (b *Bitcask) Stats() (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return Stats{}, errors.WithStack(ErrClosed)
	}

	n := len(b.datafiles)
	if b.curr != nil {
		n++
	}

	size, err := calcDirSize(b.path)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Datafiles:        n,
		Keys:             b.index.Len(),
		Size:             size,
		ReclaimableSpace: b.metadata.ReclaimableSpace,
	}, nil
}

func calcDirSize(path string) (int64, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, errors.WithStack(err)
		}
		total += info.Size()
	}
	return total, nil
}

// Merge compacts every immutable data file of the store at path into a
// smaller set holding only each key's current value. It is a standalone
// operation, not a method on an open handle: it takes the merge lock itself
// and never touches whatever file an open writer is currently appending to,
// so it may safely run concurrently with one.
func Merge(path string, funcs ...OptionFunc) error {
	opt := newDefaultOption()
	for _, fn := range funcs {
		if err := fn(opt); err != nil {
			return errors.WithStack(err)
		}
	}

	_, err := merge.Run(path, merge.Options{
		MaxFileSize: opt.maxFileSize,
		Limiter:     opt.limiter,
		Logger:      opt.logger,
	})
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			return errors.WithStack(ErrMergeLocked)
		}
		return err
	}
	return saveMetadata(path, &metadata{})
}
