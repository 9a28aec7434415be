// Package merge implements compaction: rewriting a store's immutable data
// files into a smaller set containing only each key's current value, with a
// hint-file sidecar per output so a later open can rebuild its keydir slice
// without a full scan.
package merge

import (
	"context"
	"log"
	"math"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/acme/bitcaskdb/datafile"
	"github.com/acme/bitcaskdb/keydir"
	"github.com/acme/bitcaskdb/lockfile"
	"github.com/acme/bitcaskdb/record"
)

// Options configures a single merge pass.
type Options struct {
	MaxFileSize int64
	Limiter     *rate.Limiter
	Logger      *log.Logger
}

// Result reports what a merge did, for callers that want to log it.
type Result struct {
	OutputFileIDs  []int64
	RemovedFileIDs []int64
}

// Run compacts every immutable data file in dir, excluding whichever file
// the current writer (if any) is actively appending to. It acquires the
// merge lock itself and holds it for the whole pass; a write lock held by a
// live writer does not block it, since merge never touches the active file.
func Run(dir string, opt Options) (Result, error) {
	lock, err := lockfile.Acquire(lockfile.Merge, dir)
	if err != nil {
		return Result{}, errors.Wrap(err, "merge: acquiring merge lock")
	}
	defer lock.Release()

	if opt.MaxFileSize <= 0 {
		opt.MaxFileSize = math.MaxInt64
	}

	activeID := int64(-1)
	if _, activeFilename, found, err := lockfile.Check(lockfile.Write, dir); err == nil && found && activeFilename != "" {
		if id, err := datafile.FileTstamp(activeFilename); err == nil {
			activeID = id
		}
	}

	allIDs, err := datafile.ListFileIDs(dir)
	if err != nil {
		return Result{}, errors.Wrap(err, "merge: listing data files")
	}

	sourceIDs := make([]int64, 0, len(allIDs))
	for _, id := range allIDs {
		if id == activeID {
			continue
		}
		sourceIDs = append(sourceIDs, id)
	}
	if len(sourceIDs) == 0 {
		return Result{}, nil
	}

	live := keydir.New()
	for _, id := range sourceIDs {
		if err := datafile.LoadFileIntoKeydir(dir, id, live, true, opt.Logger); err != nil {
			return Result{}, errors.Wrapf(err, "merge: indexing source file %d", id)
		}
	}

	s := &sweep{dir: dir, opt: opt, live: live, hint: keydir.New(), del: map[string]uint32{}}

	for _, id := range sourceIDs {
		s.srcID = id
		path := datafile.MkFilename(dir, id)
		if err := datafile.Fold(path, opt.Logger, s.visit); err != nil {
			s.abort()
			return Result{}, errors.Wrapf(err, "merge: sweeping source file %d", id)
		}
	}
	if err := s.finish(); err != nil {
		return Result{}, err
	}

	for _, id := range sourceIDs {
		if err := os.Remove(datafile.MkFilename(s.dir, id)); err != nil && !os.IsNotExist(err) {
			return Result{}, errors.Wrapf(err, "merge: removing compacted file %d", id)
		}
		_ = os.Remove(datafile.MkHintFilename(s.dir, id))
	}

	return Result{OutputFileIDs: s.outputIDs, RemovedFileIDs: sourceIDs}, nil
}

// sweep holds the state threaded through a single merge pass's per-record
// callback: the authoritative pre-built index (live), the hint_keydir of
// keys already written to any output of this merge, and the del_keydir of
// keys whose most recently observed record (so far) was a tombstone.
type sweep struct {
	dir   string
	opt   Options
	srcID int64 // file ID of the source file being folded

	live *keydir.Keydir
	hint *keydir.Keydir
	del  map[string]uint32

	cur        *datafile.File
	curEntries []datafile.HintEntry
	outputIDs  []int64
}

func (s *sweep) visit(key, value []byte, tstamp uint32, offset, total int64) error {
	k := string(key)

	// The live keydir holds each key's winner; a record it outranks (greater
	// tstamp, then file ID, then offset, as keydir.Put orders them) is stale.
	if e, ok := s.live.Get(key); ok && (e.Tstamp > tstamp ||
		(e.Tstamp == tstamp && (e.FileID > s.srcID || (e.FileID == s.srcID && e.Offset > offset)))) {
		return nil
	}
	if e, ok := s.hint.Get(key); ok && e.Tstamp > tstamp {
		return nil
	}
	if dt, ok := s.del[k]; ok && dt > tstamp {
		return nil
	}

	if record.IsTombstone(value) {
		if cur, ok := s.del[k]; !ok || tstamp > cur {
			s.del[k] = tstamp
		}
		return nil
	}
	delete(s.del, k)

	if s.opt.Limiter != nil {
		n := int(record.FrameSize) + len(key) + len(value)
		if err := s.opt.Limiter.WaitN(context.Background(), n); err != nil {
			return errors.WithStack(err)
		}
	}

	if s.cur == nil || s.cur.CheckWrite(key, value, s.opt.MaxFileSize) {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	outOffset, outTotal, err := s.cur.Write(key, value, tstamp)
	if err != nil {
		return err
	}

	s.hint.Put(key, keydir.Entry{FileID: s.cur.ID(), Offset: outOffset, TotalSize: outTotal, Tstamp: tstamp})
	s.curEntries = append(s.curEntries, datafile.HintEntry{
		Tstamp:      tstamp,
		Key:         append([]byte(nil), key...),
		ValueOffset: outOffset + record.FrameSize + int64(len(key)),
		ValueSize:   int64(len(value)),
	})
	return nil
}

func (s *sweep) rotate() error {
	if err := s.closeCurrent(); err != nil {
		return err
	}
	f, err := datafile.Create(s.dir)
	if err != nil {
		return errors.WithStack(err)
	}
	s.cur = f
	s.curEntries = nil
	s.outputIDs = append(s.outputIDs, f.ID())
	return nil
}

func (s *sweep) closeCurrent() error {
	if s.cur == nil {
		return nil
	}
	id := s.cur.ID()
	if err := s.cur.Close(); err != nil {
		return errors.WithStack(err)
	}
	tmp := datafile.MkMergeHintFilename(s.dir, id)
	final := datafile.MkHintFilename(s.dir, id)
	if err := datafile.WriteHintFile(tmp, final, s.curEntries); err != nil && s.opt.Logger != nil {
		s.opt.Logger.Printf("merge: hint emission failed for %d: %+v", id, err)
	}
	s.cur = nil
	s.curEntries = nil
	return nil
}

func (s *sweep) finish() error {
	return s.closeCurrent()
}

func (s *sweep) abort() {
	if s.cur != nil {
		s.cur.Close()
	}
}
