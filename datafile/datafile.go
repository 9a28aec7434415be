// Package datafile implements the append-only, per-file half of the
// Bitcask log: record framing lives in package record, this package owns
// file lifecycle (create/open/rotate/delete), the append path, random
// reads, and the sequential fold used to rebuild the keydir at open.
package datafile

import (
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"

	"github.com/acme/bitcaskdb/record"
)

// File is a single data (or, transiently, a merge-output) file: either the
// one active write file of a store, or one of its immutable read files.
type File struct {
	id       int64
	path     string
	w        *os.File // nil once rotated away from / opened read-only
	r        *os.File
	ra       *mmap.ReaderAt // non-nil for read-only files; avoids a seek per read
	offset   int64
	readonly bool
}

// FoldFunc is called once per record during Fold, in file order, with the
// record's start offset and its total on-disk size.
type FoldFunc func(key, value []byte, tstamp uint32, offset, totalSize int64) error

// ID returns the file's integer file ID.
func (f *File) ID() int64 { return f.id }

// Name returns the file's absolute path.
func (f *File) Name() string { return f.path }

// Size returns the current append offset (== file length for a write file).
func (f *File) Size() int64 { return f.offset }

// Create creates a fresh, writable data file in dir, picking the next
// available file ID (current wall-clock second, busy-bumped on collision).
func Create(dir string) (*File, error) {
	id, err := nextFileID(dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return openForWrite(MkFilename(dir, id), id)
}

func openForWrite(path string, id int64) (*File, error) {
	w, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0640)
	if err != nil {
		return nil, errors.Wrapf(err, "datafile: opening %s for append", path)
	}
	r, err := os.Open(path)
	if err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "datafile: opening %s for read", path)
	}
	stat, err := r.Stat()
	if err != nil {
		w.Close()
		r.Close()
		return nil, errors.WithStack(err)
	}
	return &File{id: id, path: path, w: w, r: r, offset: stat.Size()}, nil
}

// OpenReadonly opens an existing, immutable data file for reads only. It is
// backed by a memory-mapped reader so random reads (Get) cost no extra
// syscall once the file is mapped.
func OpenReadonly(path string) (*File, error) {
	id, err := FileTstamp(path)
	if err != nil {
		return nil, err
	}

	r, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "datafile: opening %s", path)
	}
	stat, err := r.Stat()
	if err != nil {
		r.Close()
		return nil, errors.WithStack(err)
	}

	ra, err := mmap.Open(path)
	if err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "datafile: mmap.Open %s", path)
	}

	return &File{
		id:       id,
		path:     path,
		r:        r,
		ra:       ra,
		offset:   stat.Size(),
		readonly: true,
	}, nil
}

// Close releases the file's handles. A write file is synced first.
func (f *File) Close() error {
	if f.w != nil {
		if err := f.Sync(); err != nil {
			return err
		}
		if err := f.w.Close(); err != nil {
			return errors.WithStack(err)
		}
	}
	if f.ra != nil {
		if err := f.ra.Close(); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(f.r.Close())
}

// Sync flushes the active write file to stable storage.
func (f *File) Sync() error {
	if f.w == nil {
		return nil
	}
	return errors.WithStack(f.w.Sync())
}

// Delete closes and removes the file from disk.
func (f *File) Delete() error {
	f.Close()
	return errors.WithStack(os.Remove(f.path))
}

// CheckWrite reports whether appending this (key, value) would push the
// file past maxSize. An empty file never reports wrap on its first write,
// so an oversize value is never permanently unwritable.
func (f *File) CheckWrite(key, value []byte, maxSize int64) (wrap bool) {
	if f.offset == 0 {
		return false
	}
	size := record.FrameSize + int64(len(key)) + int64(len(value))
	return f.offset+size > maxSize
}

// Write appends (key, value, tstamp) to the file and returns the record's
// start offset and its total on-disk size.
func (f *File) Write(key, value []byte, tstamp uint32) (offset int64, totalSize int64, err error) {
	if f.w == nil {
		return 0, 0, errors.WithStack(ErrReadOnly)
	}

	buf, err := record.Encode(key, value, tstamp)
	if err != nil {
		return 0, 0, err
	}

	prevOffset := f.offset
	n, err := f.w.Write(buf)
	if err != nil {
		return 0, 0, errors.WithStack(err)
	}
	f.offset += int64(n)

	return prevOffset, int64(n), nil
}

// ReadAt decodes the record of totalSize bytes starting at offset.
func (f *File) ReadAt(offset, totalSize int64) (key, value []byte, tstamp uint32, err error) {
	sr := f.sectionReader(offset, totalSize)
	return record.Decode(sr)
}

func (f *File) sectionReader(offset, size int64) *io.SectionReader {
	if f.ra != nil {
		return io.NewSectionReader(f.ra, offset, size)
	}
	return io.NewSectionReader(f.r, offset, size)
}

// Fold performs a sequential scan of the entire file from offset 0, calling
// fn once per record. A truncated tail record (the expected footprint of a
// writer killed mid-append) stops the scan cleanly with no error. A CRC
// mismatch on a record that *was* fully readable is treated as interior
// corruption and aborts the scan with an error, since only a genuinely
// truncated tail is tolerated.
func Fold(path string, logger *log.Logger, fn FoldFunc) error {
	r, err := os.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer r.Close()

	offset := int64(0)
	for {
		key, value, tstamp, err := record.Decode(r)
		if err != nil {
			if errors.Is(err, record.ErrTruncated) {
				if logger != nil {
					logger.Printf("datafile: %s truncated tail at offset %d, stopping scan", path, offset)
				}
				return nil
			}
			return errors.Wrapf(err, "datafile: %s corrupt record at offset %d", path, offset)
		}

		total := record.FrameSize + int64(len(key)) + int64(len(value))
		if err := fn(key, value, tstamp, offset, total); err != nil {
			return err
		}
		offset += total
	}
}
