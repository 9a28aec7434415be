package datafile

import (
	"encoding/binary"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/acme/bitcaskdb/keydir"
	"github.com/acme/bitcaskdb/record"
)

// HintEntry is one row of a hint file: tstamp(4) | ksz(4) | vsz(4) |
// value_offset(8) | key(ksz).
type HintEntry struct {
	Tstamp      uint32
	Key         []byte
	ValueOffset int64
	ValueSize   int64
}

const hintFixedSize = 4 + 4 + 4 + 8

// WriteHintFile serialises entries to tmpPath and atomically renames it to
// finalPath. Hint emission is best-effort by contract (§4.5): callers should
// log and continue on error rather than fail the merge.
func WriteHintFile(tmpPath, finalPath string, entries []HintEntry) error {
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, e := range entries {
		hdr := make([]byte, hintFixedSize)
		binary.BigEndian.PutUint32(hdr[0:4], e.Tstamp)
		binary.BigEndian.PutUint32(hdr[4:8], uint32(len(e.Key)))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(e.ValueSize))
		binary.BigEndian.PutUint64(hdr[12:20], uint64(e.ValueOffset))
		if _, err := f.Write(hdr); err != nil {
			f.Close()
			return errors.WithStack(err)
		}
		if _, err := f.Write(e.Key); err != nil {
			f.Close()
			return errors.WithStack(err)
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmpPath, finalPath))
}

// ReadHintFile decodes every entry in a hint file.
func ReadHintFile(path string) ([]HintEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err // caller checks os.IsNotExist
	}
	defer f.Close()

	var entries []HintEntry
	for {
		hdr := make([]byte, hintFixedSize)
		if _, err := io.ReadFull(f, hdr); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.WithStack(err)
		}
		tstamp := binary.BigEndian.Uint32(hdr[0:4])
		ksz := binary.BigEndian.Uint32(hdr[4:8])
		vsz := binary.BigEndian.Uint32(hdr[8:12])
		valueOffset := int64(binary.BigEndian.Uint64(hdr[12:20]))

		key := make([]byte, ksz)
		if _, err := io.ReadFull(f, key); err != nil {
			return nil, errors.WithStack(err)
		}
		entries = append(entries, HintEntry{
			Tstamp:      tstamp,
			Key:         key,
			ValueOffset: valueOffset,
			ValueSize:   int64(vsz),
		})
	}
	return entries, nil
}

// LoadFileIntoKeydir installs every entry of the data file identified by
// fileID into kd. When preferHint is true and a hint file exists, it is used
// instead of a full scan. Hint files are written only for merge outputs,
// which hold no tombstones, so a hint file and its data file index the same
// entries.
func LoadFileIntoKeydir(dir string, fileID int64, kd *keydir.Keydir, preferHint bool, logger *log.Logger) error {
	if preferHint {
		entries, err := ReadHintFile(MkHintFilename(dir, fileID))
		if err == nil {
			for _, e := range entries {
				recordStart := e.ValueOffset - record.FrameSize - int64(len(e.Key))
				total := record.FrameSize + int64(len(e.Key)) + e.ValueSize
				kd.Put(e.Key, keydir.Entry{FileID: fileID, Offset: recordStart, TotalSize: total, Tstamp: e.Tstamp})
			}
			return nil
		}
		if !os.IsNotExist(err) && logger != nil {
			logger.Printf("datafile: ignoring unreadable hint file for %d, falling back to full scan: %+v", fileID, err)
		}
	}

	return Fold(MkFilename(dir, fileID), logger, func(key, value []byte, tstamp uint32, offset, total int64) error {
		kd.Put(key, keydir.Entry{FileID: fileID, Offset: offset, TotalSize: total, Tstamp: tstamp})
		return nil
	})
}
