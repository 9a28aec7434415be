package datafile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	dataSuffix = ".bitcask.data"
	hintSuffix = ".bitcask.hint"
	// MergeHintSuffix names a hint file still under construction by a
	// merge pass; it is renamed to hintSuffix only once complete.
	MergeHintSuffix = ".bitcask.hint.merging"
)

var filenamePattern = regexp.MustCompile(`^[0-9]+\.bitcask\.data$`)

// MkFilename returns the absolute path of the data file for the given file ID.
func MkFilename(dir string, fileID int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", fileID, dataSuffix))
}

// MkHintFilename returns the absolute path of the hint file for the given file ID.
func MkHintFilename(dir string, fileID int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", fileID, hintSuffix))
}

// MkMergeHintFilename returns the absolute path of the transient
// under-construction hint file for the given file ID.
func MkMergeHintFilename(dir string, fileID int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", fileID, MergeHintSuffix))
}

// FileTstamp extracts the integer file ID embedded in a data (or hint) file
// name or path.
func FileTstamp(pathOrName string) (int64, error) {
	base := filepath.Base(pathOrName)
	base = strings.TrimSuffix(base, hintSuffix)
	base = strings.TrimSuffix(base, dataSuffix)
	base = strings.TrimSuffix(base, MergeHintSuffix)
	id, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "datafile: malformed file id in %q", pathOrName)
	}
	return id, nil
}

// nextFileID picks a file ID for a freshly created data file: the current
// wall-clock second, busy-bumped until it does not collide with an existing
// file in dir. File IDs must be strictly increasing over a store's lifetime,
// so a caller that rotates within the same second still gets a fresh id.
func nextFileID(dir string) (int64, error) {
	id := time.Now().Unix()
	for {
		if _, err := os.Stat(MkFilename(dir, id)); os.IsNotExist(err) {
			return id, nil
		} else if err != nil && !os.IsNotExist(err) {
			return 0, errors.WithStack(err)
		}
		id++
	}
}

// ListFileIDs returns the file IDs of every data file in dir, sorted
// ascending (oldest first).
func ListFileIDs(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !filenamePattern.MatchString(e.Name()) {
			continue
		}
		id, err := FileTstamp(e.Name())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
