package bitcaskdb

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// metadata is the small piece of store state that does not belong in the
// keydir or on the log itself: bytes made reclaimable by overwrites and
// deletes since the last merge, persisted so Stats() survives a restart.
type metadata struct {
	ReclaimableSpace int64 `json:"reclaimable_space"`
}

func loadMetadata(path string) (*metadata, error) {
	data, err := os.ReadFile(filepath.Join(path, metaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &metadata{}, nil
		}
		return nil, errors.WithStack(err)
	}

	var m metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "bitcaskdb: parsing meta.json")
	}
	return &m, nil
}

func saveMetadata(path string, m *metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(filepath.Join(path, metaFileName), data, 0640))
}
