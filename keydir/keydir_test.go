package keydir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/acme/bitcaskdb/keydir"
)

func TestPutGet(t *testing.T) {
	k := keydir.New()

	ok := k.Put([]byte("a"), keydir.Entry{FileID: 1, Offset: 0, TotalSize: 10, Tstamp: 5})
	assert.True(t, ok)

	e, found := k.Get([]byte("a"))
	assert.True(t, found)
	assert.Equal(t, int64(1), e.FileID)
}

func TestMonotonicTstampRejectsStaleWrite(t *testing.T) {
	k := keydir.New()
	k.Put([]byte("a"), keydir.Entry{FileID: 1, Tstamp: 10})

	ok := k.Put([]byte("a"), keydir.Entry{FileID: 2, Tstamp: 5})
	assert.False(t, ok)

	e, _ := k.Get([]byte("a"))
	assert.Equal(t, uint32(10), e.Tstamp)
}

func TestTiedTstampBreaksOnFileID(t *testing.T) {
	k := keydir.New()
	k.Put([]byte("a"), keydir.Entry{FileID: 1, Tstamp: 10})

	ok := k.Put([]byte("a"), keydir.Entry{FileID: 2, Tstamp: 10})
	assert.True(t, ok)

	e, _ := k.Get([]byte("a"))
	assert.Equal(t, int64(2), e.FileID)

	// a smaller file id at the same tstamp does not win
	ok = k.Put([]byte("a"), keydir.Entry{FileID: 1, Tstamp: 10})
	assert.False(t, ok)
}

func TestTiedTstampAndFileIDBreaksOnOffset(t *testing.T) {
	k := keydir.New()
	k.Put([]byte("a"), keydir.Entry{FileID: 1, Offset: 0, Tstamp: 10})

	// same file, same second: the later write lands at a higher offset and
	// must win even though its tstamp ties the existing entry's.
	ok := k.Put([]byte("a"), keydir.Entry{FileID: 1, Offset: 64, Tstamp: 10})
	assert.True(t, ok)

	e, _ := k.Get([]byte("a"))
	assert.Equal(t, int64(64), e.Offset)

	// an earlier offset in the same file at the same tstamp does not win
	ok = k.Put([]byte("a"), keydir.Entry{FileID: 1, Offset: 0, Tstamp: 10})
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	k := keydir.New()
	k.Put([]byte("a"), keydir.Entry{FileID: 1, Tstamp: 1})
	k.Remove([]byte("a"))

	_, found := k.Get([]byte("a"))
	assert.False(t, found)
}
