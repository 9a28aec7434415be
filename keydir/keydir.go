// Package keydir implements the in-memory index mapping a key to the
// physical location of its most recently written value: the concurrent
// heart of a Bitcask store.
package keydir

import (
	"sync"

	art "github.com/plar/go-adaptive-radix-tree"
)

// Entry is the location of a key's most recent value: which file it lives
// in, the offset and size of the full record, and the tstamp that won it
// the slot (used to arbitrate concurrent/out-of-order installs).
type Entry struct {
	FileID    int64
	Offset    int64
	TotalSize int64
	Tstamp    uint32
}

// Keydir is a concurrency-safe key -> Entry index. art.Tree gives ordered,
// prefix-capable storage, but Keydir deliberately only exposes point
// operations: this store has no secondary indexes or ordered iteration in
// its public surface, so ordering is an implementation detail, not a
// contract.
type Keydir struct {
	mu   sync.RWMutex
	tree art.Tree
}

// New returns an empty keydir.
func New() *Keydir {
	return &Keydir{tree: art.New()}
}

// Put installs (key -> entry) under the monotonic-tstamp rule: a tie on
// tstamp falls through to comparing file ID, and a tie on both falls
// through to comparing offset within that file, so that two writes to the
// same key landing in the same active file within the same wall-clock
// second (the common case, not an edge case) still resolve to whichever
// one actually wrote last. Reports whether the entry was installed.
func (k *Keydir) Put(key []byte, entry Entry) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, found := k.tree.Search(key); found {
		cur := existing.(Entry)
		if cur.Tstamp > entry.Tstamp {
			return false
		}
		if cur.Tstamp == entry.Tstamp {
			if cur.FileID > entry.FileID {
				return false
			}
			if cur.FileID == entry.FileID && cur.Offset > entry.Offset {
				return false
			}
		}
	}
	k.tree.Insert(key, entry)
	return true
}

// Get returns the entry for key, if present.
func (k *Keydir) Get(key []byte) (Entry, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	v, found := k.tree.Search(key)
	if !found {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Remove deletes key's entry unconditionally.
func (k *Keydir) Remove(key []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.tree.Delete(key)
}

// Len returns the number of keys currently indexed.
func (k *Keydir) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return k.tree.Size()
}
