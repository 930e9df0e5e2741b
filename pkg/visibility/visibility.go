// Package visibility owns the per-reader visibility floor: the minimum event
// index a reader is permitted to see, fixed when their membership begins. The
// floor never decreases, and the sync coordinator applies it uniformly to
// every read path so no entry point can leak pre-join history.
package visibility

import (
	"strconv"
	"sync"

	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store"

	"github.com/cockroachdb/pebble"
)

const floorKeyPrefix = "fl:"

type Floors struct {
	db *store.DB

	mu sync.RWMutex
	m  map[string]models.EventIndex
}

// Open loads all recorded floors from the shard keyspace.
func Open(db *store.DB) (*Floors, error) {
	f := &Floors{db: db, m: make(map[string]models.EventIndex)}
	err := db.IterPrefix(floorKeyPrefix, func(key string, value []byte) bool {
		v, perr := strconv.ParseUint(string(value), 10, 32)
		if perr != nil {
			return true
		}
		f.m[key[len(floorKeyPrefix):]] = models.EventIndex(v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Join stages in batch the floor for a member joining at the given event
// index. A member rejoining keeps their original, lower floor; floors never
// decrease but also never cut off history a member could already see. The
// caller applies the batch and then calls Commit to publish the floor.
func (f *Floors) Join(batch *pebble.Batch, member string, at models.EventIndex) error {
	f.mu.RLock()
	existing, ok := f.m[member]
	f.mu.RUnlock()
	if ok && existing <= at {
		return nil
	}
	return batch.Set([]byte(floorKeyPrefix+member), []byte(strconv.FormatUint(uint64(at), 10)), nil)
}

// Commit publishes a staged join once its batch has applied, keeping the
// in-memory map behind disk rather than ahead of it.
func (f *Floors) Commit(member string, at models.EventIndex) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.m[member]; ok && existing <= at {
		return
	}
	f.m[member] = at
}

// FloorFor returns the member's floor. Unknown readers get the zero floor;
// whether they may read at all is the permission collaborator's decision, not
// this package's.
func (f *Floors) FloorFor(member string) models.EventIndex {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.m[member]
}
