// Package updated maintains the last-updated index: a generic "what changed
// since T" diff index over named subjects (membership, pinned messages,
// rules, individual messages). It is double-keyed in the shard keyspace: a
// reverse-timestamp key for newest-first range scans and a subject key so a
// re-marked subject's stale entry can be evicted before reinsertion. A
// subject therefore appears at most once in any scan.
package updated

import (
	"strconv"
	"sync"

	"github.com/open-chat-labs/open-chat-sub009/pkg/store"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store/keys"

	"github.com/cockroachdb/pebble"
)

type Index struct {
	db *store.DB

	mu     sync.Mutex
	latest int64
}

// Open loads the index over an opened shard keyspace. The newest entry's
// timestamp is cached so no-op polling stays O(1).
func Open(db *store.DB) (*Index, error) {
	i := &Index{db: db}
	err := db.IterPrefix("lu:t:", func(key string, _ []byte) bool {
		if ts, _, perr := keys.ParseUpdatedByTimeKey(key); perr == nil {
			i.latest = ts
		}
		return false // first key is the newest
	})
	if err != nil {
		return nil, err
	}
	return i, nil
}

// Mark records in batch that subject changed at now, evicting the subject's
// previous time entry so it cannot surface twice in a scan. The batch is the
// caller's unit of work; nothing is visible until the caller applies it and
// then calls Advance with the same timestamp.
func (i *Index) Mark(batch *pebble.Batch, subject string, now int64) error {
	if old, err := i.db.Get(keys.GenUpdatedBySubjectKey(subject)); err == nil {
		if ts, perr := strconv.ParseInt(string(old), 10, 64); perr == nil {
			if ts >= now {
				return nil // stale mark, keep the newer entry
			}
			if err := batch.Delete([]byte(keys.GenUpdatedByTimeKey(ts, subject)), nil); err != nil {
				return err
			}
		}
	} else if !store.IsNotFound(err) {
		return err
	}
	val := []byte(strconv.FormatInt(now, 10))
	if err := batch.Set([]byte(keys.GenUpdatedByTimeKey(now, subject)), val, nil); err != nil {
		return err
	}
	return batch.Set([]byte(keys.GenUpdatedBySubjectKey(subject)), val, nil)
}

// Advance publishes a mark's timestamp to the cached latest. Called after the
// owning batch applies, so the cache never runs ahead of disk.
func (i *Index) Advance(now int64) {
	i.mu.Lock()
	if now > i.latest {
		i.latest = now
	}
	i.mu.Unlock()
}

// LatestTS returns the timestamp of the most recent mark, 0 if none.
func (i *Index) LatestTS() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.latest
}

// IterSince walks subjects updated strictly after since, newest first. fn
// returns false to stop. Restartable: a fresh call with a later since yields
// only the newer tail.
func (i *Index) IterSince(since int64, fn func(subject string, ts int64) bool) error {
	return i.db.IterPrefix("lu:t:", func(key string, _ []byte) bool {
		ts, subject, err := keys.ParseUpdatedByTimeKey(key)
		if err != nil {
			return true
		}
		if ts <= since {
			return false // reverse-ordered keys: everything after is older
		}
		return fn(subject, ts)
	})
}
