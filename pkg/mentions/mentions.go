// Package mentions maintains the reverse-chronological mentions index. A
// user's mentions are retrievable most-recent-first across the main timeline
// and every thread without scanning any of them. A dedup guard keyed by the
// mentioning message keeps the same logical mention from being recorded
// twice, e.g. when a message is re-appended into a thread summary path.
package mentions

import (
	"encoding/json"
	"fmt"

	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store/keys"

	"github.com/cockroachdb/pebble"
)

type Index struct {
	db *store.DB
}

func Open(db *store.DB) *Index {
	return &Index{db: db}
}

func locator(m models.Mention) string {
	if m.ThreadRoot != nil {
		return fmt.Sprintf("t:%s:%s", keys.PadIdx(uint32(*m.ThreadRoot)), keys.PadIdx(uint32(m.MessageIndex)))
	}
	return "m:" + keys.PadIdx(uint32(m.MessageIndex))
}

// Add records a mention in batch unless the same message already mentioned
// the same user. Reports whether the mention was recorded.
func (i *Index) Add(batch *pebble.Batch, m models.Mention) (bool, error) {
	guard := keys.GenMentionGuardKey(m.Mentioned, locator(m))
	if _, err := i.db.Get(guard); err == nil {
		return false, nil
	} else if !store.IsNotFound(err) {
		return false, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return false, err
	}
	if err := batch.Set([]byte(keys.GenMentionKey(m.Mentioned, m.TS, uint32(m.EventIndex))), data, nil); err != nil {
		return false, err
	}
	if err := batch.Set([]byte(guard), nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// IterMostRecent walks user's mentions newest first. When since is non-nil
// only mentions strictly after it are yielded, so a fresh call with a later
// since resumes without a cursor. fn returns false to stop.
func (i *Index) IterMostRecent(user string, since *int64, fn func(models.Mention) bool) error {
	return i.db.IterPrefix(keys.GenMentionPrefix(user), func(key string, value []byte) bool {
		owner, ts, _, err := keys.ParseMentionKey(key)
		if err != nil || owner != user {
			return true
		}
		if since != nil && ts <= *since {
			return false // reverse-ordered keys: the rest is older
		}
		var m models.Mention
		if err := json.Unmarshal(value, &m); err != nil {
			return true
		}
		return fn(m)
	})
}
