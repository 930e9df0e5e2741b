package events

import (
	"sort"

	"github.com/open-chat-labs/open-chat-sub009/pkg/models"

	"github.com/cockroachdb/pebble"
)

// ThreadReader validates that a thread exists under the given root message
// and returns its scope. A root that exists but has never been replied to has
// no thread yet.
func (s *Store) ThreadReader(root models.MessageIndex) (Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.payload(MainScope(), root)
	if err != nil {
		return Scope{}, err
	}
	if p.Thread == nil {
		return Scope{}, models.ErrThreadNotFound
	}
	return ThreadScope(root), nil
}

// bumpThreadSummary refreshes the root message's cached thread summary inside
// the same batch as the thread append it reflects. isMessage distinguishes
// replies (which count) from other thread events.
func (s *Store) bumpThreadSummary(batch *pebble.Batch, root *models.MessagePayload, participant string, isMessage bool, threadEventIdx models.EventIndex, now int64) error {
	if root.Thread == nil {
		root.Thread = &models.ThreadSummary{}
	}
	t := root.Thread
	if participant != "" && !containsStr(t.Participants, participant) {
		t.Participants = append(t.Participants, participant)
		sort.Strings(t.Participants)
	}
	if isMessage {
		t.ReplyCount++
	}
	t.LatestEventIndex = threadEventIdx
	t.LatestEventTS = now
	root.LastUpdated = now
	root.Revision++
	if err := s.Updated.Mark(batch, messageSubject(MainScope(), root.MessageIndex), now); err != nil {
		return err
	}
	return s.putPayload(batch, MainScope(), root)
}

func containsStr(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
