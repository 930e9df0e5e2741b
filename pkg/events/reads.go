package events

import (
	"encoding/json"
	"fmt"

	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store/keys"
)

// Record is one hydrated read result: the immutable envelope plus, for
// message events, a redacted copy of the current payload.
type Record struct {
	Envelope models.EventEnvelope
	Message  *models.MessagePayload
}

// Latest returns the highest assigned event index for a scope; 0 when the
// scope has no events. O(1) from the running counter.
func (s *Store) Latest(scope Scope) models.EventIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopeFor(scope).latestEvent
}

// LatestMessage returns the highest assigned message index for a scope.
func (s *Store) LatestMessage(scope Scope) models.MessageIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopeFor(scope).latestMessage
}

// EventsByIndex fetches the given indices from a scope. Absent indices
// (out of range, pruned) are silently omitted; each returned record is
// hydrated with its current payload.
func (s *Store) EventsByIndex(scope Scope, indices []models.EventIndex) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scopeFor(scope)
	out := make([]Record, 0, len(indices))
	for _, idx := range indices {
		rec, ok, err := s.record(st, idx)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// EventsRange fetches the contiguous range [from, to], clipped to existing
// bounds. Empty when from exceeds the highest existing index.
func (s *Store) EventsRange(scope Scope, from, to models.EventIndex) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scopeFor(scope)
	if from < 1 {
		from = 1
	}
	if to > st.latestEvent {
		to = st.latestEvent
	}
	if from > to {
		return nil, nil
	}
	out := make([]Record, 0, to-from+1)
	for idx := from; idx <= to; idx++ {
		rec, ok, err := s.record(st, idx)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Message returns the redacted current payload for a message.
func (s *Store) Message(scope Scope, midx models.MessageIndex) (*models.MessagePayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.payload(scope, midx)
	if err != nil {
		return nil, err
	}
	return redact(p), nil
}

// AffectedEvents reports, for a set of retrieved records, the indices whose
// rendered content changed after their envelope was created: edited, reacted,
// deleted or thread-updated messages. Clients must re-render these even
// though no new envelope exists at their index. Decided from the payload's
// revision counter, never from timestamps: caller clocks skew.
func (s *Store) AffectedEvents(recs []Record) []models.EventIndex {
	var out []models.EventIndex
	for _, r := range recs {
		if r.Message != nil && r.Message.Revision > 0 {
			out = append(out, r.Envelope.Index)
		}
	}
	return out
}

// record fetches and hydrates one index: hot tier first, then the durable
// tier with on-demand deserialization.
func (s *Store) record(st *scopeState, idx models.EventIndex) (Record, bool, error) {
	if idx < 1 || idx > st.latestEvent {
		return Record{}, false, nil
	}
	env, ok := st.hot.get(idx)
	if !ok {
		raw, err := s.db.Get(keys.GenEventKey(st.scope.segment(), uint32(idx)))
		if err != nil {
			if store.IsNotFound(err) {
				return Record{}, false, nil
			}
			return Record{}, false, err
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return Record{}, false, fmt.Errorf("corrupt envelope at %s/%d: %w", st.scope, idx, err)
		}
	}
	rec := Record{Envelope: env}
	if env.Kind == models.KindMessage {
		p, err := s.payload(st.scope, env.MessageIndex)
		if err != nil {
			if err == models.ErrMessageNotFound {
				// payload pruned out from under the envelope
				return rec, true, nil
			}
			return Record{}, false, err
		}
		rec.Message = redact(p)
	}
	return rec, true, nil
}

// redact prepares a payload copy for return to a reader: retained deleted
// content never leaves the store through normal reads.
func redact(p *models.MessagePayload) *models.MessagePayload {
	cp := *p
	cp.HiddenContent = ""
	if cp.HardDeleted {
		cp.Content = ""
		cp.OriginalContent = ""
	}
	return &cp
}
