package events

import (
	"encoding/json"
	"fmt"

	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/outbox"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store/keys"
	"github.com/open-chat-labs/open-chat-sub009/pkg/telemetry"
)

// MessageDraft is the write-side input for a new message event.
type MessageDraft struct {
	MessageID models.MessageID
	Sender    string
	Content   string
	Mentions  []string
	// PollOptions, when set, attaches poll sub-state to the message.
	PollOptions []string
	// Swap, when set, attaches token-swap sub-state.
	Swap *models.SwapState
}

// AppendMessage appends a message event to the given scope, assigning the
// scope's next event and message indices. Appending to a thread scope also
// refreshes the root message's thread summary in the same batch, so a main
// timeline reader can never observe a thread append without its summary.
func (s *Store) AppendMessage(scope Scope, d MessageDraft, now int64) (models.EventIndex, models.MessageIndex, error) {
	tr := telemetry.Track("events.append_message")
	defer tr.Finish()

	s.mu.Lock()
	defer s.mu.Unlock()

	var root *models.MessagePayload
	if rootIdx, ok := scope.Root(); ok {
		var err error
		root, err = s.payload(MainScope(), rootIdx)
		if err != nil {
			return 0, 0, err
		}
		if root.HardDeleted {
			return 0, 0, models.ErrMessageHardDeleted
		}
	}

	st := s.scopeFor(scope)
	batch := s.db.NewBatch()
	midx := st.latestMessage + 1

	env := models.EventEnvelope{
		TS:           now,
		Kind:         models.KindMessage,
		MessageIndex: midx,
	}
	if err := s.appendEnvelope(batch, st, &env); err != nil {
		return 0, 0, err
	}
	tr.Mark("envelope")

	p := &models.MessagePayload{
		MessageIndex: midx,
		EventIndex:   env.Index,
		MessageID:    d.MessageID,
		Sender:       d.Sender,
		TS:           now,
		Content:      d.Content,
		Mentions:     d.Mentions,
		Swap:         d.Swap,
	}
	if len(d.PollOptions) > 0 {
		p.Poll = &models.PollState{Options: d.PollOptions}
	}
	if err := s.putPayload(batch, scope, p); err != nil {
		return 0, 0, err
	}
	seg := scope.segment()
	if err := batch.Set([]byte(keys.GenCounterMessageKey(seg)), []byte(fmt.Sprintf("%d", midx)), nil); err != nil {
		return 0, 0, err
	}
	if d.MessageID != 0 {
		loc, err := json.Marshal(locator{Scope: seg, MessageIndex: midx})
		if err != nil {
			return 0, 0, err
		}
		if err := batch.Set([]byte(keys.GenMessageIDKey(d.Sender, uint64(d.MessageID))), loc, nil); err != nil {
			return 0, 0, err
		}
	}
	tr.Mark("payload")

	// main-scope messages only: message indices are per scope, so thread
	// messages would collide in the search keyspace
	if !scope.IsThread() {
		if err := s.Search.Add(batch, midx, env.Index, d.Sender, d.Content); err != nil {
			return 0, 0, err
		}
	}

	var threadRoot *models.MessageIndex
	if rootIdx, ok := scope.Root(); ok {
		threadRoot = &rootIdx
	}
	for _, user := range d.Mentions {
		m := models.Mention{
			Mentioned:    user,
			MessageIndex: midx,
			EventIndex:   env.Index,
			ThreadRoot:   threadRoot,
			TS:           now,
		}
		if _, err := s.Mentions.Add(batch, m); err != nil {
			return 0, 0, err
		}
	}

	if root != nil {
		if err := s.bumpThreadSummary(batch, root, d.Sender, true, env.Index, now); err != nil {
			return 0, 0, err
		}
	}
	tr.Mark("indices")

	if err := s.commit(batch, st, env, true); err != nil {
		return 0, 0, err
	}
	if root != nil {
		s.Updated.Advance(now)
	}
	return env.Index, midx, nil
}

// AppendMembersJoined logs a membership event on the main timeline, fixes the
// joining members' visibility floors at the event's own index, and emits the
// event for cross-shard propagation.
func (s *Store) AppendMembersJoined(members []string, now int64) (models.EventIndex, error) {
	return s.appendMembership(models.KindMembersJoined, members, now)
}

// AppendMembersLeft logs a membership removal event and emits it for
// propagation. Floors are left as they are: a member who later rejoins keeps
// their original view.
func (s *Store) AppendMembersLeft(members []string, now int64) (models.EventIndex, error) {
	return s.appendMembership(models.KindMembersLeft, members, now)
}

func (s *Store) appendMembership(kind models.EventKind, members []string, now int64) (models.EventIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scopeFor(MainScope())
	batch := s.db.NewBatch()
	env := models.EventEnvelope{
		TS:         now,
		Kind:       kind,
		Membership: &models.MembershipChange{Members: members},
	}
	if err := s.appendEnvelope(batch, st, &env); err != nil {
		return 0, err
	}
	if kind == models.KindMembersJoined {
		for _, m := range members {
			if err := s.Floors.Join(batch, m, env.Index); err != nil {
				return 0, err
			}
		}
	}
	if err := s.Updated.Mark(batch, SubjectMembers, now); err != nil {
		return 0, err
	}
	if err := s.commit(batch, st, env, false); err != nil {
		return 0, err
	}
	if kind == models.KindMembersJoined {
		for _, m := range members {
			s.Floors.Commit(m, env.Index)
		}
	}
	s.Updated.Advance(now)
	s.sink.Emit(outbox.Event{Kind: kind, Index: env.Index, TS: now, Members: members})
	return env.Index, nil
}

// AppendMessagePinned logs a pin event and marks the pinned set updated.
func (s *Store) AppendMessagePinned(midx models.MessageIndex, by string, now int64) (models.EventIndex, error) {
	return s.appendAggregate(models.EventEnvelope{
		Kind:   models.KindMessagePinned,
		Pinned: &models.PinnedChange{MessageIndex: midx, By: by},
	}, SubjectPinned, now)
}

// AppendMessageUnpinned logs an unpin event and marks the pinned set updated.
func (s *Store) AppendMessageUnpinned(midx models.MessageIndex, by string, now int64) (models.EventIndex, error) {
	return s.appendAggregate(models.EventEnvelope{
		Kind:   models.KindMessageUnpinned,
		Pinned: &models.PinnedChange{MessageIndex: midx, By: by},
	}, SubjectPinned, now)
}

// AppendRulesChanged logs a rules-version event.
func (s *Store) AppendRulesChanged(version uint32, by string, now int64) (models.EventIndex, error) {
	return s.appendAggregate(models.EventEnvelope{
		Kind:  models.KindRulesChanged,
		Rules: &models.RulesChanged{Version: version, By: by},
	}, SubjectRules, now)
}

// AppendWebhookAdded / AppendWebhookRemoved log webhook registry events.
func (s *Store) AppendWebhookAdded(id, by string, now int64) (models.EventIndex, error) {
	return s.appendAggregate(models.EventEnvelope{
		Kind:    models.KindWebhookAdded,
		Webhook: &models.WebhookChange{WebhookID: id, By: by},
	}, SubjectWebhooks, now)
}

func (s *Store) AppendWebhookRemoved(id, by string, now int64) (models.EventIndex, error) {
	return s.appendAggregate(models.EventEnvelope{
		Kind:    models.KindWebhookRemoved,
		Webhook: &models.WebhookChange{WebhookID: id, By: by},
	}, SubjectWebhooks, now)
}

func (s *Store) appendAggregate(env models.EventEnvelope, subject string, now int64) (models.EventIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scopeFor(MainScope())
	batch := s.db.NewBatch()
	env.TS = now
	if err := s.appendEnvelope(batch, st, &env); err != nil {
		return 0, err
	}
	if err := s.Updated.Mark(batch, subject, now); err != nil {
		return 0, err
	}
	if err := s.commit(batch, st, env, false); err != nil {
		return 0, err
	}
	s.Updated.Advance(now)
	return env.Index, nil
}
