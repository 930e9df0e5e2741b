package events

import (
	"sort"

	"github.com/open-chat-labs/open-chat-sub009/pkg/logger"
	"github.com/open-chat-labs/open-chat-sub009/pkg/metrics"
	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store/keys"
	"github.com/open-chat-labs/open-chat-sub009/pkg/telemetry"

	"github.com/cockroachdb/pebble"
)

// Message mutation state machine. Every transition validates against the
// payload's current state, stages the payload rewrite plus derived-index
// updates into one batch, and marks the owning message in the last-updated
// index so catch-up queries observe the change. Redundant transitions are
// NoChange successes, keeping retries safe for at-least-once callers.

// EditMessage replaces a message's content. Only the original sender may
// edit, and only while the message is not deleted.
func (s *Store) EditMessage(sender string, ref MessageRef, content string, now int64) (models.UpdateOutcome, models.EventIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, midx, p, err := s.resolveLive(ref)
	if err != nil {
		return models.NoChange, 0, err
	}
	if p.Sender != sender {
		return models.NoChange, 0, models.ErrNotAuthorized
	}
	if p.Content == content {
		return models.NoChange, p.EventIndex, nil
	}
	if !p.Edited {
		p.OriginalContent = p.Content
	}
	p.Content = content
	p.Edited = true
	p.LastUpdated = now
	p.Revision++

	batch := s.db.NewBatch()
	if err := s.putPayload(batch, scope, p); err != nil {
		return models.NoChange, 0, err
	}
	if !scope.IsThread() {
		if err := s.Search.Update(batch, midx, p.EventIndex, p.Sender, content); err != nil {
			return models.NoChange, 0, err
		}
	}
	if err := s.finishMutation(batch, scope, midx, "edit", now); err != nil {
		return models.NoChange, 0, err
	}
	return models.Updated, p.EventIndex, nil
}

// DeleteMessage soft-deletes. The content is retained internally until the
// retention collaborator promotes the message to hard-deleted. Deleting an
// already soft-deleted message succeeds without touching the stored
// deletion timestamp.
func (s *Store) DeleteMessage(initiator string, allowDeleteOthers bool, ref MessageRef, now int64) (models.UpdateOutcome, models.EventIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, midx, err := s.resolve(ref)
	if err != nil {
		return models.NoChange, 0, err
	}
	p, err := s.payload(scope, midx)
	if err != nil {
		return models.NoChange, 0, err
	}
	if p.HardDeleted {
		return models.NoChange, 0, models.ErrMessageHardDeleted
	}
	if p.DeletedTS != 0 {
		return models.NoChange, p.EventIndex, nil
	}
	if p.Sender != initiator && !allowDeleteOthers {
		return models.NoChange, 0, models.ErrNotAuthorized
	}
	p.HiddenContent = p.Content
	p.Content = ""
	p.DeletedBy = initiator
	p.DeletedTS = now
	p.LastUpdated = now
	p.Revision++

	batch := s.db.NewBatch()
	if err := s.putPayload(batch, scope, p); err != nil {
		return models.NoChange, 0, err
	}
	marker := keys.GenSoftDeleteMarker(now, scope.segment(), uint32(midx))
	if err := batch.Set([]byte(marker), nil, nil); err != nil {
		return models.NoChange, 0, err
	}
	if !scope.IsThread() {
		if err := s.Search.Remove(batch, midx); err != nil {
			return models.NoChange, 0, err
		}
	}
	if err := s.finishMutation(batch, scope, midx, "delete", now); err != nil {
		return models.NoChange, 0, err
	}
	return models.Updated, p.EventIndex, nil
}

// UndeleteMessage reverts a soft delete. A no-op success when the message is
// not deleted; impossible once hard-deleted.
func (s *Store) UndeleteMessage(initiator string, ref MessageRef, now int64) (models.UpdateOutcome, models.EventIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, midx, err := s.resolve(ref)
	if err != nil {
		return models.NoChange, 0, err
	}
	p, err := s.payload(scope, midx)
	if err != nil {
		return models.NoChange, 0, err
	}
	if p.HardDeleted {
		return models.NoChange, 0, models.ErrMessageHardDeleted
	}
	if p.DeletedTS == 0 {
		return models.NoChange, p.EventIndex, nil
	}
	marker := keys.GenSoftDeleteMarker(p.DeletedTS, scope.segment(), uint32(midx))
	p.Content = p.HiddenContent
	p.HiddenContent = ""
	p.DeletedBy = ""
	p.DeletedTS = 0
	p.LastUpdated = now
	p.Revision++

	batch := s.db.NewBatch()
	if err := s.putPayload(batch, scope, p); err != nil {
		return models.NoChange, 0, err
	}
	if err := batch.Delete([]byte(marker), nil); err != nil {
		return models.NoChange, 0, err
	}
	if !scope.IsThread() {
		if err := s.Search.Add(batch, midx, p.EventIndex, p.Sender, p.Content); err != nil {
			return models.NoChange, 0, err
		}
	}
	if err := s.finishMutation(batch, scope, midx, "undelete", now); err != nil {
		return models.NoChange, 0, err
	}
	logger.Info("message_undeleted", "scope", scope.String(), "message_index", midx, "by", initiator)
	return models.Updated, p.EventIndex, nil
}

// AddReaction adds user to the reaction's sender set. Reacting twice with the
// same reaction is a NoChange success and leaves the set untouched.
func (s *Store) AddReaction(user, reaction string, ref MessageRef, now int64) (models.UpdateOutcome, models.EventIndex, error) {
	return s.mutateReaction(user, reaction, ref, now, true)
}

// RemoveReaction removes user from the reaction's sender set, NoChange when
// absent.
func (s *Store) RemoveReaction(user, reaction string, ref MessageRef, now int64) (models.UpdateOutcome, models.EventIndex, error) {
	return s.mutateReaction(user, reaction, ref, now, false)
}

func (s *Store) mutateReaction(user, reaction string, ref MessageRef, now int64, add bool) (models.UpdateOutcome, models.EventIndex, error) {
	if reaction == "" {
		return models.NoChange, 0, models.ErrInvalidReaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, midx, p, err := s.resolveLive(ref)
	if err != nil {
		return models.NoChange, 0, err
	}
	set := p.Reactions[reaction]
	has := containsStr(set, user)
	if add == has {
		return models.NoChange, p.EventIndex, nil
	}
	if add {
		if p.Reactions == nil {
			p.Reactions = make(map[string][]string)
		}
		set = append(set, user)
		sort.Strings(set)
		p.Reactions[reaction] = set
	} else {
		out := set[:0]
		for _, u := range set {
			if u != user {
				out = append(out, u)
			}
		}
		if len(out) == 0 {
			delete(p.Reactions, reaction)
		} else {
			p.Reactions[reaction] = out
		}
	}
	p.LastUpdated = now
	p.Revision++

	batch := s.db.NewBatch()
	if err := s.putPayload(batch, scope, p); err != nil {
		return models.NoChange, 0, err
	}
	kind := "react"
	if !add {
		kind = "unreact"
	}
	if err := s.finishMutation(batch, scope, midx, kind, now); err != nil {
		return models.NoChange, 0, err
	}
	return models.Updated, p.EventIndex, nil
}

// RegisterPollVote records user's vote for option. Polls are single-choice:
// voting a different option moves the vote; repeating a vote is NoChange.
func (s *Store) RegisterPollVote(user string, ref MessageRef, option string, now int64) (models.UpdateOutcome, models.EventIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, midx, p, err := s.resolveLive(ref)
	if err != nil {
		return models.NoChange, 0, err
	}
	if p.Poll == nil {
		return models.NoChange, 0, models.ErrPollNotFound
	}
	if p.Poll.Ended {
		return models.NoChange, 0, models.ErrPollEnded
	}
	if !containsStr(p.Poll.Options, option) {
		return models.NoChange, 0, models.ErrInvalidReaction
	}
	if containsStr(p.Poll.Votes[option], user) {
		return models.NoChange, p.EventIndex, nil
	}
	if p.Poll.Votes == nil {
		p.Poll.Votes = make(map[string][]string)
	}
	for opt, voters := range p.Poll.Votes {
		out := voters[:0]
		for _, v := range voters {
			if v != user {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			delete(p.Poll.Votes, opt)
		} else {
			p.Poll.Votes[opt] = out
		}
	}
	set := append(p.Poll.Votes[option], user)
	sort.Strings(set)
	p.Poll.Votes[option] = set
	p.LastUpdated = now
	p.Revision++

	batch := s.db.NewBatch()
	if err := s.putPayload(batch, scope, p); err != nil {
		return models.NoChange, 0, err
	}
	if err := s.finishMutation(batch, scope, midx, "poll_vote", now); err != nil {
		return models.NoChange, 0, err
	}
	return models.Updated, p.EventIndex, nil
}

// EndPoll closes a poll; ending an already ended poll is NoChange.
func (s *Store) EndPoll(ref MessageRef, now int64) (models.UpdateOutcome, models.EventIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, midx, p, err := s.resolveLive(ref)
	if err != nil {
		return models.NoChange, 0, err
	}
	if p.Poll == nil {
		return models.NoChange, 0, models.ErrPollNotFound
	}
	if p.Poll.Ended {
		return models.NoChange, p.EventIndex, nil
	}
	p.Poll.Ended = true
	p.Poll.EndedTS = now
	p.LastUpdated = now
	p.Revision++

	batch := s.db.NewBatch()
	if err := s.putPayload(batch, scope, p); err != nil {
		return models.NoChange, 0, err
	}
	if err := s.finishMutation(batch, scope, midx, "poll_end", now); err != nil {
		return models.NoChange, 0, err
	}
	return models.Updated, p.EventIndex, nil
}

// SetSwapStatus advances a swap's status. Completed, cancelled and expired
// are terminal; repeating the current status is NoChange.
func (s *Store) SetSwapStatus(ref MessageRef, status models.SwapStatus, by string, now int64) (models.UpdateOutcome, models.EventIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, midx, p, err := s.resolveLive(ref)
	if err != nil {
		return models.NoChange, 0, err
	}
	if p.Swap == nil {
		return models.NoChange, 0, models.ErrSwapNotFound
	}
	if p.Swap.Status == status {
		return models.NoChange, p.EventIndex, nil
	}
	switch p.Swap.Status {
	case models.SwapCompleted, models.SwapCancelled, models.SwapExpired:
		return models.NoChange, 0, models.ErrSwapFinalized
	}
	p.Swap.Status = status
	if status == models.SwapReserved {
		p.Swap.ReservedBy = by
	}
	p.Swap.UpdatedTS = now
	p.LastUpdated = now
	p.Revision++

	batch := s.db.NewBatch()
	if err := s.putPayload(batch, scope, p); err != nil {
		return models.NoChange, 0, err
	}
	if err := s.finishMutation(batch, scope, midx, "swap", now); err != nil {
		return models.NoChange, 0, err
	}
	return models.Updated, p.EventIndex, nil
}

// DeletedMessage recovers the retained content of a soft-deleted message for
// the original sender or the deletor, until hard delete makes it
// unrecoverable.
func (s *Store) DeletedMessage(initiator string, ref MessageRef) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, midx, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	p, err := s.payload(scope, midx)
	if err != nil {
		return "", err
	}
	if p.HardDeleted {
		return "", models.ErrMessageHardDeleted
	}
	if p.DeletedTS == 0 {
		return "", models.ErrMessageNotFound
	}
	if initiator != p.Sender && initiator != p.DeletedBy {
		return "", models.ErrNotAuthorized
	}
	return p.HiddenContent, nil
}

// HardDelete makes a message's content permanently unretrievable: the payload
// becomes a tombstone, search postings and the message-id lookup are removed.
// The envelope and its index remain so pagination cursors stay valid forever.
// Idempotent.
func (s *Store) HardDelete(scope Scope, midx models.MessageIndex, now int64) error {
	tr := telemetry.Track("events.hard_delete")
	defer tr.Finish()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.payload(scope, midx)
	if err != nil {
		return err
	}
	if p.HardDeleted {
		return nil
	}
	var marker string
	if p.DeletedTS != 0 {
		marker = keys.GenSoftDeleteMarker(p.DeletedTS, scope.segment(), uint32(midx))
	}
	msgID := p.MessageID
	sender := p.Sender
	p.Content = ""
	p.HiddenContent = ""
	p.OriginalContent = ""
	p.Mentions = nil
	p.Reactions = nil
	p.Poll = nil
	p.Swap = nil
	p.HardDeleted = true
	p.LastUpdated = now
	p.Revision++

	batch := s.db.NewBatch()
	if err := s.putPayload(batch, scope, p); err != nil {
		return err
	}
	if marker != "" {
		if err := batch.Delete([]byte(marker), nil); err != nil {
			return err
		}
	}
	if msgID != 0 {
		if err := batch.Delete([]byte(keys.GenMessageIDKey(sender, uint64(msgID))), nil); err != nil {
			return err
		}
	}
	if !scope.IsThread() {
		if err := s.Search.Remove(batch, midx); err != nil {
			return err
		}
	}
	if err := s.finishMutation(batch, scope, midx, "hard_delete", now); err != nil {
		return err
	}
	logger.Info("message_hard_deleted", "scope", scope.String(), "message_index", midx)
	return nil
}

// IterSoftDeletedOlderThan walks soft-deleted messages whose deletion time is
// strictly before cutoff, oldest first. The retention collaborator drives
// this to promote eligible messages to hard-deleted. fn returns false to
// stop.
func (s *Store) IterSoftDeletedOlderThan(cutoff int64, fn func(scope Scope, midx models.MessageIndex, deletedTS int64) bool) error {
	type entry struct {
		scope Scope
		midx  models.MessageIndex
		ts    int64
	}
	var entries []entry
	s.mu.Lock()
	err := s.db.IterPrefix("del:", func(key string, _ []byte) bool {
		ts, seg, midx, perr := keys.ParseSoftDeleteMarker(key)
		if perr != nil {
			return true
		}
		if ts >= cutoff {
			return false // markers are time-ordered; the rest is newer
		}
		scope, perr := parseScopeSegment(seg)
		if perr != nil {
			return true
		}
		entries = append(entries, entry{scope, models.MessageIndex(midx), ts})
		return true
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	// callback runs outside the lock so it may call HardDelete directly
	for _, e := range entries {
		if !fn(e.scope, e.midx, e.ts) {
			break
		}
	}
	return nil
}

// resolveLive resolves a ref to a message that is neither soft- nor
// hard-deleted.
func (s *Store) resolveLive(ref MessageRef) (Scope, models.MessageIndex, *models.MessagePayload, error) {
	scope, midx, err := s.resolve(ref)
	if err != nil {
		return Scope{}, 0, nil, err
	}
	p, err := s.payload(scope, midx)
	if err != nil {
		return Scope{}, 0, nil, err
	}
	if p.HardDeleted {
		return Scope{}, 0, nil, models.ErrMessageHardDeleted
	}
	if p.DeletedTS != 0 {
		return Scope{}, 0, nil, models.ErrMessageNotFound
	}
	return scope, midx, p, nil
}

// finishMutation marks the message updated, commits the batch and counts the
// mutation.
func (s *Store) finishMutation(batch *pebble.Batch, scope Scope, midx models.MessageIndex, kind string, now int64) error {
	if err := s.Updated.Mark(batch, messageSubject(scope, midx), now); err != nil {
		return err
	}
	if err := s.db.ApplyBatch(batch); err != nil {
		return err
	}
	s.Updated.Advance(now)
	metrics.PayloadMutations.WithLabelValues(kind).Inc()
	return nil
}
