// Package events implements the chat event store: the append-only indexed
// log of one conversation's events, the mutable message projection layered
// over it, and the per-thread sub-logs. Writes are serialized per shard; one
// call's envelope, payload and derived-index updates commit as a single
// batch, so every operation is side-effect-complete on return.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/open-chat-labs/open-chat-sub009/pkg/logger"
	"github.com/open-chat-labs/open-chat-sub009/pkg/mentions"
	"github.com/open-chat-labs/open-chat-sub009/pkg/metrics"
	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/outbox"
	"github.com/open-chat-labs/open-chat-sub009/pkg/search"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store/keys"
	"github.com/open-chat-labs/open-chat-sub009/pkg/updated"
	"github.com/open-chat-labs/open-chat-sub009/pkg/visibility"

	"github.com/cockroachdb/pebble"
)

const defaultHotTierSize = 256

// Options configures a shard store.
type Options struct {
	// HotTierSize is the number of recent envelopes kept materialized per
	// scope. Zero means the default.
	HotTierSize int
	// Sink receives cross-shard propagation events after commit. Nil means
	// discard.
	Sink outbox.Sink
}

// Store is one shard's event store. It owns the event log for the main
// timeline and every thread, the message projection, and the derived indices
// (mentions, search, last-updated, visibility floors), all over a single
// pebble keyspace.
type Store struct {
	mu      sync.Mutex
	db      *store.DB
	hotSize int
	scopes  map[string]*scopeState
	sink    outbox.Sink

	Updated  *updated.Index
	Mentions *mentions.Index
	Search   *search.Index
	Floors   *visibility.Floors
}

type scopeState struct {
	scope         Scope
	latestEvent   models.EventIndex
	latestMessage models.MessageIndex
	hot           *hotRing
}

// Open builds the store over an opened keyspace, warming counters and floors.
func Open(db *store.DB, opts Options) (*Store, error) {
	upd, err := updated.Open(db)
	if err != nil {
		return nil, fmt.Errorf("open last-updated index: %w", err)
	}
	floors, err := visibility.Open(db)
	if err != nil {
		return nil, fmt.Errorf("open visibility floors: %w", err)
	}
	hotSize := opts.HotTierSize
	if hotSize <= 0 {
		hotSize = defaultHotTierSize
	}
	sink := opts.Sink
	if sink == nil {
		sink = outbox.Nop{}
	}
	s := &Store{
		db:       db,
		hotSize:  hotSize,
		scopes:   make(map[string]*scopeState),
		sink:     sink,
		Updated:  upd,
		Mentions: mentions.Open(db),
		Search:   search.Open(db),
		Floors:   floors,
	}
	if err := s.loadCounters(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadCounters() error {
	err := s.db.IterPrefix("ctr:e:", func(key string, value []byte) bool {
		seg := strings.TrimPrefix(key, "ctr:e:")
		scope, perr := parseScopeSegment(seg)
		if perr != nil {
			logger.Warn("skip_bad_counter_key", "key", key, "error", perr)
			return true
		}
		var idx uint32
		if _, perr := fmt.Sscanf(string(value), "%d", &idx); perr != nil {
			return true
		}
		st := s.scopeFor(scope)
		st.latestEvent = models.EventIndex(idx)
		return true
	})
	if err != nil {
		return err
	}
	return s.db.IterPrefix("ctr:m:", func(key string, value []byte) bool {
		seg := strings.TrimPrefix(key, "ctr:m:")
		scope, perr := parseScopeSegment(seg)
		if perr != nil {
			return true
		}
		var idx uint32
		if _, perr := fmt.Sscanf(string(value), "%d", &idx); perr != nil {
			return true
		}
		s.scopeFor(scope).latestMessage = models.MessageIndex(idx)
		return true
	})
}

// scopeFor returns the in-memory state for a scope, creating it on first use.
// Callers hold s.mu (or run during Open).
func (s *Store) scopeFor(scope Scope) *scopeState {
	seg := scope.segment()
	if st, ok := s.scopes[seg]; ok {
		return st
	}
	st := &scopeState{scope: scope, hot: newHotRing(s.hotSize)}
	s.scopes[seg] = st
	return st
}

// appendEnvelope assigns the next event index for the scope and stages the
// envelope and counter writes into batch. The caller applies the batch.
func (s *Store) appendEnvelope(batch *pebble.Batch, st *scopeState, env *models.EventEnvelope) error {
	env.Index = st.latestEvent + 1
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	seg := st.scope.segment()
	if err := batch.Set([]byte(keys.GenEventKey(seg, uint32(env.Index))), data, nil); err != nil {
		return err
	}
	return batch.Set([]byte(keys.GenCounterEventKey(seg)), []byte(fmt.Sprintf("%d", env.Index)), nil)
}

// commit applies the batch, then publishes the envelope to the hot tier and
// bumps the in-memory counters. Counters advance only on successful apply so
// a failed batch never burns an index.
func (s *Store) commit(batch *pebble.Batch, st *scopeState, env models.EventEnvelope, newMessage bool) error {
	if err := s.db.ApplyBatch(batch); err != nil {
		return err
	}
	st.latestEvent = env.Index
	if newMessage {
		st.latestMessage = env.MessageIndex
	}
	if grew := st.hot.pushGrew(env); grew {
		metrics.HotTierEntries.Inc()
	}
	metrics.EventsAppended.WithLabelValues(scopeLabel(st.scope), string(env.Kind)).Inc()
	return nil
}

func scopeLabel(scope Scope) string {
	if scope.IsThread() {
		return "thread"
	}
	return "main"
}

// locator is the stored target of a message-id lookup.
type locator struct {
	Scope        string              `json:"scope"`
	MessageIndex models.MessageIndex `json:"message_index"`
}

// resolve turns a MessageRef into a concrete (scope, message index) pair.
func (s *Store) resolve(ref MessageRef) (Scope, models.MessageIndex, error) {
	if ref.byIndex {
		return ref.scope, ref.index, nil
	}
	raw, err := s.db.Get(keys.GenMessageIDKey(ref.idSender, uint64(ref.id)))
	if err != nil {
		if store.IsNotFound(err) {
			return Scope{}, 0, models.ErrMessageNotFound
		}
		return Scope{}, 0, err
	}
	var loc locator
	if err := json.Unmarshal(raw, &loc); err != nil {
		return Scope{}, 0, fmt.Errorf("corrupt message-id locator: %w", err)
	}
	scope, err := parseScopeSegment(loc.Scope)
	if err != nil {
		return Scope{}, 0, err
	}
	return scope, loc.MessageIndex, nil
}

// payload reads the current mutable record for a message.
func (s *Store) payload(scope Scope, midx models.MessageIndex) (*models.MessagePayload, error) {
	raw, err := s.db.Get(keys.GenPayloadKey(scope.segment(), uint32(midx)))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, models.ErrMessageNotFound
		}
		return nil, err
	}
	var p models.MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("corrupt message payload: %w", err)
	}
	return &p, nil
}

func (s *Store) putPayload(batch *pebble.Batch, scope Scope, p *models.MessagePayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal message payload: %w", err)
	}
	return batch.Set([]byte(keys.GenPayloadKey(scope.segment(), uint32(p.MessageIndex))), data, nil)
}

// messageSubject names a message in the last-updated index.
func messageSubject(scope Scope, midx models.MessageIndex) string {
	return "message:" + scope.segment() + ":" + keys.PadIdx(uint32(midx))
}

// Aggregate subjects tracked in the last-updated index.
const (
	SubjectMembers  = "members"
	SubjectPinned   = "pinned_messages"
	SubjectRules    = "rules"
	SubjectWebhooks = "webhooks"
)
