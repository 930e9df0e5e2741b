// Package reader is the read-side protocol every external caller talks to.
// It composes the event log, thread index, mentions, search and last-updated
// indices under one consistency contract: the caller's visibility floor is
// applied before any index arithmetic on every entry point, and a caller
// whose view is fresher than this replica is refused with
// ReplicaNotUpToDateError instead of being served stale data.
package reader

import (
	"sort"

	"github.com/open-chat-labs/open-chat-sub009/pkg/events"
	"github.com/open-chat-labs/open-chat-sub009/pkg/metrics"
	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/telemetry"
)

type Coordinator struct {
	store *events.Store
}

func New(store *events.Store) *Coordinator {
	return &Coordinator{store: store}
}

// Context carries one read call's premise: which scope, the caller's floor,
// and the latest event index the caller believes exists. A zero KnownLatest
// makes no claim.
type Context struct {
	Scope       events.Scope
	Floor       models.EventIndex
	KnownLatest models.EventIndex
}

// ContextFor builds a read context using the recorded floor for member.
func (c *Coordinator) ContextFor(member string, scope events.Scope, knownLatest models.EventIndex) Context {
	return Context{
		Scope:       scope,
		Floor:       c.store.Floors.FloorFor(member),
		KnownLatest: knownLatest,
	}
}

// Result is the common shape of every events read.
type Result struct {
	Events []events.Record
	// Affected lists indices whose rendered content changed without a new
	// envelope at their own index.
	Affected []models.EventIndex
	// Latest is the store's latest event index for the scope at read time.
	Latest models.EventIndex
}

// admit validates the scope and the caller's freshness premise, and resolves
// the floor to apply inside the scope. It is the first thing every entry
// point does; a stale replica performs no further work.
//
// The caller's floor is a main-timeline index, while thread indices restart
// at 1 per scope, so a thread read is gated whole on its root message's main
// index: a root below the floor denies the thread as if it did not exist, a
// root at or above it opens every thread event.
func (c *Coordinator) admit(ctx Context) (models.EventIndex, models.EventIndex, error) {
	floor := ctx.Floor
	if floor < 1 {
		floor = 1
	}
	if root, ok := ctx.Scope.Root(); ok {
		if _, err := c.store.ThreadReader(root); err != nil {
			return 0, 0, err
		}
		rootMsg, err := c.store.Message(events.MainScope(), root)
		if err != nil {
			return 0, 0, err
		}
		if rootMsg.EventIndex < floor {
			return 0, 0, models.ErrThreadNotFound
		}
		floor = 1
	}
	latest := c.store.Latest(ctx.Scope)
	if ctx.KnownLatest > latest {
		metrics.StaleReads.Inc()
		return 0, 0, &models.ReplicaNotUpToDateError{Latest: latest}
	}
	return latest, floor, nil
}

// EventsByIndex returns the requested events, minus indices below the
// caller's floor and indices that do not exist.
func (c *Coordinator) EventsByIndex(ctx Context, indices []models.EventIndex) (*Result, error) {
	tr := telemetry.Track("reader.events_by_index")
	defer tr.Finish()
	metrics.Reads.WithLabelValues("by_index").Inc()

	latest, floor, err := c.admit(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]models.EventIndex, 0, len(indices))
	for _, idx := range indices {
		if idx >= floor {
			visible = append(visible, idx)
		}
	}
	recs, err := c.store.EventsByIndex(ctx.Scope, visible)
	if err != nil {
		return nil, err
	}
	return c.result(recs, latest), nil
}

// EventsRange returns [from, to] clipped to existing bounds, with from
// clamped up to the caller's floor.
func (c *Coordinator) EventsRange(ctx Context, from, to models.EventIndex) (*Result, error) {
	tr := telemetry.Track("reader.events_range")
	defer tr.Finish()
	metrics.Reads.WithLabelValues("range").Inc()

	latest, floor, err := c.admit(ctx)
	if err != nil {
		return nil, err
	}
	if from < floor {
		from = floor
	}
	recs, err := c.store.EventsRange(ctx.Scope, from, to)
	if err != nil {
		return nil, err
	}
	return c.result(recs, latest), nil
}

// EventsWindow expands outward from the event of the mid-point message until
// either cap is reached. When the two sides cannot be balanced the newer side
// wins: the window backs "jump to message", where recent context matters
// more. Expansion never descends below the caller's floor.
func (c *Coordinator) EventsWindow(ctx Context, mid models.MessageIndex, maxMessages, maxEvents int) (*Result, error) {
	tr := telemetry.Track("reader.events_window")
	defer tr.Finish()
	metrics.Reads.WithLabelValues("window").Inc()

	latest, floor, err := c.admit(ctx)
	if err != nil {
		return nil, err
	}
	if maxMessages <= 0 || maxEvents <= 0 {
		return c.result(nil, latest), nil
	}
	pivotMsg, err := c.store.Message(ctx.Scope, mid)
	if err != nil {
		return nil, err
	}
	pivot := pivotMsg.EventIndex
	if pivot < floor {
		return c.result(nil, latest), nil
	}

	var recs []events.Record
	msgCount, evCount := 0, 0
	take := func(idx models.EventIndex) (bool, error) {
		got, err := c.store.EventsByIndex(ctx.Scope, []models.EventIndex{idx})
		if err != nil {
			return false, err
		}
		if len(got) == 0 {
			return true, nil // absent index, keep expanding
		}
		rec := got[0]
		isMsg := rec.Envelope.Kind == models.KindMessage
		if evCount+1 > maxEvents || (isMsg && msgCount+1 > maxMessages) {
			return false, nil
		}
		recs = append(recs, rec)
		evCount++
		if isMsg {
			msgCount++
		}
		return true, nil
	}

	if ok, err := take(pivot); err != nil {
		return nil, err
	} else if !ok {
		return c.result(nil, latest), nil
	}

	up, down := pivot+1, pivot-1
	upDone, downDone := up > latest, down < floor || down < 1
	for !upDone || !downDone {
		// newer side first: ties break toward recency
		if !upDone {
			ok, err := take(up)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			up++
			upDone = up > latest
		}
		if !downDone {
			ok, err := take(down)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if down == 1 || down-1 < floor {
				downDone = true
			} else {
				down--
			}
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Envelope.Index < recs[j].Envelope.Index })
	return c.result(recs, latest), nil
}

func (c *Coordinator) result(recs []events.Record, latest models.EventIndex) *Result {
	return &Result{
		Events:   recs,
		Affected: c.store.AffectedEvents(recs),
		Latest:   latest,
	}
}

// SubjectUpdate is one changed subject in a catch-up diff.
type SubjectUpdate struct {
	Subject string
	TS      int64
}

// SelectedUpdates returns the subjects updated strictly after since, newest
// first. The no-update case is decided from the cached latest mark timestamp
// before any scan, so idle polling is O(1).
func (c *Coordinator) SelectedUpdates(since int64) ([]SubjectUpdate, bool, error) {
	metrics.Reads.WithLabelValues("selected_updates").Inc()
	if c.store.Updated.LatestTS() <= since {
		return nil, false, nil
	}
	var out []SubjectUpdate
	err := c.store.Updated.IterSince(since, func(subject string, ts int64) bool {
		out = append(out, SubjectUpdate{Subject: subject, TS: ts})
		return true
	})
	if err != nil {
		return nil, false, err
	}
	return out, len(out) > 0, nil
}

// Search runs a keyword query over the main timeline, honoring the caller's
// floor and an optional sender filter, newest first, at most limit results.
func (c *Coordinator) Search(ctx Context, query string, senders []string, limit int) ([]models.MessageIndex, error) {
	metrics.Reads.WithLabelValues("search").Inc()
	if _, _, err := c.admit(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	// search documents live on the main timeline, so the caller's raw floor
	// applies regardless of the context's scope
	floor := ctx.Floor
	if floor < 1 {
		floor = 1
	}
	var out []models.MessageIndex
	err := c.store.Search.Search(query, senders, floor, func(midx models.MessageIndex) bool {
		out = append(out, midx)
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MentionsSince returns user's mentions newer than since (nil for all),
// newest first, at most limit. Mentions pointing below the caller's floor
// are withheld; a thread mention is gated on its root message's index.
func (c *Coordinator) MentionsSince(ctx Context, user string, since *int64, limit int) ([]models.Mention, error) {
	metrics.Reads.WithLabelValues("mentions").Inc()
	if _, _, err := c.admit(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	// mention gates are main-timeline indices whatever scope the mention
	// itself lives in, so the caller's raw floor applies here
	floor := ctx.Floor
	if floor < 1 {
		floor = 1
	}
	var out []models.Mention
	err := c.store.Mentions.IterMostRecent(user, since, func(m models.Mention) bool {
		gate := m.EventIndex
		if m.ThreadRoot != nil {
			root, err := c.store.Message(events.MainScope(), *m.ThreadRoot)
			if err != nil {
				return true // root pruned; skip the mention
			}
			gate = root.EventIndex
		}
		if gate < floor {
			return true
		}
		out = append(out, m)
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
