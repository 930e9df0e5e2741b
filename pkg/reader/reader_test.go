package reader

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-chat-labs/open-chat-sub009/pkg/events"
	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *events.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := events.Open(db, events.Options{})
	require.NoError(t, err)
	return New(s), s
}

func appendMsg(t *testing.T, s *events.Store, scope events.Scope, d events.MessageDraft, now int64) (models.EventIndex, models.MessageIndex) {
	t.Helper()
	eidx, midx, err := s.AppendMessage(scope, d, now)
	require.NoError(t, err)
	return eidx, midx
}

func indicesOf(recs []events.Record) []models.EventIndex {
	out := make([]models.EventIndex, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Envelope.Index)
	}
	return out
}

// seedWithLateJoiner builds: alice's messages at events 1..3, bob joins at
// event 4, then messages at events 5 and 6. Returns bob's read context.
func seedWithLateJoiner(t *testing.T) (*Coordinator, *events.Store, Context) {
	t.Helper()
	c, s := newTestCoordinator(t)
	for i := 1; i <= 3; i++ {
		appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: fmt.Sprintf("alpha early %d", i)}, int64(i*100))
	}
	_, err := s.AppendMembersJoined([]string{"bob"}, 400)
	require.NoError(t, err)
	appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "alpha four", Mentions: []string{"bob"}}, 500)
	appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "alpha five"}, 600)
	return c, s, c.ContextFor("bob", events.MainScope(), 0)
}

func TestFloorAppliedToRangeReads(t *testing.T) {
	c, _, ctx := seedWithLateJoiner(t)
	require.Equal(t, models.EventIndex(4), ctx.Floor)

	res, err := c.EventsRange(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{4, 5, 6}, indicesOf(res.Events))
	assert.Equal(t, models.EventIndex(6), res.Latest)
}

func TestFloorAppliedToIndexReads(t *testing.T) {
	c, _, ctx := seedWithLateJoiner(t)

	res, err := c.EventsByIndex(ctx, []models.EventIndex{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{4, 5, 6}, indicesOf(res.Events))
}

func TestFloorAppliedToSearch(t *testing.T) {
	c, _, ctx := seedWithLateJoiner(t)

	// every message contains "alpha"; bob only sees the post-join ones
	got, err := c.Search(ctx, "alpha", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.MessageIndex{5, 4}, got)

	// an unknown reader has the zero floor and sees everything
	all, err := c.Search(c.ContextFor("observer", events.MainScope(), 0), "alpha", nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestFloorAppliedToMentions(t *testing.T) {
	c, s, ctx := seedWithLateJoiner(t)
	// a pre-join mention bob must never see
	appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "late ping", Mentions: []string{"bob"}}, 700)

	got, err := c.MentionsSince(ctx, "bob", nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.EventIndex(7), got[0].EventIndex)
	assert.Equal(t, models.EventIndex(5), got[1].EventIndex)

	since := int64(500)
	got, err = c.MentionsSince(ctx, "bob", &since, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventIndex(7), got[0].EventIndex)
}

func TestPreJoinMentionWithheld(t *testing.T) {
	c, s := newTestCoordinator(t)
	appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "early ping", Mentions: []string{"bob"}}, 100)
	_, err := s.AppendMembersJoined([]string{"bob"}, 200)
	require.NoError(t, err)

	got, err := c.MentionsSince(c.ContextFor("bob", events.MainScope(), 0), "bob", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReplicaNotUpToDate(t *testing.T) {
	c, _, ctx := seedWithLateJoiner(t)

	// claiming exactly the replica's latest is fine
	ctx.KnownLatest = 6
	_, err := c.EventsRange(ctx, 1, 6)
	require.NoError(t, err)

	// claiming a fresher view is refused with the replica's latest index
	ctx.KnownLatest = 7
	_, err = c.EventsRange(ctx, 1, 7)
	var stale *models.ReplicaNotUpToDateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, models.EventIndex(6), stale.Latest)

	_, err = c.EventsByIndex(ctx, []models.EventIndex{1})
	assert.ErrorAs(t, err, &stale)
	_, err = c.EventsWindow(ctx, 1, 10, 10)
	assert.ErrorAs(t, err, &stale)
	_, err = c.Search(ctx, "alpha", nil, 10)
	assert.ErrorAs(t, err, &stale)
	_, err = c.MentionsSince(ctx, "bob", nil, 10)
	assert.ErrorAs(t, err, &stale)
}

func TestWindowExpandsAroundMessage(t *testing.T) {
	c, s := newTestCoordinator(t)
	for i := 1; i <= 9; i++ {
		appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: fmt.Sprintf("m%d", i)}, int64(i*100))
	}
	ctx := c.ContextFor("alice", events.MainScope(), 0)

	res, err := c.EventsWindow(ctx, 5, 9, 4)
	require.NoError(t, err)
	// capped at 4 events; the tie breaks toward the newer side
	assert.Equal(t, []models.EventIndex{4, 5, 6, 7}, indicesOf(res.Events))
}

func TestWindowAtTimelineEdge(t *testing.T) {
	c, s := newTestCoordinator(t)
	for i := 1; i <= 5; i++ {
		appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: fmt.Sprintf("m%d", i)}, int64(i*100))
	}
	ctx := c.ContextFor("alice", events.MainScope(), 0)

	// pivot at the newest message: the window fills from the older side
	res, err := c.EventsWindow(ctx, 5, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{3, 4, 5}, indicesOf(res.Events))

	// pivot at the oldest: fills from the newer side
	res, err = c.EventsWindow(ctx, 1, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{1, 2, 3}, indicesOf(res.Events))
}

func TestWindowNeverDescendsBelowFloor(t *testing.T) {
	c, _, ctx := seedWithLateJoiner(t)

	// message index 4 sits at event 5; expansion stops at bob's floor of 4
	res, err := c.EventsWindow(ctx, 4, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{4, 5, 6}, indicesOf(res.Events))
}

func TestWindowPivotBelowFloorIsEmpty(t *testing.T) {
	c, _, ctx := seedWithLateJoiner(t)

	// message index 1 maps to event 1, below bob's floor
	res, err := c.EventsWindow(ctx, 1, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
}

func TestWindowMissingPivot(t *testing.T) {
	c, s := newTestCoordinator(t)
	appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "only"}, 100)
	ctx := c.ContextFor("alice", events.MainScope(), 0)

	_, err := c.EventsWindow(ctx, 42, 10, 10)
	assert.ErrorIs(t, err, models.ErrMessageNotFound)
}

func TestThreadScopeRequiresThread(t *testing.T) {
	c, s := newTestCoordinator(t)
	_, root := appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "root"}, 100)

	ctx := c.ContextFor("alice", events.ThreadScope(root), 0)
	_, err := c.EventsRange(ctx, 1, 10)
	assert.ErrorIs(t, err, models.ErrThreadNotFound)

	appendMsg(t, s, events.ThreadScope(root), events.MessageDraft{Sender: "bob", Content: "reply"}, 200)
	res, err := c.EventsRange(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{1}, indicesOf(res.Events))
}

func TestThreadBelowFloorDeniedWhole(t *testing.T) {
	c, s := newTestCoordinator(t)
	_, root := appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "old root"}, 100)
	for i := 1; i <= 4; i++ {
		appendMsg(t, s, events.ThreadScope(root), events.MessageDraft{Sender: "alice", Content: fmt.Sprintf("reply %d", i)}, int64(100+i))
	}
	_, err := s.AppendMembersJoined([]string{"carol"}, 200)
	require.NoError(t, err)

	// the root sits below carol's floor, so the whole thread is invisible to
	// her even though thread indices 1..4 are numerically above the floor
	ctx := c.ContextFor("carol", events.ThreadScope(root), 0)
	_, err = c.EventsRange(ctx, 1, 10)
	assert.ErrorIs(t, err, models.ErrThreadNotFound)
	_, err = c.EventsByIndex(ctx, []models.EventIndex{3, 4})
	assert.ErrorIs(t, err, models.ErrThreadNotFound)
	_, err = c.EventsWindow(ctx, 1, 10, 10)
	assert.ErrorIs(t, err, models.ErrThreadNotFound)
}

func TestPostJoinThreadFullyVisible(t *testing.T) {
	c, s := newTestCoordinator(t)
	appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "history"}, 100)
	_, err := s.AppendMembersJoined([]string{"carol"}, 200)
	require.NoError(t, err)
	_, root := appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "new root"}, 300)
	appendMsg(t, s, events.ThreadScope(root), events.MessageDraft{Sender: "alice", Content: "first reply"}, 400)
	appendMsg(t, s, events.ThreadScope(root), events.MessageDraft{Sender: "bob", Content: "second reply"}, 500)

	// the root is at or above carol's floor, so the thread's own low indices
	// must not be filtered against her main-timeline floor
	ctx := c.ContextFor("carol", events.ThreadScope(root), 0)
	require.Greater(t, ctx.Floor, models.EventIndex(1))

	res, err := c.EventsRange(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{1, 2}, indicesOf(res.Events))

	res, err = c.EventsByIndex(ctx, []models.EventIndex{1, 2})
	require.NoError(t, err)
	assert.Len(t, res.Events, 2)

	res, err = c.EventsWindow(ctx, 1, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{1, 2}, indicesOf(res.Events))
}

func TestZeroLimitReadsReturnNothing(t *testing.T) {
	c, s := newTestCoordinator(t)
	appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "ping", Mentions: []string{"bob"}}, 100)
	ctx := c.ContextFor("bob", events.MainScope(), 0)

	got, err := c.Search(ctx, "ping", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	mentions, err := c.MentionsSince(ctx, "bob", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, mentions)
}

func TestAffectedEventsReported(t *testing.T) {
	c, s := newTestCoordinator(t)
	appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "one"}, 100)
	_, m2 := appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "two"}, 200)
	_, _, err := s.EditMessage("alice", events.ByIndex(events.MainScope(), m2), "two edited", 300)
	require.NoError(t, err)

	res, err := c.EventsRange(c.ContextFor("alice", events.MainScope(), 0), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{2}, res.Affected)
}

func TestSelectedUpdates(t *testing.T) {
	c, s := newTestCoordinator(t)

	// nothing marked yet: O(1) early out
	got, any, err := c.SelectedUpdates(0)
	require.NoError(t, err)
	assert.False(t, any)
	assert.Empty(t, got)

	_, err = s.AppendMembersJoined([]string{"alice"}, 100)
	require.NoError(t, err)
	_, m1 := appendMsg(t, s, events.MainScope(), events.MessageDraft{Sender: "alice", Content: "hello"}, 200)
	_, _, err = s.AddReaction("alice", "wave", events.ByIndex(events.MainScope(), m1), 300)
	require.NoError(t, err)

	got, any, err = c.SelectedUpdates(0)
	require.NoError(t, err)
	assert.True(t, any)
	require.Len(t, got, 2)
	// newest first: the reacted message, then membership
	assert.Equal(t, int64(300), got[0].TS)
	assert.Equal(t, events.SubjectMembers, got[1].Subject)

	got, any, err = c.SelectedUpdates(250)
	require.NoError(t, err)
	assert.True(t, any)
	require.Len(t, got, 1)
	assert.Equal(t, int64(300), got[0].TS)

	_, any, err = c.SelectedUpdates(300)
	require.NoError(t, err)
	assert.False(t, any)
}
