package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
)

func TestThreadReplyUpdatesRootSummary(t *testing.T) {
	s := newTestStore(t)
	_, root, err := s.AppendMessage(MainScope(), MessageDraft{Sender: "alice", Content: "root"}, 1)
	require.NoError(t, err)

	// no replies yet: the thread does not exist
	_, err = s.ThreadReader(root)
	assert.ErrorIs(t, err, models.ErrThreadNotFound)

	eidx, _, err := s.AppendMessage(ThreadScope(root), MessageDraft{Sender: "zoe", Content: "first reply"}, 2)
	require.NoError(t, err)
	assert.Equal(t, models.EventIndex(1), eidx)

	eidx, _, err = s.AppendMessage(ThreadScope(root), MessageDraft{Sender: "bob", Content: "second reply"}, 3)
	require.NoError(t, err)
	assert.Equal(t, models.EventIndex(2), eidx)

	scope, err := s.ThreadReader(root)
	require.NoError(t, err)
	assert.True(t, scope.IsThread())

	p, err := s.Message(MainScope(), root)
	require.NoError(t, err)
	require.NotNil(t, p.Thread)
	assert.Equal(t, uint32(2), p.Thread.ReplyCount)
	assert.Equal(t, []string{"bob", "zoe"}, p.Thread.Participants)
	assert.Equal(t, models.EventIndex(2), p.Thread.LatestEventIndex)
	assert.Equal(t, int64(3), p.Thread.LatestEventTS)
}

func TestThreadSummaryVisibleInMainTimelineRead(t *testing.T) {
	s := newTestStore(t)
	_, root, err := s.AppendMessage(MainScope(), MessageDraft{Sender: "alice", Content: "root"}, 1)
	require.NoError(t, err)
	_, _, err = s.AppendMessage(ThreadScope(root), MessageDraft{Sender: "bob", Content: "reply"}, 2)
	require.NoError(t, err)

	// reading the main timeline surfaces the summary and reports the root as
	// affected, since its rendered form changed after its envelope
	recs, err := s.EventsRange(MainScope(), 1, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Message.Thread)
	assert.Equal(t, uint32(1), recs[0].Message.Thread.ReplyCount)
	assert.Equal(t, []models.EventIndex{1}, s.AffectedEvents(recs))
}

func TestThreadRepeatParticipantCountedOnce(t *testing.T) {
	s := newTestStore(t)
	_, root, err := s.AppendMessage(MainScope(), MessageDraft{Sender: "alice", Content: "root"}, 1)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := s.AppendMessage(ThreadScope(root), MessageDraft{Sender: "bob", Content: "again"}, int64(2+i))
		require.NoError(t, err)
	}
	p, err := s.Message(MainScope(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, p.Thread.Participants)
	assert.Equal(t, uint32(3), p.Thread.ReplyCount)
}

func TestThreadAppendValidatesRoot(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.AppendMessage(ThreadScope(42), MessageDraft{Sender: "bob", Content: "orphan"}, 1)
	assert.ErrorIs(t, err, models.ErrMessageNotFound)

	_, root, err := s.AppendMessage(MainScope(), MessageDraft{Sender: "alice", Content: "root"}, 2)
	require.NoError(t, err)
	require.NoError(t, s.HardDelete(MainScope(), root, 3))
	_, _, err = s.AppendMessage(ThreadScope(root), MessageDraft{Sender: "bob", Content: "late"}, 4)
	assert.ErrorIs(t, err, models.ErrMessageHardDeleted)
}

func TestThreadMessageMutations(t *testing.T) {
	s := newTestStore(t)
	_, root, err := s.AppendMessage(MainScope(), MessageDraft{Sender: "alice", Content: "root"}, 1)
	require.NoError(t, err)
	_, reply, err := s.AppendMessage(ThreadScope(root), MessageDraft{Sender: "bob", Content: "tpyo"}, 2)
	require.NoError(t, err)

	out, _, err := s.EditMessage("bob", ByIndex(ThreadScope(root), reply), "typo", 3)
	require.NoError(t, err)
	assert.Equal(t, models.Updated, out)

	p, err := s.Message(ThreadScope(root), reply)
	require.NoError(t, err)
	assert.Equal(t, "typo", p.Content)
}
