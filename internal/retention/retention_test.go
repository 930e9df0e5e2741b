package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/open-chat-labs/open-chat-sub009/pkg/config"
	"github.com/open-chat-labs/open-chat-sub009/pkg/events"
	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store"
)

func newSweeper(t *testing.T, cfg config.RetentionConfig) (*Sweeper, *events.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := events.Open(db, events.Options{})
	require.NoError(t, err)
	return &Sweeper{
		cfg:     cfg,
		store:   s,
		limiter: rate.NewLimiter(rate.Limit(10000), 1),
		ctx:     context.Background(),
	}, s
}

func seedDeleted(t *testing.T, s *events.Store, n int, deletedTS func(i int) int64) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, midx, err := s.AppendMessage(events.MainScope(), events.MessageDraft{Sender: "alice", Content: "x"}, int64(i+1))
		require.NoError(t, err)
		_, _, err = s.DeleteMessage("alice", false, events.ByIndex(events.MainScope(), midx), deletedTS(i))
		require.NoError(t, err)
	}
}

func TestRunOncePurgesExpiredOnly(t *testing.T) {
	sw, s := newSweeper(t, config.RetentionConfig{Period: "1h", BatchSize: 100, RatePerSec: 10000})

	old := time.Now().Add(-2 * time.Hour).UnixNano()
	fresh := time.Now().UnixNano()
	seedDeleted(t, s, 3, func(i int) int64 {
		if i < 2 {
			return old + int64(i)
		}
		return fresh
	})

	require.NoError(t, sw.RunOnce())

	// the two expired messages are hard-deleted
	for _, midx := range []models.MessageIndex{1, 2} {
		p, err := s.Message(events.MainScope(), midx)
		require.NoError(t, err)
		assert.True(t, p.HardDeleted)
	}
	// the fresh delete is untouched and still recoverable
	p, err := s.Message(events.MainScope(), 3)
	require.NoError(t, err)
	assert.False(t, p.HardDeleted)
	content, err := s.DeletedMessage("alice", events.ByIndex(events.MainScope(), 3))
	require.NoError(t, err)
	assert.Equal(t, "x", content)
}

func TestRunOnceDryRunPurgesNothing(t *testing.T) {
	sw, s := newSweeper(t, config.RetentionConfig{Period: "1h", BatchSize: 100, DryRun: true})

	old := time.Now().Add(-2 * time.Hour).UnixNano()
	seedDeleted(t, s, 2, func(i int) int64 { return old + int64(i) })

	require.NoError(t, sw.RunOnce())

	for _, midx := range []models.MessageIndex{1, 2} {
		p, err := s.Message(events.MainScope(), midx)
		require.NoError(t, err)
		assert.False(t, p.HardDeleted)
	}
}

func TestRunOnceHonorsBatchSize(t *testing.T) {
	sw, s := newSweeper(t, config.RetentionConfig{Period: "1h", BatchSize: 2, RatePerSec: 10000})

	old := time.Now().Add(-2 * time.Hour).UnixNano()
	seedDeleted(t, s, 4, func(i int) int64 { return old + int64(i) })

	require.NoError(t, sw.RunOnce())

	purged := 0
	for midx := models.MessageIndex(1); midx <= 4; midx++ {
		p, err := s.Message(events.MainScope(), midx)
		require.NoError(t, err)
		if p.HardDeleted {
			purged++
		}
	}
	assert.Equal(t, 2, purged)
}

func TestStartDisabledIsNoop(t *testing.T) {
	_, s := newSweeper(t, config.RetentionConfig{})
	cancel, err := Start(context.Background(), config.RetentionConfig{}, s)
	require.NoError(t, err)
	cancel()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	_, s := newSweeper(t, config.RetentionConfig{})
	_, err := Start(context.Background(), config.RetentionConfig{Enabled: true, Cron: "not a cron", Period: "1h"}, s)
	assert.Error(t, err)
	_, err = Start(context.Background(), config.RetentionConfig{Enabled: true, Cron: "0 2 * * *", Period: "soon"}, s)
	assert.Error(t, err)
}
