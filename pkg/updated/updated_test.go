package updated

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-chat-labs/open-chat-sub009/pkg/store"
)

func newTestIndex(t *testing.T) (*Index, *store.DB) {
	t.Helper()
	db, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	i, err := Open(db)
	require.NoError(t, err)
	return i, db
}

func mark(t *testing.T, i *Index, db *store.DB, subject string, ts int64) {
	t.Helper()
	batch := db.NewBatch()
	require.NoError(t, i.Mark(batch, subject, ts))
	require.NoError(t, db.ApplyBatch(batch))
	i.Advance(ts)
}

func collect(t *testing.T, i *Index, since int64) map[string]int64 {
	t.Helper()
	out := map[string]int64{}
	require.NoError(t, i.IterSince(since, func(subject string, ts int64) bool {
		out[subject] = ts
		return true
	}))
	return out
}

func TestMarkAndIterSince(t *testing.T) {
	i, db := newTestIndex(t)
	mark(t, i, db, "members", 100)
	mark(t, i, db, "rules", 200)
	mark(t, i, db, "pinned_messages", 300)

	got := collect(t, i, 150)
	assert.Equal(t, map[string]int64{"rules": 200, "pinned_messages": 300}, got)

	// strictly after: a mark at exactly since is not an update
	got = collect(t, i, 300)
	assert.Empty(t, got)
}

func TestRemarkedSubjectAppearsOnce(t *testing.T) {
	i, db := newTestIndex(t)
	mark(t, i, db, "members", 100)
	mark(t, i, db, "members", 500)

	var subjects []string
	require.NoError(t, i.IterSince(0, func(subject string, ts int64) bool {
		subjects = append(subjects, subject)
		assert.Equal(t, int64(500), ts)
		return true
	}))
	assert.Equal(t, []string{"members"}, subjects)
}

func TestStaleMarkKeepsNewerEntry(t *testing.T) {
	i, db := newTestIndex(t)
	mark(t, i, db, "members", 500)
	mark(t, i, db, "members", 100) // out of order, must not regress

	got := collect(t, i, 0)
	assert.Equal(t, int64(500), got["members"])
	assert.Equal(t, int64(500), i.LatestTS())
}

func TestLatestTSAdvancesOnlyAfterApply(t *testing.T) {
	i, db := newTestIndex(t)

	// a staged mark is not visible to the cached latest until Advance
	batch := db.NewBatch()
	require.NoError(t, i.Mark(batch, "members", 100))
	assert.Equal(t, int64(0), i.LatestTS())

	require.NoError(t, db.ApplyBatch(batch))
	i.Advance(100)
	assert.Equal(t, int64(100), i.LatestTS())
}

func TestIterSinceNewestFirst(t *testing.T) {
	i, db := newTestIndex(t)
	mark(t, i, db, "a", 100)
	mark(t, i, db, "b", 300)
	mark(t, i, db, "c", 200)

	var order []string
	require.NoError(t, i.IterSince(0, func(subject string, _ int64) bool {
		order = append(order, subject)
		return true
	}))
	assert.Equal(t, []string{"b", "c", "a"}, order)
}

func TestLatestTSWarmedOnOpen(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(dir, store.Options{})
	require.NoError(t, err)
	i, err := Open(db)
	require.NoError(t, err)
	mark(t, i, db, "members", 4242)
	require.NoError(t, db.Close())

	db, err = store.Open(dir, store.Options{})
	require.NoError(t, err)
	defer db.Close()
	i, err = Open(db)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), i.LatestTS())
}
