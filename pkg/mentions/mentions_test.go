package mentions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store"
)

func newTestIndex(t *testing.T) (*Index, *store.DB) {
	t.Helper()
	db, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Open(db), db
}

func add(t *testing.T, i *Index, db *store.DB, m models.Mention) bool {
	t.Helper()
	batch := db.NewBatch()
	ok, err := i.Add(batch, m)
	require.NoError(t, err)
	require.NoError(t, db.ApplyBatch(batch))
	return ok
}

func collect(t *testing.T, i *Index, user string, since *int64) []models.Mention {
	t.Helper()
	var out []models.Mention
	require.NoError(t, i.IterMostRecent(user, since, func(m models.Mention) bool {
		out = append(out, m)
		return true
	}))
	return out
}

func TestMentionsNewestFirst(t *testing.T) {
	i, db := newTestIndex(t)
	for n := 1; n <= 3; n++ {
		ok := add(t, i, db, models.Mention{
			Mentioned:    "bob",
			MessageIndex: models.MessageIndex(n),
			EventIndex:   models.EventIndex(n),
			TS:           int64(n * 100),
		})
		assert.True(t, ok)
	}

	got := collect(t, i, "bob", nil)
	require.Len(t, got, 3)
	assert.Equal(t, models.MessageIndex(3), got[0].MessageIndex)
	assert.Equal(t, models.MessageIndex(1), got[2].MessageIndex)
}

func TestMentionDedupGuard(t *testing.T) {
	i, db := newTestIndex(t)
	m := models.Mention{Mentioned: "bob", MessageIndex: 1, EventIndex: 1, TS: 100}
	assert.True(t, add(t, i, db, m))
	// same message mentioning the same user again is not re-recorded
	m.TS = 999
	assert.False(t, add(t, i, db, m))
	assert.Len(t, collect(t, i, "bob", nil), 1)
}

func TestMentionsSinceIsStrict(t *testing.T) {
	i, db := newTestIndex(t)
	for n := 1; n <= 3; n++ {
		add(t, i, db, models.Mention{
			Mentioned:    "bob",
			MessageIndex: models.MessageIndex(n),
			EventIndex:   models.EventIndex(n),
			TS:           int64(n * 100),
		})
	}
	since := int64(200)
	got := collect(t, i, "bob", &since)
	require.Len(t, got, 1)
	assert.Equal(t, int64(300), got[0].TS)
}

func TestThreadMentionCarriesRoot(t *testing.T) {
	i, db := newTestIndex(t)
	root := models.MessageIndex(7)
	add(t, i, db, models.Mention{Mentioned: "bob", MessageIndex: 2, EventIndex: 5, ThreadRoot: &root, TS: 100})
	// the same (root, reply) pair is deduped independently of main mentions
	add(t, i, db, models.Mention{Mentioned: "bob", MessageIndex: 2, EventIndex: 9, TS: 200})

	got := collect(t, i, "bob", nil)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].ThreadRoot)
	require.NotNil(t, got[1].ThreadRoot)
	assert.Equal(t, root, *got[1].ThreadRoot)
}

func TestPrefixCollisionBetweenUsers(t *testing.T) {
	i, db := newTestIndex(t)
	add(t, i, db, models.Mention{Mentioned: "al", MessageIndex: 1, EventIndex: 1, TS: 100})
	add(t, i, db, models.Mention{Mentioned: "al:ice", MessageIndex: 2, EventIndex: 2, TS: 200})

	got := collect(t, i, "al", nil)
	require.Len(t, got, 1)
	assert.Equal(t, "al", got[0].Mentioned)
}
