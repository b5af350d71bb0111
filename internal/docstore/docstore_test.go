package docstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/corpus"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "corpus.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func doc(id string, scope corpus.Scope, updatedAt time.Time) corpus.Document {
	return corpus.Document{
		ID:        id,
		Scope:     scope,
		Title:     "title " + id,
		Content:   "content " + id,
		UpdatedAt: updatedAt,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("", zap.NewNop())
	require.ErrorIs(t, err, corpus.ErrStore)
}

func TestUpsertAndGetByIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	d := doc("d1", corpus.PrivateScope("alice"), now)
	require.NoError(t, store.Upsert(ctx, d))

	got, err := store.GetByIDs(ctx, []string{"d1", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d.ID, got[0].ID)
	assert.Equal(t, d.Scope, got[0].Scope)
	assert.Equal(t, d.Title, got[0].Title)
	assert.Equal(t, d.Content, got[0].Content)
	assert.True(t, d.UpdatedAt.Equal(got[0].UpdatedAt))

	// Upsert replaces in place.
	d.Content = "revised"
	d.UpdatedAt = now.Add(time.Second)
	require.NoError(t, store.Upsert(ctx, d))

	got, err = store.GetByIDs(ctx, []string{"d1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "revised", got[0].Content)
}

func TestUpsertRejectsInvalidDocument(t *testing.T) {
	store := newTestStore(t)
	err := store.Upsert(context.Background(), corpus.Document{Scope: "user:alice"})
	require.ErrorIs(t, err, corpus.ErrInvalidDocument)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, doc("d1", "user:alice", time.Now())))
	require.NoError(t, store.Delete(ctx, "d1"))
	require.ErrorIs(t, store.Delete(ctx, "d1"), corpus.ErrNotFound)
}

func TestListOrdersByUpdatedAtThenID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scope := corpus.PrivateScope("alice")

	// d2 and d3 share a timestamp so ordering falls back to the id.
	require.NoError(t, store.Upsert(ctx, doc("d3", scope, base.Add(time.Minute))))
	require.NoError(t, store.Upsert(ctx, doc("d2", scope, base.Add(time.Minute))))
	require.NoError(t, store.Upsert(ctx, doc("d1", scope, base)))

	docs, next, err := store.List(ctx, []corpus.Scope{scope}, nil, 10, "")
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, docs, 3)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "d2", docs[1].ID)
	assert.Equal(t, "d3", docs[2].ID)
}

func TestListPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scope := corpus.PrivateScope("alice")
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.Upsert(ctx, doc(id, scope, base)))
	}

	var seen []string
	cursor := ""
	for {
		docs, next, err := store.List(ctx, []corpus.Scope{scope}, nil, 2, cursor)
		require.NoError(t, err)
		for _, d := range docs {
			seen = append(seen, d.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
}

func TestListFiltersByScopeAndUpdatedAfter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice := corpus.PrivateScope("alice")
	bob := corpus.PrivateScope("bob")

	require.NoError(t, store.Upsert(ctx, doc("old", alice, base.Add(-time.Hour))))
	require.NoError(t, store.Upsert(ctx, doc("new", alice, base.Add(time.Hour))))
	require.NoError(t, store.Upsert(ctx, doc("other", bob, base.Add(time.Hour))))

	docs, _, err := store.List(ctx, []corpus.Scope{alice}, &base, 10, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "new", docs[0].ID)
}

func TestListNoScopes(t *testing.T) {
	store := newTestStore(t)
	docs, next, err := store.List(context.Background(), nil, nil, 10, "")
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, next)
}

func TestListMalformedCursor(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.List(context.Background(), []corpus.Scope{"user:alice"}, nil, 10, "not-a-cursor-at-all")
	require.ErrorIs(t, err, corpus.ErrStore)
}

func TestWatermarkRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wm, err := store.GetWatermark(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, wm)

	want := corpus.Watermark{
		LastIndexedAt:    time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		LastIndexedDocID: "d7",
	}
	require.NoError(t, store.SetWatermark(ctx, "alice", want))

	wm, err = store.GetWatermark(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.True(t, want.LastIndexedAt.Equal(wm.LastIndexedAt))
	assert.Equal(t, want.LastIndexedDocID, wm.LastIndexedDocID)

	// Overwrite advances the stored value.
	want.LastIndexedAt = want.LastIndexedAt.Add(time.Minute)
	want.LastIndexedDocID = "d9"
	require.NoError(t, store.SetWatermark(ctx, "alice", want))

	wm, err = store.GetWatermark(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "d9", wm.LastIndexedDocID)

	// Watermarks are per user.
	other, err := store.GetWatermark(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, other)
}
