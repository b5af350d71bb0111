package chunkstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/corpus"
)

const testDim = 3

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{
		Path:      t.TempDir(),
		Dimension: testDim,
	}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func row(userID, docID string, index int, scope corpus.Scope, embedding []float32) corpus.ChunkRow {
	return corpus.ChunkRow{
		UserID:       userID,
		DocID:        docID,
		Scope:        scope,
		ChunkIndex:   index,
		Content:      "chunk content",
		Embedding:    embedding,
		DocUpdatedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestChromemStoreInsertAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := corpus.PrivateScope("u1")

	rows := []corpus.ChunkRow{
		row("u1", "doc-a", 0, scope, []float32{1, 0, 0}),
		row("u1", "doc-a", 1, scope, []float32{0.9, 0.1, 0}),
		row("u1", "doc-b", 0, scope, []float32{0, 1, 0}),
	}
	require.NoError(t, store.InsertChunks(ctx, rows))

	matches, err := store.SimilaritySearch(ctx, []float32{1, 0, 0}, 10, []corpus.Scope{scope})
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	assert.Equal(t, "doc-a", matches[0].DocID, "most similar chunk must rank first")
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score, "matches must be ranked descending")
	}
}

func TestChromemStoreScopeRestriction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	private := corpus.PrivateScope("u1")
	persona := corpus.Scope("persona-1")

	require.NoError(t, store.InsertChunks(ctx, []corpus.ChunkRow{
		row("u1", "private-doc", 0, private, []float32{1, 0, 0}),
		row("u1", "persona-doc", 0, persona, []float32{1, 0, 0}),
	}))

	matches, err := store.SimilaritySearch(ctx, []float32{1, 0, 0}, 10, []corpus.Scope{persona})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "persona-doc", matches[0].DocID)
}

func TestChromemStoreDeleteChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := corpus.PrivateScope("u1")

	require.NoError(t, store.InsertChunks(ctx, []corpus.ChunkRow{
		row("u1", "doc-a", 0, scope, []float32{1, 0, 0}),
		row("u1", "doc-b", 0, scope, []float32{0, 1, 0}),
	}))

	require.NoError(t, store.DeleteChunks(ctx, "u1", "doc-a"))

	matches, err := store.SimilaritySearch(ctx, []float32{1, 0, 0}, 10, []corpus.Scope{scope})
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, "doc-a", m.DocID)
	}

	// Deleting a document with no chunks is a no-op, not an error.
	require.NoError(t, store.DeleteChunks(ctx, "u1", "doc-a"))
	require.NoError(t, store.DeleteChunks(ctx, "u1", "never-existed"))
}

func TestChromemStoreDeleteOnEmptyStore(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.DeleteChunks(context.Background(), "u1", "doc-a"))
}

func TestChromemStoreReinsertReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := corpus.PrivateScope("u1")

	r := row("u1", "doc-a", 0, scope, []float32{1, 0, 0})
	require.NoError(t, store.InsertChunks(ctx, []corpus.ChunkRow{r}))
	require.NoError(t, store.InsertChunks(ctx, []corpus.ChunkRow{r}))

	matches, err := store.SimilaritySearch(ctx, []float32{1, 0, 0}, 10, []corpus.Scope{scope})
	require.NoError(t, err)
	assert.Len(t, matches, 1, "same composite key must replace, not duplicate")
}

func TestChromemStoreDimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := corpus.PrivateScope("u1")

	err := store.InsertChunks(ctx, []corpus.ChunkRow{
		row("u1", "doc-a", 0, scope, []float32{1, 0}),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, corpus.ErrStore)

	_, err = store.SimilaritySearch(ctx, []float32{1, 0}, 5, []corpus.Scope{scope})
	assert.ErrorIs(t, err, corpus.ErrStore)
}

func TestChromemStoreEmptyScopes(t *testing.T) {
	store := newTestStore(t)
	matches, err := store.SimilaritySearch(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestNewSelectsProvider(t *testing.T) {
	store, err := New(Config{
		Provider:  "chromem",
		Dimension: testDim,
		Chromem:   ChromemConfig{Path: t.TempDir()},
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = New(Config{Provider: "pinecone", Dimension: testDim}, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
