package indexer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/corpus"
)

var syncBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func syncDoc(id string, offset time.Duration) corpus.Document {
	return corpus.Document{
		ID:        id,
		Scope:     corpus.PrivateScope("alice"),
		Title:     "title " + id,
		Content:   "content for " + id,
		UpdatedAt: syncBase.Add(offset),
	}
}

type coordinatorFixture struct {
	provider   *fakeProvider
	chunks     *fakeChunkStore
	docs       *fakeDocStore
	watermarks *memWatermarks
	coord      *Coordinator
}

func newCoordinatorFixture(resolver ScopeResolver, docs ...corpus.Document) *coordinatorFixture {
	f := &coordinatorFixture{
		provider:   newFakeProvider(),
		chunks:     newFakeChunkStore(),
		docs:       newFakeDocStore(docs...),
		watermarks: newMemWatermarks(),
	}
	writer := NewWriter(f.provider, f.chunks, chunker.Options{}, zap.NewNop())
	f.coord = NewCoordinator(f.docs, f.watermarks, writer, f.provider, resolver, zap.NewNop())
	return f
}

func TestSyncIndexesNewUser(t *testing.T) {
	f := newCoordinatorFixture(nil,
		syncDoc("d1", 0),
		syncDoc("d2", time.Minute),
	)

	stats, err := f.coord.EnsureUpToDate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, SyncStats{DocsFetched: 2, DocsIndexed: 2, ChunksIndexed: 2}, stats)

	wm, err := f.watermarks.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.True(t, wm.LastIndexedAt.Equal(syncBase.Add(time.Minute)))
	assert.Equal(t, "d2", wm.LastIndexedDocID)
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newCoordinatorFixture(nil, syncDoc("d1", 0))
	ctx := context.Background()

	_, err := f.coord.EnsureUpToDate(ctx, "alice")
	require.NoError(t, err)
	embedsAfterFirst := f.provider.totalEmbeds
	setsAfterFirst := f.watermarks.sets

	stats, err := f.coord.EnsureUpToDate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, SyncStats{}, stats)
	assert.Equal(t, embedsAfterFirst, f.provider.totalEmbeds)
	assert.Equal(t, setsAfterFirst, f.watermarks.sets)
}

func TestSyncPicksUpUpdatedDocument(t *testing.T) {
	f := newCoordinatorFixture(nil, syncDoc("d1", 0))
	ctx := context.Background()

	_, err := f.coord.EnsureUpToDate(ctx, "alice")
	require.NoError(t, err)

	updated := syncDoc("d1", time.Hour)
	updated.Content = "revised content"
	f.docs.put(updated)

	stats, err := f.coord.EnsureUpToDate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, SyncStats{DocsFetched: 1, DocsIndexed: 1, ChunksIndexed: 1}, stats)

	rows := f.chunks.rows[chunkKey("alice", "d1")]
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Content, "revised content")
}

func TestSyncSameTimestampTieBreak(t *testing.T) {
	// d1 and d2 share a timestamp. d1 fails, so the watermark must not move
	// and both documents must be re-admitted on a later sync.
	f := newCoordinatorFixture(nil, syncDoc("d1", 0), syncDoc("d2", 0))
	ctx := context.Background()

	f.provider.failOnText = "title d1\n\ncontent for d1"
	stats, err := f.coord.EnsureUpToDate(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, SyncStats{DocsFetched: 2}, stats)

	wm, err := f.watermarks.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, wm)
	assert.Zero(t, f.chunks.chunkCount("alice", "d2"))

	f.provider.failOnText = ""
	stats, err = f.coord.EnsureUpToDate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, SyncStats{DocsFetched: 2, DocsIndexed: 2, ChunksIndexed: 2}, stats)

	wm, err = f.watermarks.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "d2", wm.LastIndexedDocID)
	assert.True(t, wm.LastIndexedAt.Equal(syncBase))
}

func TestSyncPartialFailureAdvancesPastSuccesses(t *testing.T) {
	f := newCoordinatorFixture(nil, syncDoc("d1", 0), syncDoc("d2", time.Minute))
	ctx := context.Background()

	f.provider.failOnText = "title d2\n\ncontent for d2"
	stats, err := f.coord.EnsureUpToDate(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, SyncStats{DocsFetched: 2, DocsIndexed: 1, ChunksIndexed: 1}, stats)

	// The watermark covers d1 so only d2 is retried.
	wm, err := f.watermarks.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "d1", wm.LastIndexedDocID)

	f.provider.failOnText = ""
	embedsBefore := f.provider.totalEmbeds
	stats, err = f.coord.EnsureUpToDate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, SyncStats{DocsFetched: 1, DocsIndexed: 1, ChunksIndexed: 1}, stats)
	assert.Equal(t, embedsBefore+1, f.provider.totalEmbeds)
}

func TestSyncDegradedWithoutCredentials(t *testing.T) {
	f := newCoordinatorFixture(nil, syncDoc("d1", 0), syncDoc("d2", time.Minute))
	ctx := context.Background()

	f.provider.available = false
	stats, err := f.coord.EnsureUpToDate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, SyncStats{DocsFetched: 2}, stats)

	// Nothing indexed and nothing committed; the documents stay pending.
	wm, err := f.watermarks.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, wm)
	assert.Zero(t, f.chunks.chunkCount("alice", "d1"))

	f.provider.available = true
	stats, err = f.coord.EnsureUpToDate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocsIndexed)
}

func TestSyncWalksAllPages(t *testing.T) {
	docs := make([]corpus.Document, 0, 5)
	for i := 0; i < 5; i++ {
		docs = append(docs, syncDoc(fmt.Sprintf("d%d", i), time.Duration(i)*time.Second))
	}
	f := newCoordinatorFixture(nil, docs...)
	f.docs.pageSize = 2

	stats, err := f.coord.EnsureUpToDate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.DocsFetched)
	assert.Equal(t, 5, stats.DocsIndexed)
	assert.GreaterOrEqual(t, f.docs.lists, 3)
}

func TestSyncIncludesSharedScopes(t *testing.T) {
	shared := syncDoc("shared1", 0)
	shared.Scope = "persona:support"
	f := newCoordinatorFixture(StaticScopes{Shared: []corpus.Scope{"persona:support"}},
		syncDoc("d1", 0), shared)

	stats, err := f.coord.EnsureUpToDate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocsIndexed)

	rows := f.chunks.rows[chunkKey("alice", "shared1")]
	require.Len(t, rows, 1)
	assert.Equal(t, corpus.Scope("persona:support"), rows[0].Scope)
}

// blockingProvider parks the first embed call until released so concurrent
// syncs pile up behind it.
type blockingProvider struct {
	*fakeProvider
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return p.fakeProvider.EmbedBatch(ctx, texts)
}

func TestConcurrentSyncsShareOneRun(t *testing.T) {
	f := newCoordinatorFixture(nil, syncDoc("d1", 0))
	provider := &blockingProvider{
		fakeProvider: f.provider,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	writer := NewWriter(provider, f.chunks, chunker.Options{}, zap.NewNop())
	coord := NewCoordinator(f.docs, f.watermarks, writer, provider, nil, zap.NewNop())
	ctx := context.Background()

	results := make(chan SyncStats, 10)
	errs := make(chan error, 10)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stats, err := coord.EnsureUpToDate(ctx, "alice")
		results <- stats
		errs <- err
	}()

	<-provider.entered
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := coord.EnsureUpToDate(ctx, "alice")
			results <- stats
			errs <- err
		}()
	}
	// Let the late callers reach the singleflight before releasing.
	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for stats := range results {
		assert.Equal(t, SyncStats{DocsFetched: 1, DocsIndexed: 1, ChunksIndexed: 1}, stats)
	}

	// One run did the work regardless of how many callers asked.
	assert.Equal(t, 1, f.docs.lists)
	assert.Equal(t, 1, f.watermarks.sets)
}
