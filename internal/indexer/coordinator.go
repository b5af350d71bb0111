package indexer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/corpusd/internal/corpus"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
)

// ListPageSize is the page size used when listing candidate documents.
const ListPageSize = 200

// ScopeResolver maps a user to the scopes their documents live in.
type ScopeResolver interface {
	Scopes(ctx context.Context, userID string) ([]corpus.Scope, error)
}

// StaticScopes resolves every user to their private scope plus a fixed set of
// shared scopes.
type StaticScopes struct {
	Shared []corpus.Scope
}

func (s StaticScopes) Scopes(_ context.Context, userID string) ([]corpus.Scope, error) {
	scopes := make([]corpus.Scope, 0, len(s.Shared)+1)
	scopes = append(scopes, corpus.PrivateScope(userID))
	scopes = append(scopes, s.Shared...)
	return scopes, nil
}

// SyncStats summarizes one sync run for a user.
type SyncStats struct {
	// DocsFetched is the number of candidate documents beyond the watermark.
	DocsFetched int

	// DocsIndexed is the number of documents successfully re-indexed.
	DocsIndexed int

	// ChunksIndexed is the total number of chunk rows written.
	ChunksIndexed int
}

// Coordinator drives incremental per-user syncs. Concurrent syncs for the
// same user collapse into a single run whose result every caller shares.
type Coordinator struct {
	docs       corpus.DocumentStore
	watermarks corpus.WatermarkStore
	writer     *Writer
	provider   embeddings.Provider
	scopes     ScopeResolver
	logger     *zap.Logger
	group      singleflight.Group
}

// NewCoordinator creates a Coordinator. A nil resolver defaults to private
// scopes only.
func NewCoordinator(docs corpus.DocumentStore, watermarks corpus.WatermarkStore, writer *Writer, provider embeddings.Provider, resolver ScopeResolver, logger *zap.Logger) *Coordinator {
	if resolver == nil {
		resolver = StaticScopes{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		docs:       docs,
		watermarks: watermarks,
		writer:     writer,
		provider:   provider,
		scopes:     resolver,
		logger:     logger.Named("sync"),
	}
}

// EnsureUpToDate brings userID's chunk index up to date with the document
// store and returns what it did. On a partial failure the watermark still
// advances past every document indexed before the failure, so the returned
// stats can be non-zero even when err is non-nil.
func (c *Coordinator) EnsureUpToDate(ctx context.Context, userID string) (SyncStats, error) {
	v, err, _ := c.group.Do(userID, func() (any, error) {
		return c.sync(ctx, userID)
	})
	stats, _ := v.(SyncStats)
	return stats, err
}

func (c *Coordinator) sync(ctx context.Context, userID string) (SyncStats, error) {
	start := time.Now()
	defer func() { SyncDuration.Observe(time.Since(start).Seconds()) }()

	wm, err := c.watermarks.Get(ctx, userID)
	if err != nil {
		SyncsTotal.WithLabelValues("error").Inc()
		return SyncStats{}, fmt.Errorf("reading watermark: %w", err)
	}
	if wm == nil {
		wm = &corpus.Watermark{}
	}

	scopes, err := c.scopes.Scopes(ctx, userID)
	if err != nil {
		SyncsTotal.WithLabelValues("error").Inc()
		return SyncStats{}, fmt.Errorf("resolving scopes: %w", err)
	}

	candidates, err := c.fetchCandidates(ctx, scopes, *wm)
	if err != nil {
		SyncsTotal.WithLabelValues("error").Inc()
		return SyncStats{}, err
	}

	stats := SyncStats{DocsFetched: len(candidates)}
	if len(candidates) == 0 {
		SyncsTotal.WithLabelValues("success").Inc()
		return stats, nil
	}

	// Without embeddings nothing can be indexed; leaving the watermark
	// untouched means these documents are picked up on a later sync once
	// credentials resolve.
	if !c.provider.Available() {
		c.logger.Warn("embedding provider unavailable, skipping sync",
			zap.String("user_id", userID),
			zap.Int("docs_pending", len(candidates)))
		SyncsTotal.WithLabelValues("degraded").Inc()
		return stats, nil
	}

	lastDone := *wm
	for _, doc := range candidates {
		docStats, indexErr := c.writer.Reindex(ctx, userID, doc)
		if indexErr != nil {
			// Stop at the first failure: advancing the watermark past an
			// unprocessed document would skip it forever.
			c.logger.Error("reindex failed, aborting sync",
				zap.String("user_id", userID),
				zap.String("doc_id", doc.ID),
				zap.Error(indexErr))
			if commitErr := c.commit(ctx, userID, *wm, lastDone); commitErr != nil {
				indexErr = fmt.Errorf("%w (watermark commit also failed: %v)", indexErr, commitErr)
			}
			SyncsTotal.WithLabelValues("partial").Inc()
			return stats, fmt.Errorf("indexing document %s: %w", doc.ID, indexErr)
		}
		stats.DocsIndexed++
		stats.ChunksIndexed += docStats.ChunkCount
		lastDone = corpus.Watermark{LastIndexedAt: doc.UpdatedAt, LastIndexedDocID: doc.ID}
	}

	if err := c.commit(ctx, userID, *wm, lastDone); err != nil {
		SyncsTotal.WithLabelValues("error").Inc()
		return stats, err
	}

	DocumentsIndexed.Add(float64(stats.DocsIndexed))
	ChunksIndexed.Add(float64(stats.ChunksIndexed))
	SyncsTotal.WithLabelValues("success").Inc()

	c.logger.Info("sync completed",
		zap.String("user_id", userID),
		zap.Int("docs_fetched", stats.DocsFetched),
		zap.Int("docs_indexed", stats.DocsIndexed),
		zap.Int("chunks_indexed", stats.ChunksIndexed),
		zap.Duration("duration", time.Since(start)))
	return stats, nil
}

// commit advances the watermark, never moving it backwards.
func (c *Coordinator) commit(ctx context.Context, userID string, old, next corpus.Watermark) error {
	if !old.Less(next) {
		return nil
	}
	if err := c.watermarks.Set(ctx, userID, next); err != nil {
		return fmt.Errorf("writing watermark: %w", err)
	}
	return nil
}

// fetchCandidates lists every document at or after the watermark timestamp,
// drops the ones the watermark already covers, and returns the rest sorted in
// (UpdatedAt, ID) order.
func (c *Coordinator) fetchCandidates(ctx context.Context, scopes []corpus.Scope, wm corpus.Watermark) ([]corpus.Document, error) {
	var updatedAfter *time.Time
	if !wm.LastIndexedAt.IsZero() {
		// >= rather than > so that documents sharing the watermark
		// timestamp but sorting after its id are still fetched.
		t := wm.LastIndexedAt
		updatedAfter = &t
	}

	seen := make(map[string]struct{})
	var candidates []corpus.Document
	cursor := ""
	for {
		page, next, err := c.docs.List(ctx, scopes, updatedAfter, ListPageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing documents: %w", err)
		}
		for _, doc := range page {
			if _, dup := seen[doc.ID]; dup {
				continue
			}
			seen[doc.ID] = struct{}{}
			if wm.Admits(doc) {
				candidates = append(candidates, doc)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates, nil
}
