// Package indexer turns documents into embedded chunks and keeps each user's
// chunk index converged with the document store.
//
// The Writer re-indexes one document atomically from the caller's point of
// view: stale chunks are deleted before fresh rows are inserted, so a failed
// run leaves the document un-indexed rather than half-indexed. The
// Coordinator layers incremental change detection on top via per-user
// watermarks.
package indexer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/corpus"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
)

const (
	// EmbedBatchSize caps the number of texts per embedding call.
	EmbedBatchSize = 96

	// InsertBatchSize caps the number of rows per chunk-store insert.
	InsertBatchSize = 200
)

// Stats summarizes a single document re-index.
type Stats struct {
	// ChunkCount is the number of chunk rows written.
	ChunkCount int
}

// Writer re-indexes individual documents into the chunk store.
type Writer struct {
	provider embeddings.Provider
	chunks   corpus.ChunkStore
	opts     chunker.Options
	logger   *zap.Logger
}

// NewWriter creates a Writer. A zero chunker.Options selects the default
// chunk size and overlap.
func NewWriter(provider embeddings.Provider, chunks corpus.ChunkStore, opts chunker.Options, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		provider: provider,
		chunks:   chunks,
		opts:     opts,
		logger:   logger.Named("indexer"),
	}
}

// Reindex replaces every chunk of doc for userID. Folders and documents whose
// content trims empty are skipped entirely, leaving storage untouched. When
// the embedding provider is unavailable the call is a no-op so that nothing
// is deleted that cannot be rebuilt.
func (w *Writer) Reindex(ctx context.Context, userID string, doc corpus.Document) (Stats, error) {
	if err := doc.Validate(); err != nil {
		return Stats{}, err
	}

	if doc.IsFolder || strings.TrimSpace(doc.Content) == "" {
		return Stats{}, nil
	}

	if !w.provider.Available() {
		w.logger.Debug("embedding provider unavailable, skipping reindex",
			zap.String("user_id", userID),
			zap.String("doc_id", doc.ID))
		return Stats{}, nil
	}

	pieces := chunker.Split(composeText(doc), w.opts)

	// Delete first, then insert. A failure between the two leaves the
	// document cleanly unindexed rather than half old, half new; the next
	// sync re-admits it because the watermark did not advance.
	if err := w.chunks.DeleteChunks(ctx, userID, doc.ID); err != nil {
		return Stats{}, fmt.Errorf("deleting chunks for %s: %w", doc.ID, err)
	}

	vectors, err := w.embedAll(ctx, pieces)
	if err != nil {
		return Stats{}, fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}

	rows := make([]corpus.ChunkRow, len(pieces))
	for i, piece := range pieces {
		rows[i] = corpus.ChunkRow{
			UserID:       userID,
			DocID:        doc.ID,
			Scope:        doc.Scope,
			ChunkIndex:   i,
			Content:      piece,
			Embedding:    vectors[i],
			DocUpdatedAt: doc.UpdatedAt,
		}
	}

	for start := 0; start < len(rows); start += InsertBatchSize {
		end := min(start+InsertBatchSize, len(rows))
		if err := w.chunks.InsertChunks(ctx, rows[start:end]); err != nil {
			return Stats{}, fmt.Errorf("inserting chunks for %s: %w", doc.ID, err)
		}
	}

	w.logger.Debug("document re-indexed",
		zap.String("user_id", userID),
		zap.String("doc_id", doc.ID),
		zap.Int("chunks", len(rows)))
	return Stats{ChunkCount: len(rows)}, nil
}

// embedAll embeds pieces in EmbedBatchSize batches, preserving order.
func (w *Writer) embedAll(ctx context.Context, pieces []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(pieces))
	for start := 0; start < len(pieces); start += EmbedBatchSize {
		end := min(start+EmbedBatchSize, len(pieces))
		batch, err := w.provider.EmbedBatch(ctx, pieces[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// composeText joins title and body so that a changed title re-embeds the
// document. Callers have already ruled out empty content.
func composeText(doc corpus.Document) string {
	title := strings.TrimSpace(doc.Title)
	content := strings.TrimSpace(doc.Content)
	if title == "" {
		return content
	}
	return title + "\n\n" + content
}
