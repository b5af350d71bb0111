package corpus

import (
	"context"
	"time"
)

// DocumentStore is the paginated document-listing interface consumed by the
// sync coordinator and the retriever. The document store itself (creation,
// authentication, folder semantics) is an external collaborator.
type DocumentStore interface {
	// List returns one page of documents in the given scopes ordered by
	// (updated_at, id) ascending, restricted to updated_at >= updatedAfter
	// when updatedAfter is non-nil. The returned cursor is opaque; an empty
	// cursor means the listing is exhausted.
	List(ctx context.Context, scopes []Scope, updatedAfter *time.Time, pageSize int, cursor string) ([]Document, string, error)

	// GetByIDs fetches full rows for the given ids. Missing ids are omitted,
	// not an error; storage order is unspecified.
	GetByIDs(ctx context.Context, ids []string) ([]Document, error)
}

// ChunkStore stores embedded chunks and answers nearest-neighbor queries.
type ChunkStore interface {
	// DeleteChunks removes every chunk keyed by (userID, docID). Deleting a
	// document that has no chunks is not an error.
	DeleteChunks(ctx context.Context, userID, docID string) error

	// InsertChunks inserts pre-embedded chunk rows. Re-inserting a row with
	// the same composite key replaces it.
	InsertChunks(ctx context.Context, rows []ChunkRow) error

	// SimilaritySearch returns up to matchCount chunk-level matches nearest
	// to the query embedding, restricted to the given scopes, ranked
	// descending by similarity.
	SimilaritySearch(ctx context.Context, embedding []float32, matchCount int, scopes []Scope) ([]Match, error)

	// Close releases the underlying storage resources.
	Close() error
}

// WatermarkStore persists per-user sync watermarks.
type WatermarkStore interface {
	// Get returns the user's watermark, or (nil, nil) when the user has
	// never completed a sync.
	Get(ctx context.Context, userID string) (*Watermark, error)

	// Set persists the watermark for a user, replacing any previous value.
	Set(ctx context.Context, userID string, wm Watermark) error
}
