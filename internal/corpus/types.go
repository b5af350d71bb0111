// Package corpus defines the value types and store contracts shared by the
// indexing and retrieval components.
//
// Documents are owned by an external document store and are read-only here.
// Chunk rows are created and destroyed exclusively by the index writer. The
// per-user watermark marks how far incremental indexing has progressed and is
// written only by the sync coordinator.
package corpus

import (
	"fmt"
	"time"
)

// Scope is the ownership partition a document belongs to and a query is
// permitted to search within: a persona id, or the private-user marker.
type Scope string

// PrivateScope returns the private-user scope marker for a user.
func PrivateScope(userID string) Scope {
	return Scope("user:" + userID)
}

// Document is a raw text document as served by the document store.
type Document struct {
	// ID is globally unique within the owner scope.
	ID string

	// Scope is the ownership partition (persona id or private-user marker).
	Scope Scope

	// Title is optional display text, prepended to the content when indexing.
	Title string

	// Content is the raw document text.
	Content string

	// UpdatedAt is the document's last-modified timestamp. A change to this
	// value is the only trigger for re-indexing.
	UpdatedAt time.Time

	// IsFolder marks folder rows, which are never indexed.
	IsFolder bool
}

// Validate checks the fields a document must carry to cross the store boundary.
func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: document id required", ErrInvalidDocument)
	}
	if d.Scope == "" {
		return fmt.Errorf("%w: document scope required", ErrInvalidDocument)
	}
	if d.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: document updated_at required", ErrInvalidDocument)
	}
	return nil
}

// ChunkRow is one embedded slice of a document. Its identity is the composite
// key (UserID, DocID, ChunkIndex).
type ChunkRow struct {
	UserID     string
	DocID      string
	Scope      Scope
	ChunkIndex int
	Content    string

	// Embedding is a fixed-length vector; its length must equal the
	// embedding provider's configured dimensionality.
	Embedding []float32

	// DocUpdatedAt is a denormalized copy of the owning document's timestamp,
	// used for staleness checks.
	DocUpdatedAt time.Time
}

// Validate checks the fields a chunk row must carry before insertion.
func (c ChunkRow) Validate() error {
	if c.UserID == "" || c.DocID == "" {
		return fmt.Errorf("%w: chunk row missing composite key", ErrInvalidDocument)
	}
	if c.ChunkIndex < 0 {
		return fmt.Errorf("%w: negative chunk index %d", ErrInvalidDocument, c.ChunkIndex)
	}
	if len(c.Embedding) == 0 {
		return fmt.Errorf("%w: chunk row missing embedding", ErrInvalidDocument)
	}
	return nil
}

// Match is one chunk-level similarity hit, ranked descending by score.
type Match struct {
	DocID string
	Score float32
}

// Watermark is the (timestamp, id) cursor marking the last document a user's
// incremental sync has fully committed. It is monotonically non-decreasing in
// lexicographic order across the lifetime of a user.
type Watermark struct {
	LastIndexedAt    time.Time
	LastIndexedDocID string
}

// Admits reports whether a document lies strictly beyond the watermark.
// The id tie-break matters because multiple documents can share a timestamp;
// without it, documents could be skipped or endlessly reprocessed.
func (w Watermark) Admits(d Document) bool {
	if d.UpdatedAt.After(w.LastIndexedAt) {
		return true
	}
	return d.UpdatedAt.Equal(w.LastIndexedAt) && d.ID > w.LastIndexedDocID
}

// Less reports whether w orders lexicographically before other.
func (w Watermark) Less(other Watermark) bool {
	if w.LastIndexedAt.Before(other.LastIndexedAt) {
		return true
	}
	return w.LastIndexedAt.Equal(other.LastIndexedAt) && w.LastIndexedDocID < other.LastIndexedDocID
}
