// Package retrieval answers similarity queries over the chunk index and
// resolves chunk hits back to whole documents.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/corpus"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
)

const (
	// DefaultMaxResults is used when the caller does not specify a limit.
	DefaultMaxResults = 6

	// MaxResultsCap bounds the limit a caller can request.
	MaxResultsCap = 12

	// candidateMultiplier over-fetches chunk hits so that document-level
	// deduplication still fills the requested result count.
	candidateMultiplier = 4
)

// ErrEmptyQuery is returned when the query text is blank.
var ErrEmptyQuery = errors.New("query text required")

// Result is one retrieved document with the score of its best-matching chunk.
type Result struct {
	Document corpus.Document
	Score    float32
}

// Retriever embeds query text and searches the chunk index.
type Retriever struct {
	provider embeddings.Provider
	chunks   corpus.ChunkStore
	docs     corpus.DocumentStore
	logger   *zap.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(provider embeddings.Provider, chunks corpus.ChunkStore, docs corpus.DocumentStore, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		provider: provider,
		chunks:   chunks,
		docs:     docs,
		logger:   logger.Named("retrieval"),
	}
}

// Retrieve returns up to maxResults documents relevant to query, restricted
// to the given scopes and ranked by best chunk similarity. Unlike indexing,
// retrieval fails loudly when the embedding provider is unavailable: an empty
// answer would be indistinguishable from "nothing relevant".
func (r *Retriever) Retrieve(ctx context.Context, query string, scopes []corpus.Scope, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if len(scopes) == 0 {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > MaxResultsCap {
		maxResults = MaxResultsCap
	}

	if !r.provider.Available() {
		return nil, embeddings.ErrUnavailable
	}

	embedding, err := r.provider.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := r.chunks.SimilaritySearch(ctx, embedding, maxResults*candidateMultiplier, scopes)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	// Collapse chunk hits to documents, keeping each document's best-ranked
	// score, until the requested count is filled.
	bestScore := make(map[string]float32, maxResults)
	order := make([]string, 0, maxResults)
	for _, m := range matches {
		if _, seen := bestScore[m.DocID]; seen {
			continue
		}
		bestScore[m.DocID] = m.Score
		order = append(order, m.DocID)
		if len(order) == maxResults {
			break
		}
	}

	docs, err := r.docs.GetByIDs(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("resolving documents: %w", err)
	}

	allowed := make(map[corpus.Scope]bool, len(scopes))
	for _, s := range scopes {
		allowed[s] = true
	}
	byID := make(map[string]corpus.Document, len(docs))
	for _, d := range docs {
		// A document whose scope changed since indexing must not leak
		// across the new boundary.
		if !allowed[d.Scope] {
			r.logger.Warn("dropping stale-scoped match", zap.String("doc_id", d.ID))
			continue
		}
		byID[d.ID] = d
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		d, ok := byID[id]
		if !ok {
			// Deleted between indexing and now; skip rather than fail.
			continue
		}
		results = append(results, Result{Document: d, Score: bestScore[id]})
	}
	return results, nil
}
