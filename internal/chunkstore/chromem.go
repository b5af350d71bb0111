package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/corpus"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("corpusd.chunkstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/corpusd/chunks"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection holding all chunk rows.
	// Default: "corpus_chunks"
	Collection string

	// Dimension is the expected embedding length. Rows with any other
	// length are rejected before they reach storage.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/corpusd/chunks"
	}
	if c.Collection == "" {
		c.Collection = "corpus_chunks"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements corpus.ChunkStore using chromem-go, an embeddable
// pure-Go vector database with automatic persistence. Chunk rows are stored
// with their precomputed embeddings; the composite key (user, doc, index) is
// encoded in the stored ID, so re-inserting a row replaces it.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expandedPath, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: creating chromem DB: %v", ErrConnectionFailed, err)
	}

	store := &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
	}

	logger.Info("chromem chunk store initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.Int("dimension", config.Dimension),
		zap.String("collection", config.Collection),
	)

	return store, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// rejectUnembedded exists because every row carries a precomputed embedding;
// chromem must never fall back to its default embedder.
func rejectUnembedded(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("chunk store received un-embedded content")
}

func (s *ChromemStore) collection() (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(s.config.Collection, nil, rejectUnembedded)
	if err != nil {
		return nil, fmt.Errorf("%w: getting collection %s: %v", corpus.ErrStore, s.config.Collection, err)
	}
	return col, nil
}

// chunkID encodes the composite identity so re-indexing the same document
// overwrites rather than duplicates.
func chunkID(userID, docID string, index int) string {
	return userID + "/" + docID + "/" + strconv.Itoa(index)
}

// DeleteChunks removes every chunk keyed by (userID, docID).
func (s *ChromemStore) DeleteChunks(ctx context.Context, userID, docID string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteChunks")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("doc_id", docID),
	)

	col, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}
	if col.Count() == 0 {
		return nil
	}

	where := map[string]string{"user_id": userID, "doc_id": docID}
	if err := col.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting chunks for %s/%s: %v", corpus.ErrStore, userID, docID, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// InsertChunks inserts pre-embedded chunk rows.
func (s *ChromemStore) InsertChunks(ctx context.Context, rows []corpus.ChunkRow) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.InsertChunks")
	defer span.End()

	span.SetAttributes(attribute.Int("row_count", len(rows)))

	if len(rows) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(rows))
	for i, row := range rows {
		if err := row.Validate(); err != nil {
			return err
		}
		if len(row.Embedding) != s.config.Dimension {
			return fmt.Errorf("%w: row %d has embedding dimension %d, want %d",
				corpus.ErrStore, i, len(row.Embedding), s.config.Dimension)
		}
		docs[i] = chromem.Document{
			ID:        chunkID(row.UserID, row.DocID, row.ChunkIndex),
			Content:   row.Content,
			Embedding: row.Embedding,
			Metadata: map[string]string{
				"user_id":        row.UserID,
				"doc_id":         row.DocID,
				"scope":          string(row.Scope),
				"chunk_index":    strconv.Itoa(row.ChunkIndex),
				"doc_updated_at": row.DocUpdatedAt.UTC().Format(time.RFC3339Nano),
			},
		}
	}

	col, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Concurrency 1: embeddings are precomputed, nothing to parallelize.
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: inserting %d chunks: %v", corpus.ErrStore, len(rows), err)
	}

	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("inserted chunks",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(rows)),
	)
	return nil
}

// SimilaritySearch returns up to matchCount chunk matches nearest to the
// query embedding, restricted to the given scopes, ranked descending by
// similarity. chromem where filters are single exact matches, so each scope
// is queried separately and the ranked lists are merged.
func (s *ChromemStore) SimilaritySearch(ctx context.Context, embedding []float32, matchCount int, scopes []corpus.Scope) ([]corpus.Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.SimilaritySearch")
	defer span.End()

	span.SetAttributes(
		attribute.Int("match_count", matchCount),
		attribute.Int("scope_count", len(scopes)),
	)

	if matchCount <= 0 {
		return nil, fmt.Errorf("%w: match count must be positive, got %d", corpus.ErrStore, matchCount)
	}
	if len(embedding) != s.config.Dimension {
		return nil, fmt.Errorf("%w: query embedding has dimension %d, want %d",
			corpus.ErrStore, len(embedding), s.config.Dimension)
	}
	if len(scopes) == 0 {
		return nil, nil
	}

	col, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// chromem requires nResults <= total document count.
	total := col.Count()
	if total == 0 {
		return nil, nil
	}
	k := matchCount
	if k > total {
		k = total
	}

	var matches []corpus.Match
	for _, scope := range scopes {
		where := map[string]string{"scope": string(scope)}
		results, err := col.QueryEmbedding(ctx, embedding, k, where, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: querying scope %s: %v", corpus.ErrStore, scope, err)
		}
		for _, r := range results {
			matches = append(matches, corpus.Match{
				DocID: r.Metadata["doc_id"],
				Score: r.Similarity,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > matchCount {
		matches = matches[:matchCount]
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Close closes the store. chromem-go persists automatically, so this only
// logs.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem chunk store closed")
	return nil
}

var _ corpus.ChunkStore = (*ChromemStore)(nil)
