package chunkstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/corpusd/internal/corpus"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("corpusd.chunkstore.qdrant")

// chunkNamespace is the UUIDv5 namespace for deterministic point IDs, so
// re-indexing a document upserts its chunks instead of duplicating them.
var chunkNamespace = uuid.MustParse("9c0e6f0a-1f3b-4a51-b1a4-52f1e5c7d9e8")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334.
	Port int

	// Collection holds all chunk rows. Default: "corpus_chunks".
	Collection string

	// Dimension is the embedding vector length; must match the embedding
	// provider's dimensionality.
	Dimension uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "corpus_chunks"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Dimension == 0 {
		return fmt.Errorf("%w: dimension required", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore implements corpus.ChunkStore against an external Qdrant server
// over gRPC. All chunks live in one collection; the composite key and scope
// are carried in the point payload and enforced with payload filters.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantStore creates a QdrantStore, verifies connectivity, and ensures
// the chunk collection exists.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant chunk store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Uint64("dimension", config.Dimension),
	)

	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection %s: %v", corpus.ErrStore, s.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.Dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: creating collection %s: %v", corpus.ErrStore, s.config.Collection, err)
	}
	return nil
}

// pointID derives the deterministic UUIDv5 point ID for a chunk.
func pointID(userID, docID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(chunkID(userID, docID, index))).String()
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// DeleteChunks removes every chunk keyed by (userID, docID).
func (s *QdrantStore) DeleteChunks(ctx context.Context, userID, docID string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteChunks")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("doc_id", docID),
	)

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						keywordCondition("user_id", userID),
						keywordCondition("doc_id", docID),
					},
				},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting chunks for %s/%s: %v", corpus.ErrStore, userID, docID, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// InsertChunks upserts pre-embedded chunk rows.
func (s *QdrantStore) InsertChunks(ctx context.Context, rows []corpus.ChunkRow) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.InsertChunks")
	defer span.End()

	span.SetAttributes(attribute.Int("row_count", len(rows)))

	if len(rows) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(rows))
	for i, row := range rows {
		if err := row.Validate(); err != nil {
			return err
		}
		if uint64(len(row.Embedding)) != s.config.Dimension {
			return fmt.Errorf("%w: row %d has embedding dimension %d, want %d",
				corpus.ErrStore, i, len(row.Embedding), s.config.Dimension)
		}

		payload := map[string]*qdrant.Value{
			"user_id":        {Kind: &qdrant.Value_StringValue{StringValue: row.UserID}},
			"doc_id":         {Kind: &qdrant.Value_StringValue{StringValue: row.DocID}},
			"scope":          {Kind: &qdrant.Value_StringValue{StringValue: string(row.Scope)}},
			"chunk_index":    {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(row.ChunkIndex)}},
			"content":        {Kind: &qdrant.Value_StringValue{StringValue: row.Content}},
			"doc_updated_at": {Kind: &qdrant.Value_StringValue{StringValue: row.DocUpdatedAt.UTC().Format(time.RFC3339Nano)}},
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(row.UserID, row.DocID, row.ChunkIndex)),
			Vectors: qdrant.NewVectors(row.Embedding...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: upserting %d chunks: %v", corpus.ErrStore, len(rows), err)
	}

	span.SetAttributes(attribute.Int("points_added", len(points)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// SimilaritySearch returns up to matchCount chunk matches nearest to the
// query embedding, restricted to the given scopes via a match-any payload
// filter, ranked descending by similarity.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, embedding []float32, matchCount int, scopes []corpus.Scope) ([]corpus.Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.SimilaritySearch")
	defer span.End()

	span.SetAttributes(
		attribute.Int("match_count", matchCount),
		attribute.Int("scope_count", len(scopes)),
	)

	if matchCount <= 0 {
		return nil, fmt.Errorf("%w: match count must be positive, got %d", corpus.ErrStore, matchCount)
	}
	if uint64(len(embedding)) != s.config.Dimension {
		return nil, fmt.Errorf("%w: query embedding has dimension %d, want %d",
			corpus.ErrStore, len(embedding), s.config.Dimension)
	}
	if len(scopes) == 0 {
		return nil, nil
	}

	scopeStrs := make([]string, len(scopes))
	for i, sc := range scopes {
		scopeStrs[i] = string(sc)
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(matchCount)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				{
					ConditionOneOf: &qdrant.Condition_Field{
						Field: &qdrant.FieldCondition{
							Key: "scope",
							Match: &qdrant.Match{
								MatchValue: &qdrant.Match_Keywords{
									Keywords: &qdrant.RepeatedStrings{Strings: scopeStrs},
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying chunks: %v", corpus.ErrStore, err)
	}

	matches := make([]corpus.Match, 0, len(results))
	for _, point := range results {
		m := corpus.Match{Score: point.Score}
		if point.Payload != nil {
			if v, ok := point.Payload["doc_id"]; ok {
				if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
					m.DocID = sv.StringValue
				}
			}
		}
		matches = append(matches, m)
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ corpus.ChunkStore = (*QdrantStore)(nil)
