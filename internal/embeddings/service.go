// Package embeddings provides embedding generation via an OpenAI-compatible
// HTTP backend.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure: backend
	// unreachable, non-success status, malformed response, dimension
	// mismatch, or count mismatch.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrUnavailable indicates no embedding credentials resolved at startup.
	// Indexing callers degrade to a no-op on this; retrieval callers must
	// surface it instead of returning an empty result.
	ErrUnavailable = errors.New("embedding provider unavailable")
)

// Provider is the embedding abstraction consumed by the index writer and the
// retriever. Batching and retries are caller policy: implementations neither
// split oversized batches nor retry.
type Provider interface {
	// EmbedBatch generates one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Available reports whether credentials resolved at construction.
	Available() bool

	// Dimension returns the fixed vector dimensionality.
	Dimension() int
}

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the base URL of the embeddings API; the service posts to
	// {BaseURL}/embeddings.
	BaseURL string

	// Model is the embedding model identifier sent with each request.
	Model string

	// Dimension is the expected vector length. Responses carrying vectors of
	// any other length are rejected.
	Dimension int

	// Timeout bounds each HTTP request. Zero selects 30s.
	Timeout time.Duration

	// Credentials is the ordered fallback chain evaluated once at
	// construction. Nil selects DefaultCredentialSources("").
	Credentials []CredentialSource
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Service generates embeddings over HTTP. A Service constructed without
// resolvable credentials is inert: Available reports false and every embed
// call returns ErrUnavailable.
type Service struct {
	config    Config
	apiKey    string
	available bool
	client    *http.Client
	metrics   *Metrics
	logger    *zap.Logger
}

// NewService creates a new embedding service. Missing credentials are not a
// construction error; the service is marked unavailable instead so that
// indexing can degrade silently while retrieval fails loudly.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	sources := config.Credentials
	if sources == nil {
		sources = DefaultCredentialSources("")
	}
	key, source, ok := ResolveCredential(sources)
	if ok {
		logger.Info("embedding credentials resolved",
			zap.String("source", source),
			zap.String("model", config.Model),
		)
	} else {
		logger.Warn("no embedding credentials resolved, provider unavailable",
			zap.String("model", config.Model),
		)
	}

	return &Service{
		config:    config,
		apiKey:    key,
		available: ok,
		client:    &http.Client{Timeout: config.Timeout},
		metrics:   NewMetrics(logger),
		logger:    logger,
	}, nil
}

// Available reports whether credentials resolved at construction.
func (s *Service) Available() bool {
	return s.available
}

// Dimension returns the configured vector dimensionality.
func (s *Service) Dimension() int {
	return s.config.Dimension
}

// embedRequest is the request body for the embeddings endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the success response body, vectors in input order.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch generates embeddings for multiple texts. The result has the
// same length and order as the input. Oversized batches are not split and
// failures are not retried; both are the caller's policy.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embed(ctx, texts, "embed_batch")
}

// embed performs one embeddings request, recording metrics under the given
// operation label.
func (s *Service) embed(ctx context.Context, texts []string, operation string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.config.Model, operation, time.Since(start), len(texts), genErr)
	}()

	if !s.available {
		genErr = ErrUnavailable
		return nil, genErr
	}
	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	body, err := json.Marshal(embedRequest{Model: s.config.Model, Input: texts})
	if err != nil {
		genErr = fmt.Errorf("marshaling request: %w", err)
		return nil, genErr
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		genErr = fmt.Errorf("creating request: %w", err)
		return nil, genErr
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		genErr = fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
		return nil, genErr
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		genErr = fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}

	if len(parsed.Data) != len(texts) {
		genErr = fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbeddingFailed, len(parsed.Data), len(texts))
		return nil, genErr
	}

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) != s.config.Dimension {
			genErr = fmt.Errorf("%w: embedding %d has dimension %d, want %d", ErrEmbeddingFailed, i, len(d.Embedding), s.config.Dimension)
			return nil, genErr
		}
		vectors[i] = d.Embedding
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := s.embed(ctx, []string{text}, "embed_query")
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

var _ Provider = (*Service)(nil)
