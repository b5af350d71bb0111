// Package chunkstore provides chunk storage implementations backed by vector
// databases. Rows arrive pre-embedded; the store never generates embeddings.
//
// Two backends are supported:
//   - chromem (default): embedded chromem-go, no external service
//   - qdrant: external Qdrant server over gRPC
package chunkstore

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/corpus"
)

// Sentinel errors for chunk store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to chunk store backend")
)

// Config selects and configures a chunk store backend.
type Config struct {
	// Provider is the backend type: "chromem" (default) or "qdrant".
	Provider string

	// Dimension is the embedding vector length; must match the embedding
	// provider's dimensionality.
	Dimension int

	Chromem ChromemConfig
	Qdrant  QdrantConfig
}

// New creates a chunk store based on the configuration.
func New(cfg Config, logger *zap.Logger) (corpus.ChunkStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "chromem", "":
		chromemCfg := cfg.Chromem
		chromemCfg.Dimension = cfg.Dimension
		return NewChromemStore(chromemCfg, logger)
	case "qdrant":
		qdrantCfg := cfg.Qdrant
		qdrantCfg.Dimension = uint64(cfg.Dimension)
		return NewQdrantStore(qdrantCfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown chunk store provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
