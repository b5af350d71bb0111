// Package config provides configuration loading for corpusd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for the corpusd daemon.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	ChunkStore ChunkStoreConfig `koanf:"chunkstore"`
	Documents  DocumentsConfig  `koanf:"documents"`
	Indexer    IndexerConfig    `koanf:"indexer"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	ListenAddr      string   `koanf:"listen_addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// EmbeddingsConfig configures the embedding provider. The API key can also
// come from CORPUSD_EMBEDDINGS_API_KEY or OPENAI_API_KEY, which take
// precedence over the file.
type EmbeddingsConfig struct {
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	Dimension int      `koanf:"dimension"`
	Timeout   Duration `koanf:"timeout"`
	APIKey    Secret   `koanf:"api_key"`
}

// ChunkStoreConfig selects and configures the vector store backend.
type ChunkStoreConfig struct {
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem backend.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig configures the external qdrant backend.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
}

// DocumentsConfig configures the SQLite document store.
type DocumentsConfig struct {
	Path string `koanf:"path"`
}

// IndexerConfig configures chunking and scope resolution for syncs.
type IndexerConfig struct {
	ChunkSize    int      `koanf:"chunk_size"`
	ChunkOverlap int      `koanf:"chunk_overlap"`
	SharedScopes []string `koanf:"shared_scopes"`
}

// RetrievalConfig configures query-time behavior.
type RetrievalConfig struct {
	MaxResults int `koanf:"max_results"`
}

// applyDefaults fills in zero values with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8089"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 1536
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}
	if cfg.ChunkStore.Provider == "" {
		cfg.ChunkStore.Provider = "chromem"
	}
	if cfg.ChunkStore.Chromem.Path == "" {
		cfg.ChunkStore.Chromem.Path = defaultDataPath("chunks")
	}
	if cfg.ChunkStore.Chromem.Collection == "" {
		cfg.ChunkStore.Chromem.Collection = "corpus_chunks"
	}
	if cfg.ChunkStore.Qdrant.Host == "" {
		cfg.ChunkStore.Qdrant.Host = "localhost"
	}
	if cfg.ChunkStore.Qdrant.Port == 0 {
		cfg.ChunkStore.Qdrant.Port = 6334
	}
	if cfg.ChunkStore.Qdrant.Collection == "" {
		cfg.ChunkStore.Qdrant.Collection = "corpus_chunks"
	}
	if cfg.Documents.Path == "" {
		cfg.Documents.Path = defaultDataPath("corpus.db")
	}
	if cfg.Retrieval.MaxResults == 0 {
		cfg.Retrieval.MaxResults = 6
	}
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".config", "corpusd", name)
}

// Validate checks cross-field constraints the type system cannot express.
func (c *Config) Validate() error {
	switch c.ChunkStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported chunkstore provider: %q", c.ChunkStore.Provider)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported logging format: %q", c.Logging.Format)
	}

	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if c.Indexer.ChunkSize < 0 || c.Indexer.ChunkOverlap < 0 {
		return fmt.Errorf("indexer chunk_size and chunk_overlap must be non-negative")
	}
	if c.Retrieval.MaxResults < 0 {
		return fmt.Errorf("retrieval max_results must be non-negative, got %d", c.Retrieval.MaxResults)
	}
	return nil
}
