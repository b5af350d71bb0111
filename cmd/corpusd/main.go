// Package main implements the corpusd daemon: an incremental document
// indexing and similarity retrieval service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/chunkstore"
	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/corpus"
	"github.com/fyrsmithlabs/corpusd/internal/docstore"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/httpapi"
	"github.com/fyrsmithlabs/corpusd/internal/indexer"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corpusd",
	Short: "Incremental document indexing and similarity retrieval daemon",
	Long: `corpusd keeps a per-user vector index converged with a document store and
answers similarity queries over it. Documents are chunked, embedded through
an OpenAI-compatible API, and stored in chromem or Qdrant.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/corpusd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the corpusd HTTP API server.

Examples:
  # Run with the default config
  corpusd serve

  # Run with an explicit config file
  corpusd serve --config ./corpusd.yaml`,
	RunE: runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync <user>",
	Short: "Run one incremental sync for a user and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

// app holds the wired component graph.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	docs      *docstore.Store
	chunks    corpus.ChunkStore
	provider  *embeddings.Service
	coord     *indexer.Coordinator
	retriever *retrieval.Retriever
	resolver  indexer.StaticScopes
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	docs, err := docstore.Open(cfg.Documents.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	chunks, err := chunkstore.New(chunkstore.Config{
		Provider:  cfg.ChunkStore.Provider,
		Dimension: cfg.Embeddings.Dimension,
		Chromem: chunkstore.ChromemConfig{
			Path:       cfg.ChunkStore.Chromem.Path,
			Compress:   cfg.ChunkStore.Chromem.Compress,
			Collection: cfg.ChunkStore.Chromem.Collection,
		},
		Qdrant: chunkstore.QdrantConfig{
			Host:       cfg.ChunkStore.Qdrant.Host,
			Port:       cfg.ChunkStore.Qdrant.Port,
			Collection: cfg.ChunkStore.Qdrant.Collection,
			UseTLS:     cfg.ChunkStore.Qdrant.UseTLS,
		},
	}, logger)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("opening chunk store: %w", err)
	}

	provider, err := embeddings.NewService(embeddings.Config{
		BaseURL:     cfg.Embeddings.BaseURL,
		Model:       cfg.Embeddings.Model,
		Dimension:   cfg.Embeddings.Dimension,
		Timeout:     cfg.Embeddings.Timeout.Duration(),
		Credentials: embeddings.DefaultCredentialSources(cfg.Embeddings.APIKey.Value()),
	}, logger)
	if err != nil {
		_ = chunks.Close()
		_ = docs.Close()
		return nil, fmt.Errorf("building embedding service: %w", err)
	}

	resolver := indexer.StaticScopes{}
	for _, s := range cfg.Indexer.SharedScopes {
		resolver.Shared = append(resolver.Shared, corpus.Scope(s))
	}

	writer := indexer.NewWriter(provider, chunks, chunker.Options{
		ChunkSize: cfg.Indexer.ChunkSize,
		Overlap:   cfg.Indexer.ChunkOverlap,
	}, logger)
	coord := indexer.NewCoordinator(docs, docs.Watermarks(), writer, provider, resolver, logger)
	retriever := retrieval.NewRetriever(provider, chunks, docs, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		docs:      docs,
		chunks:    chunks,
		provider:  provider,
		coord:     coord,
		retriever: retriever,
		resolver:  resolver,
	}, nil
}

func (a *app) close() {
	if err := a.chunks.Close(); err != nil {
		a.logger.Warn("closing chunk store", zap.Error(err))
	}
	if err := a.docs.Close(); err != nil {
		a.logger.Warn("closing document store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	defer a.close()

	server, err := httpapi.NewServer(a.coord, a.retriever, a.docs, a.resolver, a.logger, &httpapi.Config{
		ListenAddr: a.cfg.Server.ListenAddr,
		MaxResults: a.cfg.Retrieval.MaxResults,
	})
	if err != nil {
		return fmt.Errorf("building http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.logger.Error("http server exited", zap.Error(err))
		return err
	case sig := <-sigCh:
		a.logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		a.logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	defer a.close()

	userID := args[0]
	stats, err := a.coord.EnsureUpToDate(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("sync for %s: %w", userID, err)
	}

	fmt.Printf("user %s: fetched %d, indexed %d documents (%d chunks)\n",
		userID, stats.DocsFetched, stats.DocsIndexed, stats.ChunksIndexed)
	return nil
}
