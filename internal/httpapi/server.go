// Package httpapi provides the HTTP API for corpusd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/corpus"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/indexer"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
)

// Syncer brings a user's chunk index up to date.
type Syncer interface {
	EnsureUpToDate(ctx context.Context, userID string) (indexer.SyncStats, error)
}

// Searcher answers similarity queries.
type Searcher interface {
	Retrieve(ctx context.Context, query string, scopes []corpus.Scope, maxResults int) ([]retrieval.Result, error)
}

// DocumentWriter seeds and removes documents.
type DocumentWriter interface {
	Upsert(ctx context.Context, d corpus.Document) error
	Delete(ctx context.Context, id string) error
}

// ScopeResolver maps a user to their searchable scopes.
type ScopeResolver interface {
	Scopes(ctx context.Context, userID string) ([]corpus.Scope, error)
}

// Server provides HTTP endpoints for corpusd.
type Server struct {
	echo   *echo.Echo
	syncer Syncer
	search Searcher
	writer DocumentWriter
	scopes ScopeResolver
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr string

	// MaxResults is the result count used when a retrieve request omits
	// max_results. Zero defers to the retriever's own default.
	MaxResults int
}

// NewServer creates a new HTTP server.
func NewServer(syncer Syncer, search Searcher, writer DocumentWriter, scopes ScopeResolver, logger *zap.Logger, cfg *Config) (*Server, error) {
	if syncer == nil || search == nil || writer == nil || scopes == nil {
		return nil, fmt.Errorf("syncer, searcher, writer and scope resolver are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{ListenAddr: ":8089"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		syncer: syncer,
		search: search,
		writer: writer,
		scopes: scopes,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sync/:user", s.handleSync)
	v1.POST("/retrieve", s.handleRetrieve)
	v1.POST("/documents", s.handleUpsertDocument)
	v1.PUT("/documents/:id", s.handleUpsertDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// SyncResponse is the response body for POST /api/v1/sync/:user.
type SyncResponse struct {
	DocsFetched   int `json:"docs_fetched"`
	DocsIndexed   int `json:"docs_indexed"`
	ChunksIndexed int `json:"chunks_indexed"`
}

func (s *Server) handleSync(c echo.Context) error {
	userID := c.Param("user")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user is required")
	}

	stats, err := s.syncer.EnsureUpToDate(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error("sync failed", zap.String("user_id", userID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "sync failed")
	}

	return c.JSON(http.StatusOK, SyncResponse{
		DocsFetched:   stats.DocsFetched,
		DocsIndexed:   stats.DocsIndexed,
		ChunksIndexed: stats.ChunksIndexed,
	})
}

// RetrieveRequest is the request body for POST /api/v1/retrieve.
type RetrieveRequest struct {
	User       string `json:"user"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`

	// Sync requests a sync before searching so results reflect the
	// latest document state.
	Sync bool `json:"sync"`
}

// RetrievedDocument is one entry in RetrieveResponse.
type RetrievedDocument struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Scope     string    `json:"scope"`
	UpdatedAt time.Time `json:"updated_at"`
	Score     float32   `json:"score"`
}

// RetrieveResponse is the response body for POST /api/v1/retrieve.
type RetrieveResponse struct {
	Results []RetrievedDocument `json:"results"`
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid retrieve request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.User == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user field is required")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	ctx := c.Request().Context()

	if req.Sync {
		if _, err := s.syncer.EnsureUpToDate(ctx, req.User); err != nil {
			// A failed sync leaves the index stale, not wrong; answer
			// from what is indexed.
			s.logger.Warn("pre-retrieve sync failed",
				zap.String("user_id", req.User), zap.Error(err))
		}
	}

	scopes, err := s.scopes.Scopes(ctx, req.User)
	if err != nil {
		s.logger.Error("scope resolution failed", zap.String("user_id", req.User), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "scope resolution failed")
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = s.config.MaxResults
	}

	results, err := s.search.Retrieve(ctx, req.Query, scopes, maxResults)
	switch {
	case errors.Is(err, embeddings.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "embedding provider unavailable")
	case errors.Is(err, retrieval.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	case err != nil:
		s.logger.Error("retrieve failed", zap.String("user_id", req.User), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "retrieve failed")
	}

	resp := RetrieveResponse{Results: make([]RetrievedDocument, 0, len(results))}
	for _, r := range results {
		resp.Results = append(resp.Results, RetrievedDocument{
			ID:        r.Document.ID,
			Title:     r.Document.Title,
			Content:   r.Document.Content,
			Scope:     string(r.Document.Scope),
			UpdatedAt: r.Document.UpdatedAt,
			Score:     r.Score,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// UpsertDocumentRequest is the request body for POST /api/v1/documents.
type UpsertDocumentRequest struct {
	ID       string `json:"id"`
	Scope    string `json:"scope"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	IsFolder bool   `json:"is_folder"`
}

// UpsertDocumentResponse is the response body for POST /api/v1/documents.
type UpsertDocumentResponse struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleUpsertDocument(c echo.Context) error {
	var req UpsertDocumentRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid document request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scope field is required")
	}
	if id := c.Param("id"); id != "" {
		req.ID = id
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	doc := corpus.Document{
		ID:        req.ID,
		Scope:     corpus.Scope(req.Scope),
		Title:     req.Title,
		Content:   req.Content,
		UpdatedAt: time.Now().UTC(),
		IsFolder:  req.IsFolder,
	}
	if err := s.writer.Upsert(c.Request().Context(), doc); err != nil {
		if errors.Is(err, corpus.ErrInvalidDocument) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("document upsert failed", zap.String("doc_id", doc.ID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "document upsert failed")
	}

	return c.JSON(http.StatusOK, UpsertDocumentResponse{ID: doc.ID, UpdatedAt: doc.UpdatedAt})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	id := c.Param("id")
	if err := s.writer.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, corpus.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		s.logger.Error("document delete failed", zap.String("doc_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "document delete failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.ListenAddr))
	return s.echo.Start(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
