// Package server provides the HTTP API for StudyOwl.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/studyowl/studyowl/internal/chat"
	"github.com/studyowl/studyowl/internal/config"
	"github.com/studyowl/studyowl/internal/ingest"
	"github.com/studyowl/studyowl/internal/keyword"
	"github.com/studyowl/studyowl/internal/storage"
	"github.com/studyowl/studyowl/internal/vector"
)

// Server is the HTTP server for the StudyOwl API.
type Server struct {
	orchestrator *chat.Orchestrator
	ingestor     *ingest.Ingestor
	storage      storage.Storage
	keywordIndex keyword.Index
	vectorIndex  vector.Index
	config       *config.Config
	logger       *zap.Logger
	server       *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	orchestrator *chat.Orchestrator,
	ingestor *ingest.Ingestor,
	store storage.Storage,
	keywordIndex keyword.Index,
	vectorIndex vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		orchestrator: orchestrator,
		ingestor:     ingestor,
		storage:      store,
		keywordIndex: keywordIndex,
		vectorIndex:  vectorIndex,
		config:       cfg,
		logger:       logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/documents", s.handleUploadDocument)
	r.Get("/api/v1/documents", s.handleListDocuments)
	r.Get("/api/v1/documents/{id}", s.handleGetDocument)
	r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)
	r.Get("/api/v1/documents/{id}/chunks", s.handleListChunks)
	r.Get("/api/v1/documents/{id}/search", s.handleSearchChunks)
	r.Get("/api/v1/documents/{id}/chats", s.handleListChats)
	r.Post("/api/v1/chat", s.handleChat)
	r.Get("/api/v1/chats/{id}/messages", s.handleChatMessages)
	r.Delete("/api/v1/chats/{id}", s.handleDeleteChat)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
