// Package server provides the HTTP API for kbase.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kbase/internal/articles"
	"github.com/hyperjump/kbase/internal/config"
	"github.com/hyperjump/kbase/internal/images"
	"github.com/hyperjump/kbase/internal/search"
	"github.com/hyperjump/kbase/internal/storage"
)

// Server is the HTTP server for the kbase API.
type Server struct {
	articles *articles.Service
	images   *images.Service
	backend  storage.Backend
	index    *search.Index
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. idx may be nil.
func NewServer(
	arts *articles.Service,
	imgs *images.Service,
	backend storage.Backend,
	idx *search.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		articles: arts,
		images:   imgs,
		backend:  backend,
		index:    idx,
		config:   cfg,
		logger:   logger,
	}
}

// Handler returns the router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/articles", s.handleListArticles)
		r.Get("/articles/{id}", s.handleGetArticle)
		r.Get("/users", s.handleListUsers)
		r.Post("/save-article", s.handleSaveArticle)
		r.Post("/upload-image", s.handleUploadImage)
		r.Get("/status", s.handleStatus)
	})

	if disk, ok := s.images.Store().(*images.DiskStore); ok {
		prefix := "/" + strings.Trim(s.config.Images.PublicPrefix, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(disk.Dir()))))
	}
	if dir := s.config.Server.StaticDir; dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestID tags each request with X-Request-Id, keeping one the caller sent.
// The id is stored where middleware.Logger looks for it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
