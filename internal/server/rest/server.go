// Package rest exposes the hierarchy synchronizers over HTTP.
package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vdrive/internal/logging"
	"github.com/dmitrijs2005/vdrive/internal/server/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FolderService is the folder side of the engine used by the handlers.
type FolderService interface {
	Create(ctx context.Context, parentID, name string) (*models.Folder, error)
	Get(ctx context.Context, id string) (*models.Folder, error)
	GetByPath(ctx context.Context, virtualPath string) (*models.Folder, error)
	Roots(ctx context.Context) ([]*models.Folder, error)
	Contents(ctx context.Context, id string) (*models.FolderContents, error)
	Relocate(ctx context.Context, id, newParentID, newName string) (*models.Folder, error)
	Delete(ctx context.Context, id string) error
}

// FileService is the file side of the engine used by the handlers.
type FileService interface {
	Upload(ctx context.Context, folderID, name, mimeType string, r io.Reader) (*models.File, error)
	Get(ctx context.Context, id string) (*models.File, error)
	Rename(ctx context.Context, id, newName string) (*models.File, error)
	Move(ctx context.Context, id, newFolderID string) (*models.File, error)
	Delete(ctx context.Context, id string) (bool, error)
}

const shutdownTimeout = 10 * time.Second

// Config holds the HTTP adapter settings.
//
// Fields:
//   - Address: bind address.
//   - MaxUploadSize: largest accepted upload body, in bytes.
//   - UploadTimeout: how long an upload body may take to arrive; zero means
//     no deadline.
//   - CORSOrigins: origins allowed to call the API from a browser.
type Config struct {
	Address       string
	MaxUploadSize int64
	UploadTimeout time.Duration
	CORSOrigins   []string
}

type Server struct {
	config   Config
	folders  FolderService
	files    FileService
	logger   logging.Logger
	gatherer prometheus.Gatherer
}

func NewServer(c Config, l logging.Logger, fs FolderService, fls FileService, g prometheus.Gatherer) *Server {
	return &Server{
		config:   c,
		folders:  fs,
		files:    fls,
		logger:   l.With("module", "http_server"),
		gatherer: g,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestContext)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	if len(s.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Route("/api/folders", func(r chi.Router) {
		r.Post("/", s.createFolder)
		r.Get("/", s.listFolders)
		r.Get("/{id}", s.getFolder)
		r.Get("/{id}/contents", s.folderContents)
		r.Patch("/{id}", s.updateFolder)
		r.Delete("/{id}", s.deleteFolder)
	})

	r.Route("/api/files", func(r chi.Router) {
		r.Post("/upload", s.uploadFile)
		r.Get("/info/{id}", s.getFile)
		r.Patch("/{id}", s.updateFile)
		r.Delete("/{id}", s.deleteFile)
	})

	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.config.Address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
