// Package server initializes and runs the vdrive server: it opens the
// metadata store, applies migrations, binds the storage root, bootstraps the
// root folder and serves the HTTP API until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/vdrive/internal/dbx"
	"github.com/dmitrijs2005/vdrive/internal/logging"
	"github.com/dmitrijs2005/vdrive/internal/server/config"
	"github.com/dmitrijs2005/vdrive/internal/server/locker"
	"github.com/dmitrijs2005/vdrive/internal/server/metrics"
	"github.com/dmitrijs2005/vdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vdrive/internal/server/rest"
	"github.com/dmitrijs2005/vdrive/internal/server/services"
	"github.com/dmitrijs2005/vdrive/internal/server/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	flushLogs     func() error
	db            *sql.DB
	registry      *prometheus.Registry
	folderService *services.FolderService
	fileService   *services.FileService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, flush, err := logging.New(logging.Options{
		Backend: c.LogBackend,
		Level:   c.LogLevel,
		Format:  c.LogFormat,
		Output:  os.Stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	store, err := storage.New(storage.Config{Root: c.StorageRoot, CreateRoot: c.CreateStorageRoot})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "vdrive"),
	)

	opts := services.Options{
		IOTimeout: c.IOTimeout,
		Locks:     locker.New(),
		Logger:    logger,
		Metrics:   metrics.New(registry),
	}
	tx := dbx.NewSQLTransactor(db, nil)
	fs := services.NewFolderService(tx, rm, store, opts.WithLogger(logger.With("module", "folders")))
	fls := services.NewFileService(tx, rm, store, opts.WithLogger(logger.With("module", "files")))

	root, err := fs.EnsureRoot(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("root folder error: %w", err)
	}
	logger.Info(ctx, "Storage ready", "root_id", root.ID, "storage_root", store.Root())

	return &App{
		config:        c,
		logger:        logger,
		flushLogs:     flush,
		db:            db,
		registry:      registry,
		folderService: fs,
		fileService:   fls,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := rest.NewServer(rest.Config{
		Address:       app.config.EndpointAddrHTTP,
		MaxUploadSize: app.config.MaxUploadSize,
		UploadTimeout: app.config.IOTimeout,
		CORSOrigins:   app.config.CORSOrigins,
	}, app.logger, app.folderService, app.fileService, app.registry)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until a signal arrives or the HTTP server fails, then releases
// the database pool and flushes the logger.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close failed", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
	_ = app.flushLogs()
}
