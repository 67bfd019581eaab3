package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/api"
	"github.com/orrn/printdesk/internal/api/handlers"
	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/archive"
	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
	"github.com/orrn/printdesk/internal/notify"
	"github.com/orrn/printdesk/internal/payment"
	"github.com/orrn/printdesk/internal/printer"
	"github.com/orrn/printdesk/internal/queue"
	"github.com/orrn/printdesk/internal/staging"
	"github.com/orrn/printdesk/internal/storage"
)

var (
	_ handlers.JobService     = (*core.JobManager)(nil)
	_ handlers.PrinterService = (*printer.Pool)(nil)
	_ handlers.ArchiveService = (*archive.Archiver)(nil)
)

// App owns every long-lived component and their start/stop order.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *sql.DB
	Staging    *staging.Store
	Storage    storage.Provider
	Dispatcher *notify.Dispatcher
	Pool       *printer.Pool
	Scheduler  *core.Scheduler
	Jobs       *core.JobManager
	Archiver   *archive.Archiver
	Auth       *middleware.AuthMiddleware
	Router     *gin.Engine

	server *http.Server
}

// New wires the application from cfg without starting any background work.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	database, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, DB: database}
	if err := a.build(); err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg, logger := a.Config, a.Logger

	var err error
	a.Staging, err = staging.NewStore(staging.Config{
		Dir:               cfg.Staging.Dir,
		MaxFileSize:       cfg.Staging.MaxFileSize,
		AllowedExtensions: cfg.Staging.AllowedExtensions,
		Retention:         cfg.Staging.Retention,
		SweepInterval:     cfg.Staging.SweepInterval,
	}, logger)
	if err != nil {
		return err
	}

	a.Storage, err = storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialise durable storage: %w", err)
	}

	caps := notify.Capabilities(cfg.Notifications, a.DB, logger)
	for _, c := range caps {
		if !c.Available() {
			logger.Info("notification channel unavailable", zap.String("channel", c.Name()), zap.String("reason", c.Reason()))
		}
	}
	a.Dispatcher = notify.NewDispatcher(caps, notify.Config{
		WorkerCount: cfg.Notifications.WorkerCount,
		QueueSize:   cfg.Notifications.QueueSize,
		SendTimeout: cfg.Notifications.SendTimeout,
	}, logger)

	var executor core.Executor
	if cfg.Printers.Simulate {
		executor = printer.NewSimulator(cfg.Printers.SimulatedDuration, logger)
	} else {
		a.Pool = printer.NewPool(&cfg.Printers, a.Storage, a.Dispatcher, logger)
		executor = a.Pool
	}

	var backend queue.Queue
	switch cfg.Queue.Backend {
	case "memory":
		backend = queue.NewMemoryQueue()
	default:
		backend = queue.NewSQLiteQueue(a.DB)
	}

	store := db.NewJobRepository(a.DB)
	a.Scheduler = core.NewScheduler(store, backend, executor, a.Dispatcher, &cfg.Queue, logger)
	migrator := core.NewMigrator(store, a.Staging, a.Storage, cfg.Storage.Folder, logger)
	a.Jobs = core.NewJobManager(core.JobManagerDeps{
		Store:     store,
		Staging:   a.Staging,
		Payments:  payment.NewClient(cfg.Payment, logger),
		Storage:   a.Storage,
		Migrator:  migrator,
		Scheduler: a.Scheduler,
		Notifier:  a.Dispatcher,
	}, core.JobManagerConfig{
		Rates: core.Rates{
			Black:    cfg.Pricing.BlackRate,
			Color:    cfg.Pricing.ColorRate,
			Currency: cfg.Pricing.Currency,
		},
		AutoRetryInterval: cfg.Storage.AutoRetryInterval,
		MaxAutoRetries:    cfg.Storage.MaxAutoRetries,
	}, logger)

	a.Archiver, err = archive.NewArchiver(a.DB, a.Storage, archive.Config{
		ArchivePath: cfg.Archive.Path,
		ArchiveDays: cfg.Archive.Days,
		Interval:    cfg.Archive.Interval,
	}, logger)
	if err != nil {
		return err
	}

	a.Auth, err = middleware.NewAuthMiddleware(db.NewSettingsOperations(a.DB), middleware.Config{
		JWTSecret:         cfg.Auth.JWTSecret,
		TokenDuration:     cfg.Auth.TokenDuration,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise auth: %w", err)
	}

	deps := api.RouterDeps{
		Auth:          a.Auth,
		Jobs:          a.Jobs,
		Archives:      a.Archiver,
		Webhooks:      db.NewWebhookOperations(a.DB),
		Notifications: db.NewNotificationOperations(a.DB),
		Contacts:      db.NewContactOperations(a.DB),
		MaxUploadSize: cfg.Staging.MaxFileSize,
		Logger:        logger,
	}
	if a.Pool != nil {
		deps.Printers = a.Pool
	}
	if cfg.Notifications.Webhooks.Enabled {
		deps.WebhookSender = notify.NewWebhookChannel(db.NewWebhookOperations(a.DB), cfg.Notifications.Webhooks, logger)
	}
	a.Router = api.NewRouter(deps)
	return nil
}

// Start launches background workers in dependency order: notifications before
// anything that emits them, and the scheduler after its recovery pass.
func (a *App) Start(ctx context.Context) error {
	a.Dispatcher.Start()
	a.Staging.Start(ctx)
	if a.Pool != nil {
		a.Pool.Start()
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.Jobs.Start(ctx)
	a.Archiver.Start(ctx)
	return nil
}

// Serve blocks until ctx is cancelled or the listener fails, then shuts the
// HTTP server down gracefully.
func (a *App) Serve(ctx context.Context) error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

// Stop halts background work in reverse start order and closes the database.
func (a *App) Stop() {
	a.Archiver.Stop()
	a.Jobs.Stop()
	a.Scheduler.Stop()
	if a.Pool != nil {
		a.Pool.Stop()
	}
	a.Staging.Stop()
	a.Dispatcher.Stop()
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("failed to close database", zap.Error(err))
	}
}

// Close releases resources of an App that was never started.
func (a *App) Close() error {
	return a.DB.Close()
}
