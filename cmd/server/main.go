// Command server runs the QuickBooks sync web service: the upload form,
// the OAuth endpoints, the import history API and, when enabled, the input
// directory watcher.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qbsync/backend/internal/bootstrap"
	"github.com/qbsync/backend/internal/domain/bulk"
	"github.com/qbsync/backend/internal/infrastructure/config"
	"github.com/qbsync/backend/internal/infrastructure/logger"
	"github.com/qbsync/backend/internal/infrastructure/scheduler"
	"github.com/qbsync/backend/internal/interfaces/http/handler"
	"github.com/qbsync/backend/internal/interfaces/http/middleware"
	"github.com/qbsync/backend/internal/interfaces/http/router"
)

const (
	shutdownTimeout = 30 * time.Second
	releaseTimeout  = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync(log) }()

	log.Info("Starting QuickBooks sync server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", bootstrap.Version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}
	// app.Logger also exports over OTLP when log export is on
	log = app.Logger
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := app.Close(rctx); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()

	var watcher *scheduler.InputWatcher
	if cfg.Watcher.Enabled {
		if watcher, err = newWatcher(cfg, app, log); err != nil {
			return fmt.Errorf("create input watcher: %w", err)
		}
		// Stop, not the signal, ends the watcher so a file in flight can finish.
		if err := watcher.Start(context.Background()); err != nil {
			return fmt.Errorf("start input watcher: %w", err)
		}
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        newEngine(cfg, app, log),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	log.Info("Shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if watcher != nil {
		if err := watcher.Stop(sctx); err != nil {
			log.Error("Input watcher did not stop cleanly", zap.Error(err))
		}
	}
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("Server stopped")
	return nil
}

// newEngine builds the gin engine with the middleware chain and every route
func newEngine(cfg *config.Config, app *bootstrap.App, log *zap.Logger) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(logger.Recovery(log), middleware.RequestID())
	engine.Use(middleware.Tracing(cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled)...)
	engine.Use(
		middleware.HTTPMetrics(app.Meter),
		logger.AccessLog(log),
		middleware.Secure(),
	)
	engine.NoRoute(router.NotFound)

	router.NewRouter(engine).
		RegisterHandlers(router.Handlers{
			Upload:  handler.NewUploadHandler(app.FileProcessor(), cfg.Paths.InputDir, cfg.HTTP.MaxUploadSize, log.Named("upload")),
			Auth:    handler.NewAuthHandler(app.OAuthFlow(), app.States, log.Named("auth")),
			History: handler.NewHistoryHandler(app.History),
			Health:  handler.NewHealthHandler(cfg.App.Name, bootstrap.Version, app.DB, log),
		}).
		Setup()
	return engine
}

// newWatcher polls the input directory and feeds new files to the pipeline
func newWatcher(cfg *config.Config, app *bootstrap.App, log *zap.Logger) (*scheduler.InputWatcher, error) {
	orch, err := app.RequireOrchestrator()
	if err != nil {
		return nil, err
	}

	wcfg := scheduler.DefaultWatcherConfig()
	wcfg.InputDir = cfg.Paths.InputDir
	if cfg.Watcher.Interval > 0 {
		wcfg.Interval = cfg.Watcher.Interval
	}

	return scheduler.NewInputWatcher(wcfg, scheduler.ProcessorFunc(func(ctx context.Context) error {
		_, err := orch.ProcessDirectory(ctx, bulk.ImportSourceWatcher)
		return err
	}), log.Named("watcher"))
}
