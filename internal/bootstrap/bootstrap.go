// Package bootstrap wires configuration into the running sync service. The
// HTTP server and the CLI share it so both build the pipeline the same way.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	syncapp "github.com/qbsync/backend/internal/application/sync"
	"github.com/qbsync/backend/internal/domain/integration"
	"github.com/qbsync/backend/internal/domain/shared"
	"github.com/qbsync/backend/internal/infrastructure/auth"
	"github.com/qbsync/backend/internal/infrastructure/cache"
	"github.com/qbsync/backend/internal/infrastructure/config"
	"github.com/qbsync/backend/internal/infrastructure/logger"
	"github.com/qbsync/backend/internal/infrastructure/mapping"
	"github.com/qbsync/backend/internal/infrastructure/persistence"
	"github.com/qbsync/backend/internal/infrastructure/quickbooks"
	"github.com/qbsync/backend/internal/infrastructure/storage"
	"github.com/qbsync/backend/internal/infrastructure/telemetry"
	"github.com/qbsync/backend/internal/interfaces/http/handler"
)

// Version is stamped at build time with -ldflags "-X ...bootstrap.Version=..."
var Version = "dev"

// App holds the long-lived components of the sync service
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DB           *persistence.Database
	Ledger       shared.IdempotencyStore
	Mappings     *mapping.Store
	Tokens       *quickbooks.TokenSource
	Client       *quickbooks.Client
	States       *auth.StateService
	History      *syncapp.HistoryService
	Orchestrator *syncapp.Orchestrator
	Meter        metric.Meter

	closers []func(context.Context) error
}

// NewLogger builds the process logger from configuration
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.ISO8601Millis,
	})
}

// New builds every component in dependency order. Components that were
// started before a failure are closed again.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (app *App, err error) {
	app = &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	if err = app.initTelemetry(ctx); err != nil {
		return nil, err
	}
	if err = app.initDatabase(); err != nil {
		return nil, err
	}
	if err = app.initLedger(); err != nil {
		return nil, err
	}

	app.Mappings, err = mapping.Open(cfg.Paths.MappingsFile, log.Named("mapping"))
	if err != nil {
		return nil, err
	}

	if err = app.initQuickBooks(); err != nil {
		return nil, err
	}

	if err = app.initStates(); err != nil {
		return nil, err
	}

	app.initOrchestrator()
	return app, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	tc := a.Config.Telemetry
	p, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     tc.ServiceName,
		Endpoint:        tc.CollectorEndpoint,
		Insecure:        tc.Insecure,
		Tracing:         tc.Enabled,
		SamplingRatio:   tc.SamplingRatio,
		Metrics:         tc.Enabled && tc.MetricsEnabled,
		MetricsInterval: tc.MetricsInterval,
		Logs:            tc.Enabled && tc.LogsEnabled,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, p.Shutdown)
	a.Meter = p.Meter()
	if p.LogsEnabled() {
		// every component built after this point logs through the export too
		a.Logger = logger.Tee(a.Logger, p.LogCore(a.Logger.Core()))
	}
	return nil
}

func (a *App) initDatabase() error {
	db, err := persistence.NewDatabase(&a.Config.Database,
		persistence.WithLogger(a.Logger.Named("gorm"), logger.MapGormLogLevel(a.Config.Log.Level)),
	)
	if err != nil {
		return err
	}
	a.DB = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	if a.Config.Telemetry.Enabled && a.Config.Telemetry.DBTraceEnabled {
		system := "sqlite"
		if db.Driver() == persistence.DriverPostgres {
			system = "postgresql"
		}
		err := telemetry.InstrumentGorm(db.DB, telemetry.GormTracing{
			System:    system,
			QueryVars: a.Config.App.Env == "development",
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("register database tracing: %w", err)
		}
	}

	a.History = syncapp.NewHistoryService(persistence.NewGormImportHistoryRepository(db.DB))
	return nil
}

func (a *App) initLedger() error {
	ledger, err := cache.NewLedgerFactory(a.Config.Redis,
		cache.WithLogger(a.Logger),
		cache.WithInMemoryFallback(true),
	).CreateLedger()
	if err != nil {
		return err
	}
	a.Ledger = ledger
	a.closers = append(a.closers, func(context.Context) error { return ledger.Close() })
	return nil
}

// initQuickBooks builds the token source and API client. Missing
// credentials are not fatal here: the service still serves history and
// health, and uploads fail with a not-configured error.
func (a *App) initQuickBooks() error {
	qbCfg := quickbooks.NewConfig(a.Config.QuickBooks)
	qbLog := a.Logger.Named("quickbooks")

	tokens, err := quickbooks.NewTokenSource(qbCfg, quickbooks.NewFileTokenStore(a.Config.QuickBooks.TokenFile), qbLog)
	if err != nil {
		qbLog.Warn("QuickBooks is not configured", zap.Error(err))
		return nil
	}
	a.Tokens = tokens

	var opts []quickbooks.ClientOption
	if metrics, err := telemetry.NewSyncMetrics(a.Meter); err == nil {
		opts = append(opts, quickbooks.WithMetrics(metrics))
	}
	client, err := quickbooks.NewClient(qbCfg, tokens, qbLog, opts...)
	if err != nil {
		return err
	}
	a.Client = client
	return nil
}

func (a *App) initStates() error {
	if a.Config.Auth.StateSecret == "" {
		a.Logger.Warn("auth.state_secret is not set; using a random secret, pending logins will not survive a restart")
	}
	states, err := auth.NewStateService(a.Config.Auth, a.Ledger)
	if err != nil {
		return err
	}
	a.States = states
	return nil
}

func (a *App) initOrchestrator() {
	if a.Client == nil {
		return
	}
	cfg := a.Config
	log := a.Logger.Named("sync")

	poster := syncapp.NewPoster(
		a.Client,
		syncapp.NewCustomerResolver(a.Client, a.Mappings, log),
		syncapp.NewItemResolver(a.Client, a.Mappings, cfg.Sync.ItemRetries, cfg.Sync.ItemRetryDelay, log),
		syncapp.NewPaymentMethodResolver(a.Client, a.Mappings, log),
	)

	opts := []syncapp.Option{
		syncapp.WithLedger(a.Ledger),
		syncapp.WithHistory(a.History),
	}
	if metrics, err := telemetry.NewSyncMetrics(a.Meter); err == nil {
		opts = append(opts, syncapp.WithMetrics(metrics))
	} else {
		log.Warn("Sync metrics unavailable", zap.Error(err))
	}
	if cfg.Storage.Enabled {
		archive, err := storage.NewS3Archive(&cfg.Storage, storage.WithLogger(a.Logger.Named("storage")))
		if err != nil {
			log.Warn("Archive storage unavailable, files stay local only", zap.Error(err))
		} else {
			opts = append(opts, syncapp.WithArchive(archive))
		}
	}

	a.Orchestrator = syncapp.NewOrchestrator(
		syncapp.Config{
			InputDir:         cfg.Paths.InputDir,
			ProcessedDir:     cfg.Paths.ProcessedDir,
			ErrorDir:         cfg.Paths.ErrorDir,
			LedgerTTL:        cfg.Sync.LedgerTTL,
			TransactionDelay: cfg.Sync.TransactionDelay,
		},
		poster,
		a.Mappings,
		a.Client,
		log,
		opts...,
	)
}

// OAuthFlow returns the token source, or nil when credentials are missing.
// The explicit nil keeps a nil *TokenSource out of the interface.
func (a *App) OAuthFlow() handler.OAuthFlow {
	if a.Tokens == nil {
		return nil
	}
	return a.Tokens
}

// FileProcessor returns the orchestrator as an upload processor, or nil
// when credentials are missing
func (a *App) FileProcessor() handler.FileProcessor {
	if a.Orchestrator == nil {
		return nil
	}
	return a.Orchestrator
}

// RequireOrchestrator returns the orchestrator or a not-configured error
func (a *App) RequireOrchestrator() (*syncapp.Orchestrator, error) {
	if a.Orchestrator == nil {
		return nil, fmt.Errorf("%w: set QB_CLIENT_ID and QB_CLIENT_SECRET", integration.ErrPlatformNotConfigured)
	}
	return a.Orchestrator, nil
}

// Close releases components in reverse order of creation
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
