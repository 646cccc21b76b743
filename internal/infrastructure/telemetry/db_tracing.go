package telemetry

import (
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultSlowQuery is the threshold used when GormTracing leaves it unset
const DefaultSlowQuery = 200 * time.Millisecond

const startedKey = "qbsync:statement_started"

// GormTracing selects how statements are traced
type GormTracing struct {
	// System names the database on spans, "sqlite" or "postgresql"
	System string
	// QueryVars records bound values on spans; development only
	QueryVars bool
	// SlowQuery flags statements that take longer
	SlowQuery time.Duration
}

// InstrumentGorm installs otelgorm on db. Each statement gets its own span;
// statements slower than cfg.SlowQuery are flagged with an attribute and a
// "slow_query" event.
func InstrumentGorm(db *gorm.DB, cfg GormTracing, log *zap.Logger) error {
	if cfg.SlowQuery <= 0 {
		cfg.SlowQuery = DefaultSlowQuery
	}
	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.System)}
	if !cfg.QueryVars {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	after := annotateStatement(cfg.SlowQuery)
	cb := db.Callback()
	if err := errors.Join(
		cb.Create().Before("gorm:create").Register("qbsync:time_create", markStarted),
		cb.Create().After("gorm:create").Register("qbsync:annotate_create", after),
		cb.Query().Before("gorm:query").Register("qbsync:time_query", markStarted),
		cb.Query().After("gorm:query").Register("qbsync:annotate_query", after),
		cb.Update().Before("gorm:update").Register("qbsync:time_update", markStarted),
		cb.Update().After("gorm:update").Register("qbsync:annotate_update", after),
		cb.Delete().Before("gorm:delete").Register("qbsync:time_delete", markStarted),
		cb.Delete().After("gorm:delete").Register("qbsync:annotate_delete", after),
		cb.Row().Before("gorm:row").Register("qbsync:time_row", markStarted),
		cb.Row().After("gorm:row").Register("qbsync:annotate_row", after),
		cb.Raw().Before("gorm:raw").Register("qbsync:time_raw", markStarted),
		cb.Raw().After("gorm:raw").Register("qbsync:annotate_raw", after),
	); err != nil {
		return err
	}

	if log != nil {
		log.Info("Database tracing enabled",
			zap.String("db_system", cfg.System),
			zap.Bool("query_vars", cfg.QueryVars),
			zap.Duration("slow_query", cfg.SlowQuery),
		)
	}
	return nil
}

func markStarted(db *gorm.DB) {
	db.InstanceSet(startedKey, time.Now())
}

func annotateStatement(slow time.Duration) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}

		if t := db.Statement.Table; t != "" {
			span.SetAttributes(attribute.String("db.sql.table", t))
		}
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if err := db.Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			Fail(span, err)
		}

		v, ok := db.InstanceGet(startedKey)
		if !ok {
			return
		}
		took := time.Since(v.(time.Time))
		if took <= slow {
			return
		}
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", took.Milliseconds()),
		)
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("threshold_ms", slow.Milliseconds()),
		))
	}
}
