// Package telemetry wires OpenTelemetry tracing, metrics and log export for
// qbsync.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultMetricsInterval = time.Minute

// Config selects which OTLP pipelines run and where they export to
type Config struct {
	ServiceName string
	Endpoint    string
	Insecure    bool

	Tracing       bool
	SamplingRatio float64

	Metrics         bool
	MetricsInterval time.Duration

	// Logs exports zap entries through the core returned by LogCore
	Logs bool
}

// Provider owns the trace, metric and log SDK pipelines. A pipeline that is
// switched off leaves the global no-op implementation in place, so callers
// can always ask for a tracer or meter.
type Provider struct {
	cfg    Config
	traces *sdktrace.TracerProvider
	meters *sdkmetric.MeterProvider
	logs   *sdklog.LoggerProvider
	log    *zap.Logger
}

// Setup starts the enabled pipelines and registers them globally
func Setup(ctx context.Context, cfg Config, log *zap.Logger) (*Provider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{cfg: cfg, log: log}
	if !cfg.Tracing && !cfg.Metrics && !cfg.Logs {
		log.Info("Telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	if cfg.Tracing {
		if err := p.startTracing(ctx, res); err != nil {
			return nil, err
		}
	}
	if cfg.Metrics {
		if err := p.startMetrics(ctx, res); err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
	}
	if cfg.Logs {
		if err := p.startLogs(ctx, res); err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
	}
	return p, nil
}

func (p *Provider) startTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.Endpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}

	p.traces = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(p.cfg.SamplingRatio)),
	)
	otel.SetTracerProvider(p.traces)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.log.Info("Tracing enabled",
		zap.String("endpoint", p.cfg.Endpoint),
		zap.Float64("sampling_ratio", p.cfg.SamplingRatio),
	)
	return nil
}

func (p *Provider) startMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.Endpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("metric exporter: %w", err)
	}

	interval := p.cfg.MetricsInterval
	if interval <= 0 {
		interval = defaultMetricsInterval
	}
	p.meters = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(p.meters)

	p.log.Info("Metrics enabled",
		zap.String("endpoint", p.cfg.Endpoint),
		zap.Duration("interval", interval),
	)
	return nil
}

func (p *Provider) startLogs(ctx context.Context, res *resource.Resource) error {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(p.cfg.Endpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exp, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("log exporter: %w", err)
	}

	p.logs = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
	)
	global.SetLoggerProvider(p.logs)

	p.log.Info("Log export enabled", zap.String("endpoint", p.cfg.Endpoint))
	return nil
}

// LogCore returns a zap core that exports entries at or above level through
// the log pipeline. It is a no-op core when log export is off, so callers
// can tee it in unconditionally.
func (p *Provider) LogCore(level zapcore.LevelEnabler) zapcore.Core {
	if p.logs == nil {
		return zapcore.NewNopCore()
	}
	name := p.cfg.ServiceName
	if name == "" {
		name = TracerName
	}
	return &levelCore{
		Core:  otelzap.NewCore(name, otelzap.WithLoggerProvider(p.logs)),
		level: level,
	}
}

// levelCore gates an otelzap core, which has no minimum level of its own
type levelCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (c *levelCore) Enabled(lvl zapcore.Level) bool {
	return c.level.Enabled(lvl) && c.Core.Enabled(lvl)
}

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), level: c.level}
}

func (c *levelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

// samplerFor maps a ratio onto a sampler; fractional ratios respect the
// parent's decision so a trace is never half recorded
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Tracer returns a tracer from the active pipeline or the global one
func (p *Provider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if p.traces == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return p.traces.Tracer(name, opts...)
}

// Meter returns the service meter
func (p *Provider) Meter(opts ...metric.MeterOption) metric.Meter {
	name := p.cfg.ServiceName
	if name == "" {
		name = TracerName
	}
	if p.meters == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return p.meters.Meter(name, opts...)
}

// TracingEnabled reports whether spans are exported
func (p *Provider) TracingEnabled() bool { return p.traces != nil }

// MetricsEnabled reports whether metrics are exported
func (p *Provider) MetricsEnabled() bool { return p.meters != nil }

// LogsEnabled reports whether log entries are exported
func (p *Provider) LogsEnabled() bool { return p.logs != nil }

// Shutdown flushes every pipeline. It is safe to call more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		p.traces = nil
	}
	if p.meters != nil {
		if err := p.meters.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
		p.meters = nil
	}
	if p.logs != nil {
		if err := p.logs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown logs: %w", err))
		}
		p.logs = nil
	}
	if err := errors.Join(errs...); err != nil {
		p.log.Error("Telemetry shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
