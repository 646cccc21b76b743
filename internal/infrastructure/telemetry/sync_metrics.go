package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// Attribute keys shared by the pipeline and HTTP instruments
var (
	AttrSource       = attribute.Key("source")
	AttrOutcome      = attribute.Key("outcome")
	AttrDocumentKind = attribute.Key("document_kind")
	AttrDestination  = attribute.Key("destination")
	AttrEndpoint     = attribute.Key("endpoint")
	AttrHTTPStatus   = attribute.Key("http.status_code")
	AttrHTTPMethod   = attribute.Key("http.method")
	AttrHTTPRoute    = attribute.Key("http.route")
)

var (
	// HTTPDurationBuckets suit single accounting API calls (seconds)
	HTTPDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	// FileDurationBuckets suit a whole file run, which posts many documents (seconds)
	FileDurationBuckets = []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600}
)

// Counter is an int64 counter with variadic attributes
type Counter struct{ inst metric.Int64Counter }

// NewCounter registers a counter on meter
func NewCounter(meter metric.Meter, name, description, unit string) (*Counter, error) {
	inst, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", name, err)
	}
	return &Counter{inst: inst}, nil
}

// Inc adds one
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.inst.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// HistogramOpts names a float64 histogram and its bucket boundaries
type HistogramOpts struct {
	Name        string
	Description string
	Unit        string
	Boundaries  []float64
}

// Histogram is a float64 histogram with variadic attributes
type Histogram struct{ inst metric.Float64Histogram }

// NewHistogram registers a histogram on meter. Empty Boundaries keep the SDK defaults.
func NewHistogram(meter metric.Meter, opts HistogramOpts) (*Histogram, error) {
	hopts := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(opts.Boundaries) > 0 {
		hopts = append(hopts, metric.WithExplicitBucketBoundaries(opts.Boundaries...))
	}
	inst, err := meter.Float64Histogram(opts.Name, hopts...)
	if err != nil {
		return nil, fmt.Errorf("histogram %s: %w", opts.Name, err)
	}
	return &Histogram{inst: inst}, nil
}

// Record records v
func (h *Histogram) Record(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
	h.inst.Record(ctx, v, metric.WithAttributes(attrs...))
}

// RecordDuration records d in seconds
func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.Record(ctx, d.Seconds(), attrs...)
}

// SyncMetrics counts files and transactions moving through the pipeline
type SyncMetrics struct {
	filesTotal        *Counter
	transactionsTotal *Counter
	fileDuration      *Histogram
	apiDuration       *Histogram
}

// NewSyncMetrics registers the pipeline instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	var (
		m   SyncMetrics
		err error
	)
	if m.filesTotal, err = NewCounter(meter,
		"qbsync_files_processed_total",
		"Files processed, by source and destination",
		"{files}",
	); err != nil {
		return nil, err
	}
	if m.transactionsTotal, err = NewCounter(meter,
		"qbsync_transactions_total",
		"Transactions handled, by document kind and outcome",
		"{transactions}",
	); err != nil {
		return nil, err
	}
	if m.fileDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "qbsync_file_duration_seconds",
		Description: "Time to process one file end to end",
		Unit:        "s",
		Boundaries:  FileDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.apiDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "qbsync_api_request_duration_seconds",
		Description: "Accounting API request duration",
		Unit:        "s",
		Boundaries:  HTTPDurationBuckets,
	}); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordFile records one processed file. Nil receivers are ignored so
// callers need not check whether metrics are configured.
func (m *SyncMetrics) RecordFile(ctx context.Context, source, destination string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrSource.String(source), AttrDestination.String(destination)}
	m.filesTotal.Inc(ctx, attrs...)
	m.fileDuration.RecordDuration(ctx, d, attrs...)
}

// RecordTransaction records one transaction outcome (posted, skipped, failed)
func (m *SyncMetrics) RecordTransaction(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.transactionsTotal.Inc(ctx, AttrDocumentKind.String(kind), AttrOutcome.String(outcome))
}

// RecordAPIRequest records one accounting API round trip
func (m *SyncMetrics) RecordAPIRequest(ctx context.Context, endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.apiDuration.RecordDuration(ctx, d, AttrEndpoint.String(endpoint), AttrHTTPStatus.Int(status))
}
