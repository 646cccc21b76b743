package middleware

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/qbsync/backend/internal/infrastructure/telemetry"
)

// Instrument names recorded by HTTPMetrics
const (
	MetricRequests    = "http.server.requests"
	MetricDuration    = "http.server.duration"
	MetricBodySize    = "http.server.request.body.size"
	MetricActive      = "http.server.active_requests"
	unmatchedRouteTag = "unmatched"
)

// bodySizeBuckets reach the default 10 MiB upload limit
var bodySizeBuckets = []float64{1 << 10, 16 << 10, 128 << 10, 512 << 10, 1 << 20, 4 << 20, 10 << 20}

type requestInstruments struct {
	requests *telemetry.Counter
	duration *telemetry.Histogram
	bodySize *telemetry.Histogram
	active   metric.Int64UpDownCounter
}

func newRequestInstruments(meter metric.Meter) (*requestInstruments, error) {
	var (
		ri   requestInstruments
		errs []error
		err  error
	)
	ri.requests, err = telemetry.NewCounter(meter, MetricRequests, "Requests served", "{request}")
	errs = append(errs, err)

	// An upload runs the whole sync pipeline, so latency uses the file buckets.
	ri.duration, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        MetricDuration,
		Description: "Time to serve a request",
		Unit:        "s",
		Boundaries:  telemetry.FileDurationBuckets,
	})
	errs = append(errs, err)

	ri.bodySize, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        MetricBodySize,
		Description: "Declared request body size",
		Unit:        "By",
		Boundaries:  bodySizeBuckets,
	})
	errs = append(errs, err)

	ri.active, err = meter.Int64UpDownCounter(MetricActive,
		metric.WithDescription("Requests in flight"),
		metric.WithUnit("{request}"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &ri, nil
}

// HTTPMetrics records request count, latency, body size and in-flight
// requests. Without a meter, or if an instrument cannot be registered, it
// does nothing.
func HTTPMetrics(meter metric.Meter) gin.HandlerFunc {
	if meter == nil {
		return passThrough
	}
	ri, err := newRequestInstruments(meter)
	if err != nil {
		return passThrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		began := time.Now()

		ri.active.Add(ctx, 1)
		defer ri.active.Add(ctx, -1)
		c.Next()

		// Status only labels the counter; histograms stay low cardinality.
		labels := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(routeLabel(c)),
		}
		ri.requests.Inc(ctx, append(labels, telemetry.AttrHTTPStatus.Int(c.Writer.Status()))...)
		ri.duration.RecordDuration(ctx, time.Since(began), labels...)
		if n := c.Request.ContentLength; n > 0 {
			ri.bodySize.Record(ctx, float64(n), labels...)
		}
	}
}

func passThrough(c *gin.Context) { c.Next() }

// routeLabel is the matched pattern, so /history/:id is one series
func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRouteTag
}
