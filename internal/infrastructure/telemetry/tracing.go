package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the tracer used for pipeline spans
	TracerName = "qbsync"
	// ServiceVersion is reported on the telemetry resource
	ServiceVersion = "1.0.0"
)

// Span attributes set by the sync pipeline and the QuickBooks client
var (
	SpanFile          = attribute.Key("file.name")
	SpanDestination   = attribute.Key("file.destination")
	SpanHistoryID     = attribute.Key("import_history.id")
	SpanInvoiceNo     = attribute.Key("invoice_no")
	SpanDocumentKind  = attribute.Key("document.kind")
	SpanCustomer      = attribute.Key("customer.name")
	SpanLineCount     = attribute.Key("line_count")
	SpanTransactions  = attribute.Key("transaction_count")
	SpanOutcome       = attribute.Key("outcome")
	SpanRequestMethod = attribute.Key("http.request.method")
	SpanResponseCode  = attribute.Key("http.response.status_code")
)

func start(ctx context.Context, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

// Start opens an internal span on the global provider. End it with Finish
// or span.End.
//
//	ctx, span := telemetry.Start(ctx, "sync.process_file", telemetry.SpanFile.String(name))
//	defer span.End()
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, name, trace.SpanKindInternal, attrs)
}

// StartClient opens a span for an outbound call
func StartClient(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, name, trace.SpanKindClient, attrs)
}

// Fail records err on span and marks it failed. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Succeed marks span successful
func Succeed(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// TraceID returns the trace id of the span in ctx, or ""
func TraceID(ctx context.Context) string {
	id := trace.SpanFromContext(ctx).SpanContext().TraceID()
	if !id.IsValid() {
		return ""
	}
	return id.String()
}
