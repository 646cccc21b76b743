package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// healthPath is left untraced; probes would otherwise dominate the traces
const healthPath = "/health"

// Tracing returns the span middleware chain. otelgin opens a server span
// named "METHOD route" and annotateSpan tags it with the request id and
// marks client and server errors. Disabled tracing yields a pass-through.
// RequestID must run earlier for the id to be present.
func Tracing(service string, enabled bool) []gin.HandlerFunc {
	if !enabled {
		return []gin.HandlerFunc{passThrough}
	}
	return []gin.HandlerFunc{
		otelgin.Middleware(service, otelgin.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != healthPath
		})),
		annotateSpan,
	}
}

func annotateSpan(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	if !span.IsRecording() {
		c.Next()
		return
	}
	if id := GetRequestID(c); id != "" {
		span.SetAttributes(attribute.String("request_id", id))
	}

	c.Next()

	if status := c.Writer.Status(); status >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(status))
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
}
