// internal/middleware/tracing.go
package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const spanOperation = "http.server"

// Tracing starts a server span for each HTTP request, continuing any trace
// context propagated by the caller. It must run inside RequestID for the span
// to carry the request ID.
func Tracing(next http.Handler) http.Handler {
	tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != "" {
			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("request.id", id))
		}
		next.ServeHTTP(w, r)
	})

	return otelhttp.NewHandler(tagged, spanOperation,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
