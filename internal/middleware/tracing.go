// Package middleware provides HTTP middleware for the stor.chat API
package middleware

import (
	"net/http"

	"github.com/storchat/api/internal/logging"
)

// TraceIDHeader carries the request trace ID in both directions.
const TraceIDHeader = "X-Trace-ID"

// TracingMiddleware adds trace ID to all requests
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Generate or extract trace ID
		traceID := r.Header.Get(TraceIDHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
