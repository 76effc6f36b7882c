package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/redaction-api/internal/api/shared"
	"github.com/phrazzld/redaction-api/internal/platform/logger"
)

// NewTraceMiddleware adds a trace ID to the request context and response
// headers, and a request logger carrying it. A well-formed X-Trace-Id from
// the caller is reused.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.WithTraceID(r.Context(), r.Header.Get(shared.TraceHeader))
			traceID := shared.GetTraceID(ctx)
			w.Header().Set(shared.TraceHeader, traceID)

			log := base.With(slog.String("trace_id", traceID))
			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(logger.WithLogger(ctx, log)))
		})
	}
}
