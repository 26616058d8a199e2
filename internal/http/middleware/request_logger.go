package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/movario/moving-ai-platform/internal/tenancy"
	"github.com/movario/moving-ai-platform/pkg/logging"
)

// RequestLogger emits one structured log line per request, carrying the
// tenant so per-mover traffic can be filtered in the aggregator.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"request_id", reqID,
				"remote_ip", r.RemoteAddr,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			// The logger runs ahead of the tenant middleware, so the header is
			// the authoritative source here; the context covers callers that
			// resolved the tenant some other way.
			tenantID, ok := tenancy.TenantIDFromContext(r.Context())
			if !ok {
				tenantID = r.Header.Get("X-Tenant-Id")
			}
			if tenantID != "" {
				fields = append(fields, "tenant_id", tenantID)
			}
			logger.Info("request handled", fields...)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
