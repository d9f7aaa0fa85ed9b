package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

// AccessLog writes one line per request once the handler returns. Server
// errors log at warn so they surface next to the handler's own error line.
func AccessLog(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       routePattern(r),
				"status":      rec.Status(),
				"bytes":       rec.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_ip":   clientIP(r),
			})
			if rec.Status() >= http.StatusInternalServerError {
				logg.Warn(ctx, "request served with server error")
				return
			}
			logg.Info(ctx, "request served")
		})
	}
}

// routePattern resolves the full chi pattern for r. Middleware mounted on a
// parent router runs before subrouters match, so the root routes are probed
// instead of trusting the context.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if rctx.Routes != nil {
		probe := chi.NewRouteContext()
		if rctx.Routes.Match(probe, r.Method, r.URL.Path) {
			return trimPattern(probe.RoutePattern())
		}
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return trimPattern(pattern)
	}
	return r.URL.Path
}

func trimPattern(pattern string) string {
	if len(pattern) > 1 {
		return strings.TrimSuffix(pattern, "/")
	}
	return pattern
}
