package middleware

import (
	"net/http"
	"time"

	"github.com/angelmondragon/gridpay-backend/pkg/metrics"
)

// Metrics records request counts and latency per chi route pattern, so
// /payments/{paymentId} is one series regardless of the id.
func Metrics(m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			m.Observe(r.Method, routePattern(r), rec.Status(), time.Since(start))
		})
	}
}
