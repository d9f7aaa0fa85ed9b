package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS lets the back-office app call the API from the given origins. The
// Idempotency-Key header must be allowed for browser retries to dedupe.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			idempotencyHeader,
			requestIDHeader,
		},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
