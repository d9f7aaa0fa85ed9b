package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/gridpay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	replayedHeader         = "Idempotent-Replayed"
	maxIdempotencyKeyLen   = 255
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = 2 * time.Minute
)

// idempotentRoutes lists the ledger writes that require an Idempotency-Key,
// keyed by "METHOD pattern". A zero ttl uses the configured default; money
// that leaves the utility or reaches the gateway is remembered for a week.
var idempotentRoutes = map[string]time.Duration{
	"POST /api/v1/payments":                     0,
	"PATCH /api/v1/payments/{paymentId}":        0,
	"POST /api/v1/payments/allocations":         0,
	"POST /api/v1/payments/{paymentId}/void":    criticalIdempotencyTTL,
	"POST /api/v1/payments/{paymentId}/refunds": criticalIdempotencyTTL,
	"POST /api/v1/gateway/checkout-sessions":    criticalIdempotencyTTL,
	"POST /api/v1/gateway/payment-intents":      criticalIdempotencyTTL,
}

// IdempotencyStore persists replayable responses.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// storedResponse is the value kept under an idempotency key. A record without
// a status marks a request that is still running.
type storedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (s storedResponse) inFlight() bool { return s.Status == 0 }

// Idempotency makes ledger writes safe to retry. The first request with a key
// reserves it, runs, and stores its response; later requests with the same
// key and body get that response back. A concurrent duplicate, or a reused
// key with a different body, is rejected with IDEMPOTENCY_KEY_REUSED. Server
// errors release the reservation so the retry runs again.
func Idempotency(store IdempotencyStore, defaultTTL time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if defaultTTL <= 0 {
		defaultTTL = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, guarded := routeTTL(r.Method, routePattern(r), defaultTTL)
			if !guarded || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case clientKey == "":
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintRequest(r, body)
			key := store.IdempotencyKey(idempotencyScope(r), clientKey)

			prior, found, err := loadResponse(ctx, store, key)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable"))
				return
			}
			if found {
				if err := replay(w, prior, fingerprint); err != nil {
					fail(err)
				}
				return
			}

			reserved, err := reserve(ctx, store, key, fingerprint)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable"))
				return
			}
			if !reserved {
				fail(pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this Idempotency-Key is still in progress"))
				return
			}

			capture := &responseCapture{statusRecorder: statusRecorder{ResponseWriter: w}}
			next.ServeHTTP(capture, r)

			// The request context may already be canceled; the store write
			// must still land.
			storeCtx := context.WithoutCancel(ctx)
			if capture.Status() >= http.StatusInternalServerError {
				if err := store.Del(storeCtx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			record, err := json.Marshal(storedResponse{
				Fingerprint: fingerprint,
				Status:      capture.Status(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err == nil {
				err = store.Set(storeCtx, key, string(record), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "persist idempotent response", err)
			}
		})
	}
}

func routeTTL(method, pattern string, defaultTTL time.Duration) (time.Duration, bool) {
	ttl, ok := idempotentRoutes[method+" "+pattern]
	if !ok {
		return 0, false
	}
	if ttl == 0 {
		ttl = defaultTTL
	}
	return ttl, true
}

// idempotencyScope keeps keys private to the employee and the endpoint.
func idempotencyScope(r *http.Request) string {
	return strconv.FormatUint(EmployeeIDFromContext(r.Context()), 10) + "|" + r.Method + "|" + r.URL.Path
}

func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.RequestURI() + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func loadResponse(ctx context.Context, store IdempotencyStore, key string) (storedResponse, bool, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return storedResponse{}, false, nil
	}
	if err != nil {
		return storedResponse{}, false, err
	}
	var rec storedResponse
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return storedResponse{}, false, err
	}
	return rec, true, nil
}

func reserve(ctx context.Context, store IdempotencyStore, key, fingerprint string) (bool, error) {
	marker, err := json.Marshal(storedResponse{Fingerprint: fingerprint})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(marker), inFlightTTL)
}

func replay(w http.ResponseWriter, prior storedResponse, fingerprint string) error {
	switch {
	case prior.Fingerprint != fingerprint:
		return pkgerrors.New(pkgerrors.CodeIdempotency, "Idempotency-Key was already used with a different request")
	case prior.inFlight():
		return pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this Idempotency-Key is still in progress")
	}
	if prior.ContentType != "" {
		w.Header().Set("Content-Type", prior.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(prior.Status)
	_, _ = w.Write(prior.Body)
	return nil
}

// responseCapture tees the handler's body so it can be stored.
type responseCapture struct {
	statusRecorder
	body bytes.Buffer
}

func (c *responseCapture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.statusRecorder.Write(b)
}
