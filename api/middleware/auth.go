package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/gridpay-backend/api/responses"
	"github.com/angelmondragon/gridpay-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

// TokenVerifier turns a bearer token into the staff session it carries.
type TokenVerifier interface {
	Verify(raw string) (auth.Session, error)
}

// Auth rejects requests without a valid bearer token and seeds the context
// with the employee and role.
func Auth(tokens TokenVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			session, err := tokens.Verify(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithEmployee(r.Context(), session.EmployeeID, session.Role)
			if logg != nil {
				ctx = logg.WithEmployeeID(ctx, session.EmployeeID)
				ctx = logg.WithActorRole(ctx, string(session.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <token>" in any case, or a bare token.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, "bearer") {
		return ""
	}
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(rest)
	}
	return header
}
