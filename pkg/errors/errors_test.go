package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCoversEveryCode(t *testing.T) {
	statuses := map[Code]int{
		CodeValidation:    http.StatusBadRequest,
		CodeUnauthorized:  http.StatusUnauthorized,
		CodeForbidden:     http.StatusForbidden,
		CodeNotFound:      http.StatusNotFound,
		CodeConflict:      http.StatusConflict,
		CodeInvalidAmount: http.StatusUnprocessableEntity,
		CodeInvalidState:  http.StatusConflict,
		CodeIdempotency:   http.StatusConflict,
		CodeRateLimit:     http.StatusTooManyRequests,
		CodeInternal:      http.StatusInternalServerError,
		CodeDependency:    http.StatusServiceUnavailable,
	}
	require.Len(t, catalog, len(statuses))
	for code, status := range statuses {
		meta := MetadataFor(code)
		assert.Equal(t, status, meta.HTTPStatus, code)
		assert.NotEmpty(t, meta.PublicMessage, code)
	}

	assert.True(t, MetadataFor(CodeDependency).Retryable)
	assert.False(t, MetadataFor(CodeInternal).ExposeMessage)
	assert.True(t, MetadataFor(CodeInvalidAmount).DetailsAllowed)
	assert.False(t, MetadataFor(CodeForbidden).DetailsAllowed)
}

func TestMetadataForUnknownCodeIsInternal(t *testing.T) {
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "refund exceeds payment", New(CodeInvalidAmount, "refund exceeds payment").PublicMessage())
	assert.Equal(t, "internal server error", New(CodeInternal, "nil pointer in allocator").PublicMessage())
	assert.Equal(t, "resource not found", New(CodeNotFound, "").PublicMessage())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	wrapped := Wrap(CodeDependency, cause, "stripe unavailable").
		WithDetails(map[string]any{"provider": "stripe"})

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, CodeDependency, wrapped.Code())
	assert.Equal(t, "stripe unavailable", wrapped.Message())
	assert.Equal(t, map[string]any{"provider": "stripe"}, wrapped.Details())
	assert.Contains(t, wrapped.Error(), "connection reset")

	assert.Equal(t, "NOT_FOUND: bill 9 not found", Newf(CodeNotFound, "bill %d not found", 9).Error())
}

func TestCodeLookupThroughWrapping(t *testing.T) {
	inner := New(CodeInvalidAmount, "refund exceeds remaining balance")
	outer := fmt.Errorf("refund payment 7: %w", inner)

	assert.Same(t, inner, As(outer))
	assert.True(t, Is(outer, CodeInvalidAmount))
	assert.False(t, Is(outer, CodeConflict))
	assert.Equal(t, CodeInternal, CodeOf(stdErrors.New("plain")))
	assert.False(t, Is(nil, CodeInternal))
	assert.Nil(t, As(nil))
}

func TestNilErrorIsSafe(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Empty(t, e.Message())
	assert.Nil(t, e.Details())
	assert.Nil(t, e.WithDetails("x"))
	assert.NoError(t, e.Unwrap())
}

func TestDiagnosePostgresErrors(t *testing.T) {
	pgxErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payments_ref_bill", TableName: "payments"}
	d := Diagnose(Wrap(CodeConflict, pgxErr, "duplicate transaction reference"))

	assert.Equal(t, CodeConflict, d.Code)
	require.NotNil(t, d.Postgres)
	assert.Equal(t, "23505", d.Postgres.Code)
	assert.Len(t, d.Chain, 2)

	fields := d.Fields()
	assert.Equal(t, "ux_payments_ref_bill", fields["pg_constraint"])
	assert.NotContains(t, fields, "pg_column")

	pqErr := &pq.Error{Code: "23514", Table: "payments", Constraint: "payments_payment_amount_check"}
	d = Diagnose(fmt.Errorf("insert: %w", pqErr))
	require.NotNil(t, d.Postgres)
	assert.Equal(t, "23514", d.Postgres.Code)
	assert.Equal(t, CodeInternal, d.Code)

	assert.Nil(t, Diagnose(stdErrors.New("timeout")).Postgres)
	assert.Empty(t, Diagnose(nil).Message)
}
