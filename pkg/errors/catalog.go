package errors

import "net/http"

// Metadata is the HTTP contract of a code. With ExposeMessage set, the
// error's own message replaces PublicMessage.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	ExposeMessage  bool
	DetailsAllowed bool
}

type trait uint8

const (
	retryable trait = 1 << iota
	exposeMessage
	exposeDetails
)

func describe(status int, public string, traits trait) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      traits&retryable != 0,
		ExposeMessage:  traits&exposeMessage != 0,
		DetailsAllowed: traits&exposeDetails != 0,
	}
}

var catalog = map[Code]Metadata{
	CodeValidation:    describe(http.StatusBadRequest, "validation failed", exposeMessage|exposeDetails),
	CodeUnauthorized:  describe(http.StatusUnauthorized, "authentication required", exposeMessage),
	CodeForbidden:     describe(http.StatusForbidden, "access denied", exposeMessage),
	CodeNotFound:      describe(http.StatusNotFound, "resource not found", exposeMessage),
	CodeConflict:      describe(http.StatusConflict, "conflict detected", exposeMessage),
	CodeInvalidAmount: describe(http.StatusUnprocessableEntity, "invalid amount", exposeMessage|exposeDetails),
	CodeInvalidState:  describe(http.StatusConflict, "operation not allowed in current state", exposeMessage|exposeDetails),
	CodeIdempotency:   describe(http.StatusConflict, "idempotency key reused", exposeMessage|exposeDetails),
	CodeRateLimit:     describe(http.StatusTooManyRequests, "rate limit exceeded", exposeMessage),
	CodeInternal:      describe(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    describe(http.StatusServiceUnavailable, "dependency unavailable", retryable|exposeDetails),
}

// MetadataFor returns the contract for code; unknown codes are internal.
func MetadataFor(code Code) Metadata {
	if meta, ok := catalog[code]; ok {
		return meta
	}
	return catalog[CodeInternal]
}

// PublicMessage is what a client sees for e.
func (e *Error) PublicMessage() string {
	meta := MetadataFor(e.Code())
	if meta.ExposeMessage && e.Message() != "" {
		return e.Message()
	}
	return meta.PublicMessage
}
