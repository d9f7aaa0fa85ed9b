package square

import (
	"encoding/json"
	"errors"
	"net/http"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

var categoryCodes = map[sq.ErrorCategory]pkgerrors.Code{
	sq.ErrorCategoryAuthenticationError: pkgerrors.CodeUnauthorized,
	sq.ErrorCategoryInvalidRequestError: pkgerrors.CodeValidation,
	sq.ErrorCategoryRateLimitError:      pkgerrors.CodeRateLimit,
	sq.ErrorCategoryPaymentMethodError:  pkgerrors.CodeInvalidState,
	sq.ErrorCategoryRefundError:         pkgerrors.CodeInvalidState,
}

var statusCodes = map[int]pkgerrors.Code{
	http.StatusBadRequest:          pkgerrors.CodeValidation,
	http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
	http.StatusForbidden:           pkgerrors.CodeForbidden,
	http.StatusNotFound:            pkgerrors.CodeNotFound,
	http.StatusConflict:            pkgerrors.CodeConflict,
	http.StatusUnprocessableEntity: pkgerrors.CodeInvalidState,
	http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
}

// mapError translates an SDK failure into a domain error. Square's own error
// list decides the code when present; the HTTP status is the fallback.
func mapError(err error, op string) error {
	msg := "square " + op + " failed"
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}

	code, ok := statusCodes[apiErr.StatusCode]
	if !ok {
		code = pkgerrors.CodeDependency
	}
	for _, e := range apiErrors(apiErr) {
		if e.Code == sq.ErrorCodeIdempotencyKeyReused {
			code = pkgerrors.CodeIdempotency
			break
		}
		if c, ok := categoryCodes[e.Category]; ok {
			code = c
			break
		}
	}
	return pkgerrors.Wrap(code, err, msg)
}

// apiErrors decodes the errors array Square returns in the response body.
func apiErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(inner.Error()), &body); err != nil {
		return nil
	}
	out := body.Errors[:0]
	for _, e := range body.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
