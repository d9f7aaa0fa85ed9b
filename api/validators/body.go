package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

// MaxBodyBytes caps request bodies read by DecodeJSONBody.
const MaxBodyBytes = 64 << 10

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	v.RegisterCustomTypeFunc(decimalAsFloat, decimal.Decimal{})
	return v
}()

// jsonFieldName reports fields under their wire names.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// decimalAsFloat lets numeric tags (gt, gte, max) apply to money amounts.
func decimalAsFloat(field reflect.Value) any {
	d, ok := field.Interface().(decimal.Decimal)
	if !ok {
		return nil
	}
	f, _ := d.Float64()
	return f
}

// DecodeJSONBody strictly decodes a single JSON object into dest and runs its
// validate tags. Unknown fields, trailing data and oversized bodies are
// rejected as validation errors.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := io.LimitReader(r.Body, MaxBodyBytes+1)
	defer io.Copy(io.Discard, body) //nolint:errcheck

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return malformedBody(err)
	}
	if dec.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must contain a single JSON object")
	}
	if err := validate.Struct(dest); err != nil {
		return fieldErrors(err)
	}
	return nil
}

func malformedBody(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	msg := "invalid request body"
	switch {
	case errors.Is(err, io.EOF):
		msg = "request body is empty"
	case errors.Is(err, io.ErrUnexpectedEOF):
		msg = "request body is truncated or too large"
	case errors.As(err, &syntaxErr):
		msg = fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		msg = fmt.Sprintf("field %s has the wrong type", typeErr.Field)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg).
		WithDetails(map[string]any{"error": err.Error()})
}

var tagMessages = map[string]string{
	"required": "is required",
	"min":      "must be at least %s",
	"max":      "must be at most %s",
	"gt":       "must be greater than %s",
	"gte":      "must be at least %s",
	"lte":      "must be at most %s",
	"oneof":    "must be one of [%s]",
	"unique":   "must contain distinct values",
	"email":    "must be a valid email",
	"url":      "must be a valid url",
}

// fieldErrors maps validator failures to {"field": "message"} details.
func fieldErrors(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg, ok := tagMessages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		if strings.Contains(msg, "%s") {
			msg = fmt.Sprintf(msg, fe.Param())
		}
		details[fe.Field()] = msg
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}
