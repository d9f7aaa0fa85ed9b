package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

const dateLayout = "2006-01-02"

func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be numeric").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryUint64 reads a required positive id from the query string.
func ParseQueryUint64(r *http.Request, key string) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter required").WithDetails(map[string]any{"field": key})
	}
	return parseID(raw, key)
}

// ParseQueryDate reads a required YYYY-MM-DD date, interpreted as midnight
// in loc.
func ParseQueryDate(r *http.Request, key string, loc *time.Location) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "query parameter required").WithDetails(map[string]any{"field": key})
	}
	return ParseDate(raw, key, loc)
}

// ParseDate parses a YYYY-MM-DD value in loc; UTC when loc is nil.
func ParseDate(raw, field string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	value, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "date must be YYYY-MM-DD").WithDetails(map[string]any{"field": field})
	}
	return value, nil
}

// ParseQueryDecimal reads an optional decimal amount, returning defaultVal
// when absent.
func ParseQueryDecimal(r *http.Request, key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be a decimal amount").WithDetails(map[string]any{"field": key})
	}
	return value, nil
}

// ParsePathUint64 reads a positive id from a chi URL parameter.
func ParsePathUint64(r *http.Request, key string) (uint64, error) {
	return parseID(chi.URLParam(r, key), key)
}

func parseID(raw, field string) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || value == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "id must be a positive integer").WithDetails(map[string]any{"field": field})
	}
	return value, nil
}
