package bigquery

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/gcpauth"
)

func TestNewClientValidatesConfigBeforeDialing(t *testing.T) {
	ctx := context.Background()
	gcp := config.GCPConfig{ProjectID: "gridpay-prod"}

	_, err := NewClient(ctx, config.GCPConfig{}, config.BigQueryConfig{Dataset: "d", ReconciliationTable: "t"}, nil)
	assert.ErrorIs(t, err, gcpauth.ErrProjectIDRequired)

	_, err = NewClient(ctx, gcp, config.BigQueryConfig{Dataset: " ", ReconciliationTable: "t"}, nil)
	assert.ErrorIs(t, err, errDatasetRequired)

	_, err = NewClient(ctx, gcp, config.BigQueryConfig{Dataset: "gridpay"}, nil)
	assert.ErrorIs(t, err, errTableRequired)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	ctx := context.Background()
	assert.ErrorIs(t, c.Ping(ctx), errNotInitialized)
	assert.ErrorIs(t, c.InsertRows(ctx, "t", []any{1}), errNotInitialized)
	assert.NoError(t, c.Close())
}

func TestMissingDistinguishesNotFound(t *testing.T) {
	notFound := &googleapi.Error{Code: http.StatusNotFound}
	assert.EqualError(t, missing("table", "reconciliation_results", notFound), `table "reconciliation_results" does not exist`)

	denied := &googleapi.Error{Code: http.StatusForbidden, Message: "denied"}
	err := missing("dataset", "gridpay", denied)
	assert.ErrorIs(t, err, denied)
}

func TestDescribePutError(t *testing.T) {
	plain := errors.New("deadline exceeded")
	assert.ErrorIs(t, describePutError("t", plain), plain)

	multi := bigquery.PutMultiError{
		{RowIndex: 2, Errors: bigquery.MultiError{errors.New("no such field: foo")}},
		{RowIndex: 5, Errors: bigquery.MultiError{errors.New("no such field: bar")}},
	}
	err := describePutError("reconciliation_results", multi)
	assert.Contains(t, err.Error(), "2 row(s) rejected, row 2")
	assert.Contains(t, err.Error(), "no such field: foo")
}
