package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

type rowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryArchive appends reconciliation results to a BigQuery table.
type BigQueryArchive struct {
	client rowInserter
	table  string
}

func NewBigQueryArchive(client rowInserter, table string) (*BigQueryArchive, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, fmt.Errorf("reconciliation table required")
	}
	return &BigQueryArchive{client: client, table: table}, nil
}

func (a *BigQueryArchive) Save(ctx context.Context, result Result) error {
	row, err := newArchiveRow(result)
	if err != nil {
		return err
	}
	if err := a.client.InsertRows(ctx, a.table, []any{row}); err != nil {
		return fmt.Errorf("insert reconciliation %s: %w", result.ID, err)
	}
	return nil
}

// archiveRow is the stored shape of a Result. Money is written as strings so
// NUMERIC columns keep exact cents.
type archiveRow struct {
	ID               string
	BusinessDate     civil.Date
	Status           string
	ExpectedAmount   string
	ActualAmount     string
	SystemTotal      string
	ExpectedVariance string
	SystemVariance   string
	PaymentCount     int
	ByMethod         string
	ReconciledBy     bigquery.NullInt64
	ReconciledAt     time.Time
}

func newArchiveRow(result Result) (*archiveRow, error) {
	date, err := civil.ParseDate(result.Date)
	if err != nil {
		return nil, fmt.Errorf("parse business date %q: %w", result.Date, err)
	}
	byMethod, err := json.Marshal(result.ByMethod)
	if err != nil {
		return nil, fmt.Errorf("encode method totals: %w", err)
	}
	row := &archiveRow{
		ID:               result.ID,
		BusinessDate:     date,
		Status:           string(result.Status),
		ExpectedAmount:   result.ExpectedAmount.StringFixed(2),
		ActualAmount:     result.ActualAmount.StringFixed(2),
		SystemTotal:      result.SystemTotal.StringFixed(2),
		ExpectedVariance: result.VsExpected.Variance.StringFixed(2),
		SystemVariance:   result.VsSystem.Variance.StringFixed(2),
		PaymentCount:     result.PaymentCount,
		ByMethod:         string(byMethod),
		ReconciledAt:     result.ReconciledAt,
	}
	if result.ReconciledBy != nil {
		row.ReconciledBy = bigquery.NullInt64{Int64: int64(*result.ReconciledBy), Valid: true}
	}
	return row, nil
}

// Save implements bigquery.ValueSaver. The result id doubles as the insert
// id so retried inserts are deduplicated.
func (r *archiveRow) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"reconciliation_id": r.ID,
		"business_date":     r.BusinessDate,
		"status":            r.Status,
		"expected_amount":   r.ExpectedAmount,
		"actual_amount":     r.ActualAmount,
		"system_total":      r.SystemTotal,
		"expected_variance": r.ExpectedVariance,
		"system_variance":   r.SystemVariance,
		"payment_count":     r.PaymentCount,
		"by_method":         r.ByMethod,
		"reconciled_by":     r.ReconciledBy,
		"reconciled_at":     r.ReconciledAt,
	}, r.ID, nil
}
