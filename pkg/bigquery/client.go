// Package bigquery writes reconciliation results to the analytics warehouse.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/gcpauth"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

const (
	metadataTimeout = 10 * time.Second
	insertTimeout   = 30 * time.Second
)

var (
	errDatasetRequired = errors.New("bigquery dataset is required")
	errTableRequired   = errors.New("bigquery table name is required")
	errNotInitialized  = errors.New("bigquery client not initialized")
)

// Client streams rows into tables of a single dataset.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	tables  []string
}

// NewClient connects and verifies the dataset and the reconciliation table.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project, opts, err := gcpauth.Resolve(gcp)
	if err != nil {
		return nil, err
	}
	dataset := strings.TrimSpace(cfg.Dataset)
	if dataset == "" {
		return nil, errDatasetRequired
	}
	table := strings.TrimSpace(cfg.ReconciliationTable)
	if table == "" {
		return nil, errTableRequired
	}

	bq, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	c := &Client{client: bq, dataset: bq.Dataset(dataset), tables: []string{table}}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": dataset, "tables": c.tables}), "bigquery connected")
	}
	return c, nil
}

// Ping checks the dataset and every known table exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return missing("dataset", c.dataset.DatasetID, err)
	}
	for _, name := range c.tables {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return missing("table", name, err)
		}
	}
	return nil
}

// InsertRows streams rows into table. Rows implementing bigquery.ValueSaver
// supply their own insert ids.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableRequired
	}
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()
	if err := c.dataset.Table(table).Inserter().Put(ctx, rows); err != nil {
		return describePutError(table, err)
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func missing(kind, name string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// describePutError flattens per-row insert failures into one error that
// names the first rejected row.
func describePutError(table string, err error) error {
	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) || len(multi) == 0 {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	first := multi[0]
	return fmt.Errorf("insert into %s: %d row(s) rejected, row %d: %w", table, len(multi), first.RowIndex, first.Errors)
}
