// Package bigquery wraps the receipt archive table.
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
	"google.golang.org/api/option"

	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
)

const (
	metadataTimeout = 10 * time.Second
	partitionField  = "archived_at"
)

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// Client is bound to one dataset and the receipts table inside it.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	table   string
}

// NewClient connects and checks that the receipts table is reachable. When
// cfg.CreateTable is set and schema is non-nil a missing table is created,
// day-partitioned on archived_at. The dataset itself must already exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, schema bigquery.Schema, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	table := strings.TrimSpace(cfg.ReceiptsTable)
	if table == "" {
		return nil, errTableNameRequired
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	client := &Client{client: bqClient, dataset: bqClient.Dataset(datasetID), table: table}

	if !cfg.CreateTable {
		schema = nil
	}
	created, err := client.ensureTable(ctx, schema)
	if err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset":       datasetID,
			"table":         table,
			"table_created": created,
		}), "bigquery client initialized")
	}
	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// ReceiptsTable returns the table rows are written to.
func (c *Client) ReceiptsTable() string {
	if c == nil {
		return ""
	}
	return c.table
}

func (c *Client) ensureTable(ctx context.Context, schema bigquery.Schema) (bool, error) {
	if c == nil || c.dataset == nil {
		return false, errClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return false, fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return false, fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}

	ref := c.dataset.Table(c.table)
	_, err := ref.Metadata(ctx)
	switch {
	case err == nil:
		return false, nil
	case !isNotFound(err):
		return false, fmt.Errorf("checking table %q: %w", c.table, err)
	case schema == nil:
		return false, fmt.Errorf("table %q does not exist", c.table)
	}

	if err := ref.Create(ctx, tableMetadata(schema)); err != nil {
		return false, fmt.Errorf("creating table %q: %w", c.table, err)
	}
	return true, nil
}

func tableMetadata(schema bigquery.Schema) *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: partitionField,
		},
		Clustering: &bigquery.Clustering{Fields: []string{"network", "sha256"}},
	}
}

// Ping checks the dataset and table are still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errClientNotInitialized
	}
	_, err := c.ensureTable(ctx, nil)
	return err
}

// InsertRows streams rows into table. Row-level rejections are folded into a
// single error naming the first failing insert id.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return putError(c.dataset.Table(table).Inserter().Put(ctx, rows))
}

func putError(err error) error {
	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) || len(multi) == 0 {
		return err
	}
	first := multi[0]
	return fmt.Errorf("bigquery rejected %d row(s), first insert id %q: %w", len(multi), first.InsertID, first.Errors)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
