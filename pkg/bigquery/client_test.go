package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/akua-anchor/pkg/config"
)

func TestClientOptions(t *testing.T) {
	both := config.GCPConfig{CredentialsJSON: `{"dummy": "value"}`, ApplicationCredentials: "/tmp/creds"}
	if opts := clientOptions(both); len(opts) != 1 {
		t.Fatalf("expected json credentials only, got %d options", len(opts))
	}
	if opts := clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/creds"}); len(opts) != 1 {
		t.Fatalf("expected file credentials, got %d options", len(opts))
	}
	if opts := clientOptions(config.GCPConfig{}); len(opts) != 0 {
		t.Fatalf("expected ambient credentials, got %d options", len(opts))
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		gcp  config.GCPConfig
		cfg  config.BigQueryConfig
		want error
	}{
		{"project", config.GCPConfig{}, config.BigQueryConfig{Dataset: "akua", ReceiptsTable: "r"}, errProjectIDRequired},
		{"dataset", config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{ReceiptsTable: "r"}, errDatasetRequired},
		{"table", config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{Dataset: "akua", ReceiptsTable: "  "}, errTableNameRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewClient(ctx, tc.gcp, tc.cfg, nil, nil); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTableMetadataPartitionsOnArchivedAt(t *testing.T) {
	schema := bigquery.Schema{{Name: "sha256", Type: bigquery.StringFieldType}, {Name: partitionField, Type: bigquery.TimestampFieldType}}
	meta := tableMetadata(schema)
	if meta.TimePartitioning == nil || meta.TimePartitioning.Field != partitionField || meta.TimePartitioning.Type != bigquery.DayPartitioningType {
		t.Fatalf("unexpected partitioning %+v", meta.TimePartitioning)
	}
	if meta.Clustering == nil || len(meta.Clustering.Fields) != 2 {
		t.Fatalf("unexpected clustering %+v", meta.Clustering)
	}
}

func TestPutErrorNamesFirstRejectedRow(t *testing.T) {
	multi := bigquery.PutMultiError{
		{InsertID: "hash:m-1", RowIndex: 0, Errors: bigquery.MultiError{errors.New("no such field: extra")}},
		{InsertID: "hash:m-2", RowIndex: 1, Errors: bigquery.MultiError{errors.New("invalid timestamp")}},
	}
	err := putError(multi)
	if err == nil || !strings.Contains(err.Error(), `2 row(s)`) || !strings.Contains(err.Error(), `"hash:m-1"`) {
		t.Fatalf("unexpected error %v", err)
	}

	plain := fmt.Errorf("transport: %w", errors.New("reset"))
	if got := putError(plain); got != plain {
		t.Fatalf("expected non-row errors untouched, got %v", got)
	}
	if putError(nil) != nil {
		t.Fatal("expected nil to stay nil")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusNotFound})) {
		t.Fatal("expected wrapped 404 to be not found")
	}
	if isNotFound(&googleapi.Error{Code: http.StatusForbidden}) || isNotFound(errors.New("x")) {
		t.Fatal("unexpected not found")
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if err := c.InsertRows(context.Background(), "t", []any{1}); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected not initialized ping error, got %v", err)
	}
	if c.ReceiptsTable() != "" || c.Close() != nil {
		t.Fatal("unexpected nil client behavior")
	}
}
