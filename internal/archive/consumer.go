// Package archive copies anchor receipts from the output topic into BigQuery.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/akua-anchor/internal/ingest"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/metrics"
)

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// ConsumerParams groups dependencies for the archive consumer.
type ConsumerParams struct {
	Subscription receiver
	Inserter     tableInserter
	Table        string
	Metrics      *metrics.ArchiveMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

// Consumer writes one row per receipt. Malformed receipts are acked so they
// never block the subscription; insert failures are nacked for redelivery.
type Consumer struct {
	subscription receiver
	inserter     tableInserter
	table        string
	metrics      *metrics.ArchiveMetrics
	logg         *logger.Logger
	now          func() time.Time
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Subscription == nil {
		return nil, errors.New("receipt subscription is required")
	}
	if params.Inserter == nil {
		return nil, errors.New("bigquery client required")
	}
	if strings.TrimSpace(params.Table) == "" {
		return nil, errors.New("bigquery table name required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Consumer{
		subscription: params.Subscription,
		inserter:     params.Inserter,
		table:        strings.TrimSpace(params.Table),
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          now,
	}, nil
}

type processResult struct {
	nack bool
}

func (c *Consumer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (c *Consumer) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	row, err := buildRow(msg.Data, c.now())
	if err != nil {
		c.metrics.IncRow(metrics.ArchiveResultMalformed)
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "archive.malformed_receipt")
		return processResult{}
	}
	logCtx = c.logg.WithTxID(c.logg.WithHash(logCtx, row.SHA256), row.TxID)

	saver := &cbigquery.StructSaver{Struct: row, InsertID: row.insertID()}
	if err := c.inserter.InsertRows(ctx, c.table, []any{saver}); err != nil {
		c.metrics.IncRow(metrics.ArchiveResultFailed)
		c.logg.Error(logCtx, "archive.insert_failed", err)
		return processResult{nack: true}
	}

	c.metrics.IncRow(metrics.ArchiveResultInserted)
	c.logg.Info(logCtx, "archive.receipt_stored")
	return processResult{}
}

type receiptRow struct {
	SHA256        string               `bigquery:"sha256"`
	TxID          string               `bigquery:"txid"`
	Network       string               `bigquery:"network"`
	Status        string               `bigquery:"status"`
	Cached        bool                 `bigquery:"cached"`
	SourceID      cbigquery.NullString `bigquery:"source_id"`
	Schema        cbigquery.NullString `bigquery:"schema"`
	CorrelationID cbigquery.NullString `bigquery:"correlation_id"`
	MessageID     cbigquery.NullString `bigquery:"message_id"`
	ReceivedAt    time.Time            `bigquery:"received_at"`
	Canonical     string               `bigquery:"canonical"`
	ArchivedAt    time.Time            `bigquery:"archived_at"`
}

// ReceiptSchema is the table layout rows are written with.
func ReceiptSchema() (cbigquery.Schema, error) {
	return cbigquery.InferSchema(receiptRow{})
}

// insertID lets BigQuery drop redelivered copies of the same receipt.
func (r *receiptRow) insertID() string {
	if r.MessageID.Valid {
		return r.SHA256 + ":" + r.MessageID.StringVal
	}
	return r.SHA256 + ":" + r.TxID
}

func buildRow(data []byte, archivedAt time.Time) (*receiptRow, error) {
	var receipt ingest.Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	if receipt.Version != ingest.ReceiptVersion {
		return nil, fmt.Errorf("unsupported receipt version %q", receipt.Version)
	}
	if strings.TrimSpace(receipt.SHA256) == "" || strings.TrimSpace(receipt.TxID) == "" {
		return nil, errors.New("receipt missing sha256 or txid")
	}

	receivedAt, err := time.Parse(time.RFC3339Nano, receipt.Meta.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("receivedAt: %w", err)
	}

	return &receiptRow{
		SHA256:        receipt.SHA256,
		TxID:          receipt.TxID,
		Network:       receipt.Publisher.Network,
		Status:        receipt.Publisher.Status,
		Cached:        receipt.Publisher.Cached,
		SourceID:      nullString(receipt.Meta.SourceID),
		Schema:        nullString(receipt.Meta.Schema),
		CorrelationID: nullString(receipt.Meta.CorrelationID),
		MessageID:     nullString(receipt.Meta.MessageID),
		ReceivedAt:    receivedAt.UTC(),
		Canonical:     receipt.Canonical,
		ArchivedAt:    archivedAt.UTC(),
	}, nil
}

func nullString(value *string) cbigquery.NullString {
	if value == nil || strings.TrimSpace(*value) == "" {
		return cbigquery.NullString{}
	}
	return cbigquery.NullString{StringVal: *value, Valid: true}
}
