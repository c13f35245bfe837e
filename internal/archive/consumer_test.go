package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/akua-anchor/internal/ingest"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/metrics"
)

var archivedAt = time.Date(2026, 1, 28, 1, 0, 0, 0, time.UTC)

type stubInserter struct {
	table string
	rows  []any
	err   error
}

func (s *stubInserter) InsertRows(_ context.Context, table string, rows []any) error {
	s.table = table
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, rows...)
	return nil
}

type noopReceiver struct{}

func (noopReceiver) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return nil
}

func newTestConsumer(t *testing.T, inserter *stubInserter) *Consumer {
	t.Helper()
	consumer, err := NewConsumer(ConsumerParams{
		Subscription: noopReceiver{},
		Inserter:     inserter,
		Table:        "anchor_receipts",
		Metrics:      metrics.NewArchiveMetrics(prometheus.NewRegistry()),
		Logger:       logger.New(logger.Options{ServiceName: "archive-test", Output: io.Discard}),
		Now:          func() time.Time { return archivedAt },
	})
	require.NoError(t, err)
	return consumer
}

func receiptMessage(t *testing.T) *gcppubsub.Message {
	t.Helper()
	env, err := ingest.ParseEnvelope("msg-1", []byte(`{"sourceId":"gw-1","data":{"deviceId":"D1","tempC":21}}`), map[string]string{ingest.AttrCorrelationID: "corr-1"}, archivedAt.Add(-time.Hour))
	require.NoError(t, err)
	receipt := ingest.NewReceipt(env, &ingest.PublishResponse{TxID: "tx-1", Network: "testnet", Status: "broadcasted", Cached: true})
	data, err := json.Marshal(receipt)
	require.NoError(t, err)
	return &gcppubsub.Message{ID: "out-1", Data: data, Attributes: receipt.Attributes()}
}

func TestProcessInsertsReceiptRow(t *testing.T) {
	inserter := &stubInserter{}
	consumer := newTestConsumer(t, inserter)

	res := consumer.process(context.Background(), receiptMessage(t))
	require.False(t, res.nack)
	require.Len(t, inserter.rows, 1)
	assert.Equal(t, "anchor_receipts", inserter.table)

	saver, ok := inserter.rows[0].(*cbigquery.StructSaver)
	require.True(t, ok)
	row := saver.Struct.(*receiptRow)
	assert.Equal(t, "tx-1", row.TxID)
	assert.True(t, row.Cached)
	assert.Equal(t, cbigquery.NullString{StringVal: "gw-1", Valid: true}, row.SourceID)
	assert.Equal(t, cbigquery.NullString{StringVal: "corr-1", Valid: true}, row.CorrelationID)
	assert.False(t, row.Schema.Valid)
	assert.Equal(t, `{"deviceId":"D1","tempC":21}`, row.Canonical)
	assert.Equal(t, archivedAt.Add(-time.Hour), row.ReceivedAt)
	assert.Equal(t, archivedAt, row.ArchivedAt)
	assert.Equal(t, row.SHA256+":msg-1", saver.InsertID)
}

func TestProcessAcksMalformedReceipts(t *testing.T) {
	inserter := &stubInserter{}
	consumer := newTestConsumer(t, inserter)

	for _, body := range []string{`nope`, `{"version":"2","sha256":"a","txid":"b"}`, `{"version":"1","sha256":"","txid":"b"}`} {
		res := consumer.process(context.Background(), &gcppubsub.Message{ID: "m", Data: []byte(body)})
		assert.False(t, res.nack, body)
	}
	assert.Empty(t, inserter.rows)
}

func TestProcessNacksInsertFailures(t *testing.T) {
	inserter := &stubInserter{err: errors.New("quota exceeded")}
	consumer := newTestConsumer(t, inserter)

	res := consumer.process(context.Background(), receiptMessage(t))
	assert.True(t, res.nack)
}

func TestNewConsumerValidation(t *testing.T) {
	_, err := NewConsumer(ConsumerParams{Subscription: noopReceiver{}, Inserter: &stubInserter{}, Table: " ", Logger: logger.New(logger.Options{Output: io.Discard})})
	assert.Error(t, err)
	_, err = NewConsumer(ConsumerParams{Inserter: &stubInserter{}, Table: "t", Logger: logger.New(logger.Options{Output: io.Discard})})
	assert.Error(t, err)
}

func TestReceiptSchemaMatchesRowTags(t *testing.T) {
	schema, err := ReceiptSchema()
	require.NoError(t, err)

	fields := map[string]*cbigquery.FieldSchema{}
	for _, f := range schema {
		fields[f.Name] = f
	}
	require.Contains(t, fields, "archived_at")
	assert.Equal(t, cbigquery.TimestampFieldType, fields["archived_at"].Type)
	assert.True(t, fields["sha256"].Required)
	assert.False(t, fields["correlation_id"].Required)
	assert.Len(t, schema, 12)
}
