package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics records ingestion pipeline outcomes.
type IngestMetrics struct {
	messages   *prometheus.CounterVec
	processing prometheus.Histogram
}

func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	if reg == nil {
		return &IngestMetrics{}
	}
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_messages_total",
		Help: "Ingested messages by outcome.",
	}, []string{"outcome"})
	processing := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_processing_seconds",
		Help:    "Time spent processing one input message.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(messages, processing)
	return &IngestMetrics{messages: messages, processing: processing}
}

// Observe records the outcome and processing time of one message.
func (m *IngestMetrics) Observe(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if m.messages != nil {
		m.messages.WithLabelValues(normalizeLabel(outcome)).Inc()
	}
	if m.processing != nil {
		m.processing.Observe(duration.Seconds())
	}
}
