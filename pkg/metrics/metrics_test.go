package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPublishMetricsExportsCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPublishMetrics(reg)
	m.IncRequest(PublishResultAnchored)
	m.IncRequest(PublishResultCached)
	m.IncRequest(PublishResultCached)
	m.ObserveAnchor(150 * time.Millisecond)

	if low := m.SetBalance(500, 1_000); !low {
		t.Fatal("expected low balance")
	}
	if low := m.SetBalance(2_000, 1_000); low {
		t.Fatal("expected healthy balance")
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "publish_requests_total", "result", PublishResultCached); err != nil || got != 2 {
		t.Fatalf("expected cached=2, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "publish_requests_total", "result", PublishResultAnchored); err != nil || got != 1 {
		t.Fatalf("expected anchored=1, got %f err=%v", got, err)
	}
	if mf := findMetricFamily(mfs, "wallet_low_balance_total"); mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatal("expected one low balance observation")
	}
	if mf := findMetricFamily(mfs, "wallet_balance_sats"); mf == nil || mf.GetMetric()[0].GetGauge().GetValue() != 2_000 {
		t.Fatal("expected balance gauge at 2000")
	}
	if mf := findMetricFamily(mfs, "anchor_duration_seconds"); mf == nil || mf.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatal("expected one anchor duration sample")
	}
}

func TestIngestMetricsLabelsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIngestMetrics(reg)
	m.Observe("retried", 10*time.Millisecond)
	m.Observe("", time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "ingest_messages_total", "outcome", "retried"); err != nil || got != 1 {
		t.Fatalf("expected retried=1, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "ingest_messages_total", "outcome", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected unknown=1, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "ingest_processing_seconds"); err != nil || got <= 0 {
		t.Fatalf("expected processing sum > 0, got %f err=%v", got, err)
	}
}

func TestArchiveMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewArchiveMetrics(reg)
	m.IncRow(ArchiveResultInserted)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "archive_rows_total", "result", ArchiveResultInserted); err != nil || got != 1 {
		t.Fatalf("expected inserted=1, got %f err=%v", got, err)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var p *PublishMetrics
	p.IncRequest(PublishResultError)
	p.ObserveAnchor(time.Second)
	if !p.SetBalance(1, 2) {
		t.Fatal("nil metrics should still report low balance")
	}
	var i *IngestMetrics
	i.Observe("acked", time.Second)
	var a *ArchiveMetrics
	a.IncRow(ArchiveResultFailed)

	NewPublishMetrics(nil).IncRequest(PublishResultCached)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0, fmt.Errorf("histogram %q not found", name)
	}
	return mf.GetMetric()[0].GetHistogram().GetSampleSum(), nil
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
