package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Publish results.
const (
	PublishResultCached   = "cached"
	PublishResultAnchored = "anchored"
	PublishResultRaced    = "raced"
	PublishResultError    = "error"
)

// PublishMetrics records publish coordinator and funding wallet activity.
type PublishMetrics struct {
	requests   *prometheus.CounterVec
	anchor     prometheus.Histogram
	balance    prometheus.Gauge
	lowBalance prometheus.Counter
}

// NewPublishMetrics registers the publish metrics on the provided registerer.
func NewPublishMetrics(reg prometheus.Registerer) *PublishMetrics {
	if reg == nil {
		return &PublishMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_requests_total",
		Help: "Publish requests by result.",
	}, []string{"result"})
	anchor := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "anchor_duration_seconds",
		Help:    "Time spent building and broadcasting anchor transactions.",
		Buckets: prometheus.DefBuckets,
	})
	balance := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_balance_sats",
		Help: "Spendable funding balance known to the publisher, in satoshis.",
	})
	lowBalance := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_low_balance_total",
		Help: "Times the funding balance was observed below the configured minimum.",
	})
	reg.MustRegister(requests, anchor, balance, lowBalance)
	return &PublishMetrics{
		requests:   requests,
		anchor:     anchor,
		balance:    balance,
		lowBalance: lowBalance,
	}
}

// IncRequest counts a publish request outcome.
func (m *PublishMetrics) IncRequest(result string) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *PublishMetrics) ObserveAnchor(duration time.Duration) {
	if m == nil || m.anchor == nil {
		return
	}
	m.anchor.Observe(duration.Seconds())
}

// SetBalance records the funding balance and counts a low-balance observation
// when it falls below min. It reports whether the balance is low.
func (m *PublishMetrics) SetBalance(sats, min int64) bool {
	low := min > 0 && sats < min
	if m == nil {
		return low
	}
	if m.balance != nil {
		m.balance.Set(float64(sats))
	}
	if low && m.lowBalance != nil {
		m.lowBalance.Inc()
	}
	return low
}
