package metrics

import "github.com/prometheus/client_golang/prometheus"

// Archive row results.
const (
	ArchiveResultInserted  = "inserted"
	ArchiveResultMalformed = "malformed"
	ArchiveResultFailed    = "failed"
)

// ArchiveMetrics counts receipt rows written to the archive.
type ArchiveMetrics struct {
	rows *prometheus.CounterVec
}

func NewArchiveMetrics(reg prometheus.Registerer) *ArchiveMetrics {
	if reg == nil {
		return &ArchiveMetrics{}
	}
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_rows_total",
		Help: "Archived receipt rows by result.",
	}, []string{"result"})
	reg.MustRegister(rows)
	return &ArchiveMetrics{rows: rows}
}

func (m *ArchiveMetrics) IncRow(result string) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(result)).Inc()
}
