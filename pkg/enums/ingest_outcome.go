package enums

// IngestOutcome is the terminal handling of one input envelope.
type IngestOutcome string

const (
	IngestOutcomeAcked        IngestOutcome = "acked"
	IngestOutcomeRetried      IngestOutcome = "retried"
	IngestOutcomeDeadLettered IngestOutcome = "dead_lettered"
	IngestOutcomeNacked       IngestOutcome = "nacked"
)

var validIngestOutcomes = []IngestOutcome{
	IngestOutcomeAcked,
	IngestOutcomeRetried,
	IngestOutcomeDeadLettered,
	IngestOutcomeNacked,
}

func (o IngestOutcome) IsValid() bool {
	for _, candidate := range validIngestOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}
