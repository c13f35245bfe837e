package enums

// DeadLetterReason classifies why an envelope was moved to the dead-letter topic.
type DeadLetterReason string

const (
	DeadLetterReasonMaxAttempts  DeadLetterReason = "max_attempts"
	DeadLetterReasonNonRetryable DeadLetterReason = "non_retryable"
)

var validDeadLetterReasons = []DeadLetterReason{
	DeadLetterReasonMaxAttempts,
	DeadLetterReasonNonRetryable,
}

func (r DeadLetterReason) IsValid() bool {
	for _, candidate := range validDeadLetterReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
