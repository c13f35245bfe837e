package enums

import "fmt"

// PublishStatus is the lifecycle state recorded for an anchored hash.
type PublishStatus string

const (
	PublishStatusBroadcasted PublishStatus = "broadcasted"
)

var validPublishStatuses = []PublishStatus{
	PublishStatusBroadcasted,
}

// IsValid reports whether the value is a known publish status.
func (s PublishStatus) IsValid() bool {
	for _, candidate := range validPublishStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePublishStatus converts raw input into PublishStatus.
func ParsePublishStatus(value string) (PublishStatus, error) {
	for _, candidate := range validPublishStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid publish status %q", value)
}
