package ingest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/akua-anchor/pkg/canonical"
	pkgerrors "github.com/angelmondragon/akua-anchor/pkg/errors"
)

// Broker attributes carried on input, retry and dead-letter messages.
const (
	AttrAttempts      = "x-attempts"
	AttrError         = "x-error"
	AttrFailedAt      = "x-failed-at"
	AttrReason        = "x-dead-letter-reason"
	AttrCorrelationID = "correlation_id"
	AttrMessageID     = "message_id"
	AttrSHA256        = "sha256"
)

// TimestampLayout is UTC with millisecond precision, the shape of
// JavaScript's Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope is one input message after decoding and hashing.
type Envelope struct {
	MessageID     string
	CorrelationID string
	Attempts      int
	ReceivedAt    time.Time

	// Payload is the object that gets anchored: the body's data member
	// when present, otherwise the whole body.
	Payload   map[string]any
	SourceID  string
	Schema    string
	Canonical string
	SHA256    string
}

// Attempts returns the delivery number of a message: the x-attempts header
// plus one, or 1 when the header is absent or unreadable.
func Attempts(attrs map[string]string) int {
	raw := strings.TrimSpace(attrs[AttrAttempts])
	if raw == "" {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 1
	}
	return n + 1
}

// ParseEnvelope validates and hashes a raw input body. Every failure is a
// CodeValidation error, which is never retried.
func ParseEnvelope(brokerID string, body []byte, attrs map[string]string, receivedAt time.Time) (*Envelope, error) {
	env := &Envelope{
		MessageID:     firstNonEmpty(attrs[AttrMessageID], brokerID),
		CorrelationID: strings.TrimSpace(attrs[AttrCorrelationID]),
		Attempts:      Attempts(attrs),
		ReceivedAt:    receivedAt.UTC(),
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return env, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "message body is not valid JSON")
	}

	root, ok := decoded.(map[string]any)
	if !ok {
		return env, pkgerrors.New(pkgerrors.CodeValidation, "payload must be a JSON object")
	}

	payload := any(root)
	if data, ok := root["data"]; ok {
		switch data.(type) {
		case map[string]any, []any:
			payload = data
		}
	}
	object, ok := payload.(map[string]any)
	if !ok {
		return env, pkgerrors.New(pkgerrors.CodeValidation, "payload must be a JSON object")
	}

	env.Payload = object
	env.SourceID = stringMember(root, "sourceId")
	env.Schema = stringMember(root, "schema")

	canonicalJSON, err := canonical.CanonicalJSON(object)
	if err != nil {
		return env, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload cannot be canonicalized")
	}
	env.Canonical = canonicalJSON
	env.SHA256 = canonical.HashCanonical(canonicalJSON)
	return env, nil
}

// Meta is the metadata forwarded to the publisher and echoed in receipts.
// Absent values are serialized as null.
type Meta struct {
	SourceID      *string `json:"sourceId"`
	ReceivedAt    string  `json:"receivedAt"`
	CorrelationID *string `json:"correlationId"`
	MessageID     *string `json:"messageId"`
	Schema        *string `json:"schema"`
}

func (e *Envelope) Meta() Meta {
	return Meta{
		SourceID:      optional(e.SourceID),
		ReceivedAt:    e.ReceivedAt.UTC().Format(TimestampLayout),
		CorrelationID: optional(e.CorrelationID),
		MessageID:     optional(e.MessageID),
		Schema:        optional(e.Schema),
	}
}

func stringMember(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
