package ingest

import (
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/akua-anchor/pkg/errors"
)

const regressionHash = "0952cb262572882a17ab8010251ba9079749648d08ff75b2e9d8bb1339add8c5"

var receivedAt = time.Date(2026, 1, 28, 0, 0, 1, 0, time.UTC)

func TestAttempts(t *testing.T) {
	cases := map[string]int{"": 1, "0": 1, "2": 3, "4": 5, "nope": 1, "-3": 1}
	for raw, want := range cases {
		attrs := map[string]string{}
		if raw != "" {
			attrs[AttrAttempts] = raw
		}
		if got := Attempts(attrs); got != want {
			t.Fatalf("Attempts(%q) = %d want %d", raw, got, want)
		}
	}
}

func TestParseEnvelopeRawPayload(t *testing.T) {
	body := []byte(`{"ts":"2026-01-28T00:00:00Z","tempC":22.4,"deviceId":"AKUA-TEST-001"}`)
	env, err := ParseEnvelope("broker-1", body, map[string]string{AttrCorrelationID: "corr-9"}, receivedAt)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.SHA256 != regressionHash {
		t.Fatalf("unexpected hash %s", env.SHA256)
	}
	if env.Canonical != `{"deviceId":"AKUA-TEST-001","tempC":22.4,"ts":"2026-01-28T00:00:00Z"}` {
		t.Fatalf("unexpected canonical %s", env.Canonical)
	}
	if env.MessageID != "broker-1" || env.CorrelationID != "corr-9" || env.Attempts != 1 {
		t.Fatalf("unexpected envelope identity %+v", env)
	}

	meta := env.Meta()
	if meta.SourceID != nil || meta.Schema != nil {
		t.Fatalf("expected null sourceId and schema, got %+v", meta)
	}
	if meta.ReceivedAt != "2026-01-28T00:00:01.000Z" || *meta.MessageID != "broker-1" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestMetaReceivedAtHasMillisecondPrecision(t *testing.T) {
	at := time.Date(2026, 1, 28, 9, 30, 5, 123456789, time.FixedZone("CET", 3600))
	env, err := ParseEnvelope("m", []byte(`{"deviceId":"D1"}`), nil, at)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if got := env.Meta().ReceivedAt; got != "2026-01-28T08:30:05.123Z" {
		t.Fatalf("unexpected receivedAt %q", got)
	}
}

func TestParseEnvelopeWrappedPayload(t *testing.T) {
	body := []byte(`{"sourceId":"gw-7","schema":"telemetry.v1","data":{"tempC":22.4,"deviceId":"AKUA-TEST-001","ts":"2026-01-28T00:00:00Z"}}`)
	env, err := ParseEnvelope("broker-2", body, map[string]string{AttrMessageID: "msg-1", AttrAttempts: "2"}, receivedAt)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.SHA256 != regressionHash {
		t.Fatalf("wrapper fields must not change the hash, got %s", env.SHA256)
	}
	if env.MessageID != "msg-1" || env.Attempts != 3 {
		t.Fatalf("unexpected identity %+v", env)
	}
	meta := env.Meta()
	if *meta.SourceID != "gw-7" || *meta.Schema != "telemetry.v1" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestParseEnvelopeScalarDataIsHashedWhole(t *testing.T) {
	env, err := ParseEnvelope("m", []byte(`{"data":"text","deviceId":"D1"}`), nil, receivedAt)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Canonical != `{"data":"text","deviceId":"D1"}` {
		t.Fatalf("unexpected canonical %s", env.Canonical)
	}
}

func TestParseEnvelopeRejectsNonObjects(t *testing.T) {
	bodies := []string{
		`not json`,
		`[1,2,3]`,
		`"string"`,
		`42`,
		`null`,
		`{"data":[1,2]}`,
	}
	for _, body := range bodies {
		env, err := ParseEnvelope("m", []byte(body), map[string]string{AttrAttempts: "1"}, receivedAt)
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("%s: expected validation error, got %v", body, err)
		}
		if pkgerrors.IsRetryable(err) {
			t.Fatalf("%s: validation errors must not be retryable", body)
		}
		if env == nil || env.Attempts != 2 || env.MessageID != "m" {
			t.Fatalf("%s: expected identity on failure, got %+v", body, env)
		}
	}
}
