package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pgx", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "publish_records_sha256_key"}), want: true},
		{name: "pgx constraint match", err: &pgconn.PgError{Code: "23505", ConstraintName: "publish_records_sha256_key"}, constraint: "publish_records_sha256_key", want: true},
		{name: "pgx other constraint", err: &pgconn.PgError{Code: "23505", ConstraintName: "other_key"}, constraint: "publish_records_sha256_key", want: false},
		{name: "pgx other code", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "pq", err: &pq.Error{Code: "23505", Constraint: "publish_records_sha256_key"}, want: true},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: publish_records.sha256"), constraint: "sha256", want: true},
		{name: "message", err: errors.New(`ERROR: duplicate key value violates unique constraint "x"`), want: true},
		{name: "unrelated", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
			t.Fatalf("%s: expected %v got %v", tt.name, tt.want, got)
		}
	}
}
