package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnosis is the log-side view of an error. None of it reaches HTTP clients.
type Diagnosis struct {
	Message   string
	Code      Code
	Retryable bool
	Chain     []string

	// Postgres details when a driver error is in the chain.
	PGCode       string
	PGConstraint string
	PGTable      string
	PGMessage    string

	// UpstreamStatus is set when a chain or broker client reported an HTTP status.
	UpstreamStatus int
}

type statusCoder interface {
	error
	HTTPStatus() int
}

// Diagnose walks err and collects what is worth logging about it.
func Diagnose(err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}

	d := Diagnosis{Message: err.Error(), Retryable: IsRetryable(err)}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGMessage = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Message
	case errors.As(err, &pqErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGMessage = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Message
	}

	var status statusCoder
	if errors.As(err, &status) {
		d.UpstreamStatus = status.HTTPStatus()
	}
	return d
}

// Fields flattens the diagnosis for logger.WithFields, skipping empty parts.
func (d Diagnosis) Fields() map[string]any {
	fields := map[string]any{
		"error":           d.Message,
		"error_retryable": d.Retryable,
		"error_chain":     d.Chain,
	}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if d.PGCode != "" {
		fields["pg_code"] = d.PGCode
		fields["pg_constraint"] = d.PGConstraint
		fields["pg_table"] = d.PGTable
		fields["pg_message"] = d.PGMessage
	}
	if d.UpstreamStatus != 0 {
		fields["upstream_status"] = d.UpstreamStatus
	}
	return fields
}
