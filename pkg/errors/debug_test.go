package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpNil(t *testing.T) {
	if d := Dump(nil); d.TopMessage != "" || len(d.Chain) != 0 {
		t.Fatalf("expected empty dump, got %+v", d)
	}
}

func TestDumpExtractsPgxDetails(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "40001",
		Message:        "could not serialize access",
		TableName:      "sub_orders",
		ConstraintName: "",
	}
	err := Wrap(CodeDependency, fmt.Errorf("update sub order: %w", pgErr), "capture failed")

	d := Dump(err)
	if d.Code != CodeDependency {
		t.Fatalf("expected code %s, got %s", CodeDependency, d.Code)
	}
	if d.PGCode != "40001" || d.PGClass != "40" || !d.PGRetryable {
		t.Fatalf("unexpected pg classification: %+v", d)
	}
	if d.PGTable != "sub_orders" {
		t.Fatalf("expected table sub_orders, got %q", d.PGTable)
	}
	if len(d.Chain) < 3 {
		t.Fatalf("expected full chain, got %v", d.Chain)
	}

	fields := d.Fields()
	if fields["pg_retryable"] != true {
		t.Fatalf("expected pg_retryable field, got %v", fields)
	}
	if _, ok := fields["pg_constraint"]; ok {
		t.Fatalf("empty constraint should be omitted: %v", fields)
	}
}

func TestDumpExtractsPqDetails(t *testing.T) {
	err := fmt.Errorf("insert ledger event: %w", &pq.Error{
		Code:       "23505",
		Message:    "duplicate key value",
		Constraint: "ledger_events_attempt_key",
	})

	d := Dump(err)
	if d.Code != "" {
		t.Fatalf("untyped error should carry no code, got %s", d.Code)
	}
	if d.PGClass != "23" || d.PGRetryable {
		t.Fatalf("unexpected classification: %+v", d)
	}
	if d.PGConstraint != "ledger_events_attempt_key" {
		t.Fatalf("unexpected constraint %q", d.PGConstraint)
	}
	if got := d.Fields()["pg_code"]; got != "23505" {
		t.Fatalf("expected pg_code field, got %v", got)
	}
}
