package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sgc-labs/sgc-go/internal/repo"
)

func TestProcessQueries(t *testing.T) {
	if !strings.HasSuffix(lockProcessQuery, "FOR UPDATE") {
		t.Fatalf("expected lock query to end with FOR UPDATE")
	}
	if !strings.Contains(upsertProcessQuery, "ON CONFLICT (process_id) DO UPDATE") {
		t.Fatalf("expected upsert clause in process save")
	}
	if strings.Contains(upsertProcessQuery, "process_type = EXCLUDED") {
		t.Fatalf("process type must not change on update")
	}
	for _, want := range []string{"'CREATED', 'IN_PROGRESS'", "pp.process_id <> $1", "ANY($2::bigint[])"} {
		if !strings.Contains(unitsInOtherActiveProcessesQuery, want) {
			t.Fatalf("expected %q in active participant query", want)
		}
	}
}

func TestSubprocessQueries(t *testing.T) {
	if !strings.Contains(selectSubprocessesByUnitsQuery, "process_id = $1 AND unit_id = ANY($2::bigint[])") {
		t.Fatalf("expected process and unit predicate in bulk read")
	}
	if !strings.Contains(upsertSubprocessQuery, "ON CONFLICT (subprocess_id) DO UPDATE") {
		t.Fatalf("expected upsert clause in subprocess save")
	}
	if strings.Contains(insertMovementQuery, "ON CONFLICT") {
		t.Fatalf("movements are append-only and must not upsert")
	}
	if !strings.Contains(listMovementsQuery, "ORDER BY occurred_at") {
		t.Fatalf("expected chronological ordering of movements")
	}
}

func TestUnitQueries(t *testing.T) {
	if !strings.Contains(upsertCurrentMapQuery, "ON CONFLICT (unit_id) DO UPDATE") {
		t.Fatalf("expected idempotent current map upsert")
	}
	if !strings.Contains(selectSiglasQuery, "ORDER BY sigla") {
		t.Fatalf("expected siglas to be ordered")
	}
}

func TestClassify(t *testing.T) {
	if err := classify("op", nil); err != nil {
		t.Fatalf("classify(nil)=%v", err)
	}
	dup := classify("insert subprocess", &pgconn.PgError{Code: "23505", ConstraintName: "subprocesses_process_unit_key"})
	if !errors.Is(dup, repo.ErrConflict) {
		t.Fatalf("unique violation should map to ErrConflict, got %v", dup)
	}
	serial := classify("commit tx", &pgconn.PgError{Code: "40001"})
	if !errors.Is(serial, repo.ErrConflict) {
		t.Fatalf("serialization failure should map to ErrConflict, got %v", serial)
	}
	fk := classify("insert participants", &pgconn.PgError{Code: "23503"})
	if errors.Is(fk, repo.ErrConflict) {
		t.Fatalf("foreign key violation is not a conflict")
	}
}

func TestConstructorsRejectNilDB(t *testing.T) {
	if NewProcessStore(nil) != nil || NewSubprocessStore(nil) != nil || NewUnitStore(nil) != nil || NewProfileStore(nil) != nil {
		t.Fatalf("constructors should return nil for a nil db")
	}
	if NewTransactor(nil) != nil {
		t.Fatalf("NewTransactor(nil) should return nil")
	}
}
