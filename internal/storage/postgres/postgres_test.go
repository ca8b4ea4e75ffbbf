package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"joboffers/internal/storage"
	"joboffers/internal/storage/sqlstore"
)

func TestSchemaStatements(t *testing.T) {
	t.Parallel()

	stmts := Dialect{}.SchemaStatements()
	if len(stmts) != 1 {
		t.Fatalf("stmts=%d want 1", len(stmts))
	}
	ddl := stmts[0]
	for _, p := range []string{
		`CREATE TABLE IF NOT EXISTS job_offers`,
		`"id" BIGSERIAL PRIMARY KEY`,
		`"date_add" TEXT`,
		`CONSTRAINT job_offers_identity_key UNIQUE NULLS NOT DISTINCT ("title", "company", "location", "category")`,
		`CONSTRAINT job_offers_link_key UNIQUE ("link")`,
	} {
		if !strings.Contains(ddl, p) {
			t.Fatalf("ddl missing %q\n%s", p, ddl)
		}
	}
	if strings.Contains(ddl, "TIMESTAMP") {
		t.Fatalf("date_add must stay text:\n%s", ddl)
	}
}

func TestUpsertSQL_DollarPlaceholders(t *testing.T) {
	t.Parallel()

	q := Dialect{}.UpsertSQL()
	if !strings.Contains(q, "$12)") || strings.Contains(q, "$13") || strings.Contains(q, "?") {
		t.Fatalf("unexpected placeholders:\n%s", q)
	}
	if !strings.Contains(q, `ON CONFLICT ("title", "company", "location", "category") DO UPDATE`) {
		t.Fatalf("missing conflict target:\n%s", q)
	}
}

func TestKeyEqualAndSavepoint(t *testing.T) {
	t.Parallel()

	if got := (Dialect{}).KeyEqual(`"location"`, "$3"); got != `"location" IS NOT DISTINCT FROM $3` {
		t.Fatalf("KeyEqual=%s", got)
	}
	set, rollback, release := Dialect{}.Savepoint("row")
	if set != "SAVEPOINT row" || rollback != "ROLLBACK TO SAVEPOINT row" || release != "RELEASE SAVEPOINT row" {
		t.Fatalf("savepoint sql=%q %q %q", set, rollback, release)
	}
}

func TestClassifyConflict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		want   storage.ConflictKey
		wantOK bool
	}{
		{name: "link", err: &pgconn.PgError{Code: "23505", ConstraintName: sqlstore.LinkConstraint}, want: storage.KeyLink, wantOK: true},
		{name: "identity_wrapped", err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", ConstraintName: sqlstore.IdentityConstraint}), want: storage.KeyIdentity, wantOK: true},
		{name: "other_unique", err: &pgconn.PgError{Code: "23505", ConstraintName: "job_offers_pkey"}},
		{name: "not_null", err: &pgconn.PgError{Code: "23502"}},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Dialect{}.ClassifyConflict(tc.err)
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("ClassifyConflict=%v,%v want %v,%v", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}
