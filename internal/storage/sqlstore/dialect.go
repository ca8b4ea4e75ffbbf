// Package sqlstore is the database/sql implementation of storage.Repository
// shared by the SQL backends. Each backend contributes a Dialect with its
// placeholder style, DDL and conflict classification.
package sqlstore

import (
	"fmt"
	"strings"

	"joboffers/internal/offer"
	"joboffers/internal/storage"
)

// Table and constraint names.
const (
	OffersTable        = "job_offers"
	ViewTable          = "job_offers_temp"
	IdentityConstraint = "job_offers_identity_key"
	LinkConstraint     = "job_offers_link_key"
)

// Dialect captures what differs between SQL backends.
type Dialect interface {
	// Name is used in error messages ("sqlite", "postgres", "mssql").
	Name() string

	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder(n int) string

	// Quote returns a quoted identifier.
	Quote(ident string) string

	// SchemaStatements create the primary table and its unique rules when
	// missing. They run in order.
	SchemaStatements() []string

	// CreateViewSQL creates the working table (no constraints).
	CreateViewSQL() string

	// Prefix returns the SQL for the first n characters of expr.
	Prefix(expr string, n int) string

	// UpsertSQL is the single-row statement used by UpsertBatch. Its
	// arguments are offer.Columns in order.
	UpsertSQL() string

	// KeyEqual compares an identity column with a value so that two NULLs
	// are equal, matching how the identity unique rule treats them.
	KeyEqual(column, value string) string

	// Savepoint returns the statements that set, roll back to and release
	// the named savepoint. release may be empty.
	Savepoint(name string) (set, rollback, release string)

	// ClassifyConflict maps a driver error to the violated key.
	ClassifyConflict(err error) (storage.ConflictKey, bool)
}

// BlobColumns hold JSON text and may outgrow key-sized columns.
var BlobColumns = map[string]bool{"salary": true, "tech_stack": true}

// ColumnDefs renders the non-id column definitions shared by both tables,
// asking typeOf for each column's SQL type.
func ColumnDefs(d Dialect, typeOf func(column string) string) []string {
	defs := make([]string, 0, len(offer.ReadColumns)-1)
	for _, c := range offer.ReadColumns[1:] {
		defs = append(defs, d.Quote(c)+" "+typeOf(c))
	}
	return defs
}

// AllText types every column as t.
func AllText(t string) func(string) string {
	return func(string) string { return t }
}

// QuoteList quotes and comma-joins names.
func QuoteList(d Dialect, names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.Quote(n)
	}
	return strings.Join(out, ", ")
}

// Placeholders returns n comma-joined markers starting at argument start.
func Placeholders(d Dialect, start, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = d.Placeholder(start + i)
	}
	return strings.Join(out, ", ")
}

// IdentityUpdateColumns are written when an identity match is refreshed.
func IdentityUpdateColumns() []string {
	return without(offer.Columns, offer.IdentityColumns...)
}

// LinkUpdateColumns are written when a link match is refreshed.
func LinkUpdateColumns() []string {
	return without(offer.Columns, offer.LinkColumn)
}

func without(cols []string, drop ...string) []string {
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !skip[c] {
			out = append(out, c)
		}
	}
	return out
}

// keyColumns returns the columns that identify a row under key.
func keyColumns(key storage.ConflictKey) ([]string, error) {
	switch key {
	case storage.KeyIdentity:
		return offer.IdentityColumns, nil
	case storage.KeyLink:
		return []string{offer.LinkColumn}, nil
	default:
		return nil, fmt.Errorf("unknown conflict key %v", key)
	}
}

// StandardSavepoint is the SAVEPOINT syntax shared by SQLite and Postgres.
func StandardSavepoint(name string) (set, rollback, release string) {
	return "SAVEPOINT " + name, "ROLLBACK TO SAVEPOINT " + name, "RELEASE SAVEPOINT " + name
}

// OnConflictUpsertSQL builds the INSERT ... ON CONFLICT DO UPDATE statement
// understood by SQLite and Postgres. target is the conflict target matching
// the identity unique rule. An identity match is only overwritten when the
// incoming date_add is present and strictly newer.
func OnConflictUpsertSQL(d Dialect, target string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(OffersTable)
	b.WriteString(" (")
	b.WriteString(QuoteList(d, offer.Columns))
	b.WriteString(") VALUES (")
	b.WriteString(Placeholders(d, 1, len(offer.Columns)))
	b.WriteString(") ON CONFLICT (")
	b.WriteString(target)
	b.WriteString(") DO UPDATE SET ")

	for i, c := range IdentityUpdateColumns() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = excluded.%s", d.Quote(c), d.Quote(c))
	}

	date := d.Quote("date_add")
	fmt.Fprintf(&b, " WHERE excluded.%s IS NOT NULL AND (%s.%s IS NULL OR %s.%s < excluded.%s)",
		date, OffersTable, date, OffersTable, date, date)
	return b.String()
}
