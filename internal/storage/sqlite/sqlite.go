// Package sqlite registers the "sqlite" storage backend (modernc.org/sqlite,
// no cgo).
//
// SQLite has no date types, so date_add stays TEXT in the canonical
// "YYYY-MM-DD HH:MM:SS[.ffffff]" form and compares correctly as a string.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"joboffers/internal/offer"
	"joboffers/internal/storage"
	"joboffers/internal/storage/sqlstore"
)

func init() {
	storage.Register("sqlite", Open)
}

// Open opens (creating if needed) the database file named by cfg.DSN.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One writer at a time; a single connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return sqlstore.New(db, Dialect{}, nil), nil
}

// Dialect is the SQLite flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) Quote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// SchemaStatements keeps the identity rule in an expression index so that
// NULL columns compare equal; a table-level UNIQUE would treat every NULL as
// distinct. Link stays a plain UNIQUE: offers without a link never collide.
func (d Dialect) SchemaStatements() []string {
	defs := append([]string{d.Quote("id") + " INTEGER PRIMARY KEY AUTOINCREMENT"}, sqlstore.ColumnDefs(d, sqlstore.AllText("TEXT"))...)
	defs = append(defs,
		fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", sqlstore.LinkConstraint, d.Quote("link")),
	)
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", sqlstore.OffersTable, strings.Join(defs, ",\n  ")),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			sqlstore.IdentityConstraint, sqlstore.OffersTable, d.identityTarget()),
	}
}

// identityTarget lists the identity index expressions.
func (d Dialect) identityTarget() string {
	exprs := make([]string, len(offer.IdentityColumns))
	for i, c := range offer.IdentityColumns {
		exprs[i] = "IFNULL(" + d.Quote(c) + ", '')"
	}
	return strings.Join(exprs, ", ")
}

func (d Dialect) CreateViewSQL() string {
	defs := append([]string{d.Quote("id") + " INTEGER"}, sqlstore.ColumnDefs(d, sqlstore.AllText("TEXT"))...)
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", sqlstore.ViewTable, strings.Join(defs, ",\n  "))
}

func (Dialect) Prefix(expr string, n int) string {
	return "substr(" + expr + ", 1, " + strconv.Itoa(n) + ")"
}

func (d Dialect) UpsertSQL() string { return sqlstore.OnConflictUpsertSQL(d, d.identityTarget()) }

func (Dialect) KeyEqual(column, value string) string {
	return "IFNULL(" + column + ", '') = IFNULL(" + value + ", '')"
}

func (Dialect) Savepoint(name string) (string, string, string) {
	return sqlstore.StandardSavepoint(name)
}

// ClassifyConflict recognises SQLITE_CONSTRAINT errors. SQLite reports the
// offending columns ("UNIQUE constraint failed: job_offers.link") for the
// link rule and the index name for the identity expression index.
func (Dialect) ClassifyConflict(err error) (storage.ConflictKey, bool) {
	var se *msqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return 0, false
	}
	msg := se.Error()
	if !strings.Contains(msg, "UNIQUE") {
		return 0, false
	}
	if strings.Contains(msg, sqlstore.OffersTable+".link") {
		return storage.KeyLink, true
	}
	return storage.KeyIdentity, true
}
