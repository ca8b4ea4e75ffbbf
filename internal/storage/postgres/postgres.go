// Package postgres registers the "postgres" storage backend.
//
// The pool is a pgxpool.Pool; sqlstore talks to it through the pgx
// database/sql adapter so the query code is shared with the other backends.
// The identity constraint uses UNIQUE NULLS NOT DISTINCT (Postgres 15+).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"joboffers/internal/offer"
	"joboffers/internal/storage"
	"joboffers/internal/storage/sqlstore"
)

// uniqueViolation is SQLSTATE unique_violation.
const uniqueViolation = "23505"

func init() {
	storage.Register("postgres", Open)
}

// Open creates a connection pool for cfg.DSN and verifies connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return sqlstore.New(stdlib.OpenDBFromPool(pool), Dialect{}, pool.Close), nil
}

// Dialect is the Postgres flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) Quote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (d Dialect) SchemaStatements() []string {
	defs := append([]string{d.Quote("id") + " BIGSERIAL PRIMARY KEY"}, sqlstore.ColumnDefs(d, sqlstore.AllText("TEXT"))...)
	defs = append(defs,
		fmt.Sprintf("CONSTRAINT %s UNIQUE NULLS NOT DISTINCT (%s)", sqlstore.IdentityConstraint,
			sqlstore.QuoteList(d, offer.IdentityColumns)),
		fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", sqlstore.LinkConstraint, d.Quote("link")),
	)
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", sqlstore.OffersTable, strings.Join(defs, ",\n  ")),
	}
}

func (d Dialect) CreateViewSQL() string {
	defs := append([]string{d.Quote("id") + " BIGINT"}, sqlstore.ColumnDefs(d, sqlstore.AllText("TEXT"))...)
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", sqlstore.ViewTable, strings.Join(defs, ",\n  "))
}

func (Dialect) Prefix(expr string, n int) string {
	return "substr(" + expr + ", 1, " + strconv.Itoa(n) + ")"
}

func (d Dialect) UpsertSQL() string {
	return sqlstore.OnConflictUpsertSQL(d, sqlstore.QuoteList(d, offer.IdentityColumns))
}

func (Dialect) KeyEqual(column, value string) string {
	return column + " IS NOT DISTINCT FROM " + value
}

func (Dialect) Savepoint(name string) (string, string, string) {
	return sqlstore.StandardSavepoint(name)
}

// ClassifyConflict maps unique_violation to the key via the constraint name.
func (Dialect) ClassifyConflict(err error) (storage.ConflictKey, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return 0, false
	}
	switch pgErr.ConstraintName {
	case sqlstore.LinkConstraint:
		return storage.KeyLink, true
	case sqlstore.IdentityConstraint:
		return storage.KeyIdentity, true
	default:
		return 0, false
	}
}
