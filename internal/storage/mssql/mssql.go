// Package mssql registers the "mssql" storage backend (Microsoft SQL Server
// via go-mssqldb).
//
// SQL Server treats NULLs as equal in unique indexes. That is what the
// identity key wants; the link index is filtered so offers without a link
// never collide.
// Key-sized columns are NVARCHAR(n) so the indexes stay under the key size
// limit; JSON blobs are NVARCHAR(MAX).
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"joboffers/internal/offer"
	"joboffers/internal/storage"
	"joboffers/internal/storage/sqlstore"
)

// SQL Server duplicate key error numbers.
const (
	errDuplicateIndexKey      = 2601
	errDuplicateConstraintKey = 2627
)

func init() {
	storage.Register("mssql", Open)
}

// Open connects with the "sqlserver" driver and verifies connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 16
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return sqlstore.New(db, Dialect{}, nil), nil
}

// Dialect is the SQL Server flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "mssql" }

func (Dialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

func (Dialect) Quote(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// columnType sizes each column. The identity index spans four columns and
// must fit in 1700 bytes.
func columnType(col string) string {
	switch {
	case sqlstore.BlobColumns[col]:
		return "NVARCHAR(MAX)"
	case col == offer.LinkColumn:
		return "NVARCHAR(850)"
	default:
		return "NVARCHAR(200)"
	}
}

func (d Dialect) SchemaStatements() []string {
	defs := append([]string{d.Quote("id") + " BIGINT IDENTITY(1,1) PRIMARY KEY"}, sqlstore.ColumnDefs(d, columnType)...)

	return []string{
		fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n  %s\n);",
			sqlstore.OffersTable, d.Quote(sqlstore.OffersTable), strings.Join(defs, ",\n  ")),
		d.uniqueIndex(sqlstore.IdentityConstraint, offer.IdentityColumns, ""),
		d.uniqueIndex(sqlstore.LinkConstraint, []string{offer.LinkColumn}, d.Quote(offer.LinkColumn)+" IS NOT NULL"),
	}
}

// uniqueIndex creates a unique index, filtered when where is set, unless it
// already exists.
func (d Dialect) uniqueIndex(name string, cols []string, where string) string {
	if where != "" {
		where = " WHERE " + where
	}
	return fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s'))\n"+
			"CREATE UNIQUE INDEX %s ON %s (%s)%s;",
		name, sqlstore.OffersTable,
		d.Quote(name), d.Quote(sqlstore.OffersTable), sqlstore.QuoteList(d, cols), where,
	)
}

func (d Dialect) CreateViewSQL() string {
	defs := append([]string{d.Quote("id") + " BIGINT"}, sqlstore.ColumnDefs(d, columnType)...)
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", d.Quote(sqlstore.ViewTable), strings.Join(defs, ",\n  "))
}

func (Dialect) Prefix(expr string, n int) string {
	return "SUBSTRING(" + expr + ", 1, " + strconv.Itoa(n) + ")"
}

// UpsertSQL is a MERGE keyed on the identity columns, with NULLs matching
// NULLs like the identity index.
func (d Dialect) UpsertSQL() string {
	src := make([]string, len(offer.Columns))
	for i, c := range offer.Columns {
		src[i] = d.Placeholder(i+1) + " AS " + d.Quote(c)
	}
	on := make([]string, len(offer.IdentityColumns))
	for i, c := range offer.IdentityColumns {
		on[i] = d.KeyEqual("t."+d.Quote(c), "s."+d.Quote(c))
	}
	set := sqlstore.IdentityUpdateColumns()
	assign := make([]string, len(set))
	for i, c := range set {
		assign[i] = fmt.Sprintf("t.%s = s.%s", d.Quote(c), d.Quote(c))
	}
	vals := make([]string, len(offer.Columns))
	for i, c := range offer.Columns {
		vals[i] = "s." + d.Quote(c)
	}
	date := d.Quote("date_add")

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s WITH (HOLDLOCK) AS t\n", d.Quote(sqlstore.OffersTable))
	fmt.Fprintf(&b, "USING (SELECT %s) AS s\n", strings.Join(src, ", "))
	fmt.Fprintf(&b, "ON %s\n", strings.Join(on, " AND "))
	fmt.Fprintf(&b, "WHEN MATCHED AND s.%s IS NOT NULL AND (t.%s IS NULL OR t.%s < s.%s) THEN\n", date, date, date, date)
	fmt.Fprintf(&b, "  UPDATE SET %s\n", strings.Join(assign, ", "))
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN\n  INSERT (%s) VALUES (%s);", sqlstore.QuoteList(d, offer.Columns), strings.Join(vals, ", "))
	return b.String()
}

func (Dialect) KeyEqual(column, value string) string {
	return fmt.Sprintf("(%s = %s OR (%s IS NULL AND %s IS NULL))", column, value, column, value)
}

// Savepoint uses SAVE TRANSACTION; SQL Server has no release.
func (Dialect) Savepoint(name string) (string, string, string) {
	return "SAVE TRANSACTION " + name, "ROLLBACK TRANSACTION " + name, ""
}

// ClassifyConflict maps duplicate key errors to the key via the index name
// quoted in the server message.
func (Dialect) ClassifyConflict(err error) (storage.ConflictKey, bool) {
	var number int32
	var msg string

	var me mssqldb.Error
	var pme *mssqldb.Error
	switch {
	case errors.As(err, &me):
		number, msg = me.Number, me.Message
	case errors.As(err, &pme):
		number, msg = pme.Number, pme.Message
	default:
		return 0, false
	}

	if number != errDuplicateIndexKey && number != errDuplicateConstraintKey {
		return 0, false
	}
	switch {
	case strings.Contains(msg, sqlstore.LinkConstraint):
		return storage.KeyLink, true
	case strings.Contains(msg, sqlstore.IdentityConstraint):
		return storage.KeyIdentity, true
	default:
		return 0, false
	}
}
