package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"joboffers/internal/offer"
	"joboffers/internal/storage"
)

// execQuerier is satisfied by *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// batchSavepoint brackets each row of UpsertBatch.
const batchSavepoint = "batch_row"

// Store implements storage.Repository over database/sql.
type Store struct {
	db      *sql.DB
	d       Dialect
	onClose func()
}

// New wraps an open handle. onClose (may be nil) runs after db is closed,
// for backends that own an extra pool.
func New(db *sql.DB, d Dialect, onClose func()) *Store {
	return &Store{db: db, d: d, onClose: onClose}
}

// DB exposes the handle for backend-specific tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
	if s.onClose != nil {
		s.onClose()
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.d.SchemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: ensure schema: %w", s.d.Name(), err)
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, o offer.Offer) error {
	args, err := o.Args()
	if err != nil {
		return err
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		OffersTable, QuoteList(s.d, offer.Columns), Placeholders(s.d, 1, len(offer.Columns)))

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		if key, ok := s.d.ClassifyConflict(err); ok {
			return &storage.ConflictError{Key: key, Err: err}
		}
		return fmt.Errorf("%s: insert offer: %w", s.d.Name(), err)
	}
	return nil
}

func (s *Store) DateAdd(ctx context.Context, key storage.ConflictKey, o offer.Offer) (*string, error) {
	return s.dateAdd(ctx, s.db, key, o)
}

func (s *Store) dateAdd(ctx context.Context, q execQuerier, key storage.ConflictKey, o offer.Offer) (*string, error) {
	where, args, err := s.keyWhere(key, o, 1)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", s.d.Quote("date_add"), OffersTable, where)

	var v sql.NullString
	if err := q.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%s: lookup date_add by %s: %w", s.d.Name(), key, err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.String, nil
}

func (s *Store) Update(ctx context.Context, key storage.ConflictKey, o offer.Offer) (int64, error) {
	return s.update(ctx, s.db, key, o)
}

func (s *Store) update(ctx context.Context, q execQuerier, key storage.ConflictKey, o offer.Offer) (int64, error) {
	var set []string
	switch key {
	case storage.KeyIdentity:
		set = IdentityUpdateColumns()
	case storage.KeyLink:
		set = LinkUpdateColumns()
	default:
		return 0, fmt.Errorf("unknown conflict key %v", key)
	}

	args, err := columnArgs(o, set)
	if err != nil {
		return 0, err
	}
	assign := make([]string, len(set))
	for i, c := range set {
		assign[i] = s.d.Quote(c) + " = " + s.d.Placeholder(i+1)
	}

	where, whereArgs, err := s.keyWhere(key, o, len(set)+1)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", OffersTable, strings.Join(assign, ", "), where)

	res, err := q.ExecContext(ctx, query, append(args, whereArgs...)...)
	if err != nil {
		if k, ok := s.d.ClassifyConflict(err); ok {
			return 0, &storage.ConflictError{Key: k, Err: err}
		}
		return 0, fmt.Errorf("%s: update offer by %s: %w", s.d.Name(), key, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpsertBatch applies offers in one transaction. Each row runs under a
// savepoint: a row that collides on link is rolled back to it and resolved
// against the row holding that link, and a row that still conflicts is
// skipped. Any other error rolls back the whole batch.
func (s *Store) UpsertBatch(ctx context.Context, offers []offer.Offer) (n int64, err error) {
	if len(offers) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin batch: %w", s.d.Name(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			n = 0
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.d.UpsertSQL())
	if err != nil {
		return 0, fmt.Errorf("%s: prepare upsert: %w", s.d.Name(), err)
	}
	defer stmt.Close()

	for i, o := range offers {
		affected, err := s.batchRow(ctx, tx, stmt, o)
		if err != nil {
			return 0, fmt.Errorf("batch offer %d: %w", i, err)
		}
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit batch: %w", s.d.Name(), err)
	}
	return n, nil
}

func (s *Store) batchRow(ctx context.Context, tx *sql.Tx, stmt *sql.Stmt, o offer.Offer) (int64, error) {
	args, err := o.Args()
	if err != nil {
		return 0, err
	}
	set, rollback, release := s.d.Savepoint(batchSavepoint)
	if _, err := tx.ExecContext(ctx, set); err != nil {
		return 0, fmt.Errorf("%s: savepoint: %w", s.d.Name(), err)
	}
	undo := func() error {
		if _, err := tx.ExecContext(ctx, rollback); err != nil {
			return fmt.Errorf("%s: rollback to savepoint: %w", s.d.Name(), err)
		}
		return nil
	}

	var n int64
	res, err := stmt.ExecContext(ctx, args...)
	if err == nil {
		n, _ = res.RowsAffected()
	} else {
		key, ok := s.d.ClassifyConflict(err)
		if !ok {
			return 0, err
		}
		if err := undo(); err != nil {
			return 0, err
		}
		if key == storage.KeyLink {
			n, err = s.refreshByLink(ctx, tx, o)
			var conflict *storage.ConflictError
			if errors.As(err, &conflict) {
				n, err = 0, undo()
			}
			if err != nil {
				return 0, err
			}
		}
	}

	if release != "" {
		if _, err := tx.ExecContext(ctx, release); err != nil {
			return 0, fmt.Errorf("%s: release savepoint: %w", s.d.Name(), err)
		}
	}
	return n, nil
}

// refreshByLink overwrites the row holding o's link when o is strictly
// newer.
func (s *Store) refreshByLink(ctx context.Context, q execQuerier, o offer.Offer) (int64, error) {
	if o.DateAdd == nil {
		return 0, nil
	}
	stored, err := s.dateAdd(ctx, q, storage.KeyLink, o)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !offer.Newer(stored, o.DateAdd) {
		return 0, nil
	}
	return s.update(ctx, q, storage.KeyLink, o)
}

func (s *Store) CollapseDuplicates(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, collapseSQL(s.d))
	if err != nil {
		return 0, fmt.Errorf("%s: collapse duplicates: %w", s.d.Name(), err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) RebuildView(ctx context.Context, f storage.Filter) (err error) {
	if err := f.Validate(); err != nil {
		return err
	}
	fill, args := fillViewSQL(s.d, f)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin view rebuild: %w", s.d.Name(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, step := range []struct {
		name string
		sql  string
		args []any
	}{
		{name: "drop", sql: "DROP TABLE IF EXISTS " + ViewTable},
		{name: "create", sql: s.d.CreateViewSQL()},
		{name: "fill", sql: fill, args: args},
	} {
		if _, err := tx.ExecContext(ctx, step.sql, step.args...); err != nil {
			return fmt.Errorf("%s: view %s: %w", s.d.Name(), step.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit view rebuild: %w", s.d.Name(), err)
	}
	return nil
}

func (s *Store) CountView(ctx context.Context, dim storage.Dimension) ([]storage.GroupCount, error) {
	if !dim.Valid() {
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}
	expr := s.d.Quote(string(dim))
	if dim == storage.DimYearMonth {
		expr = s.d.Prefix(s.d.Quote("date_add"), 7)
	}
	q := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s GROUP BY %s", expr, ViewTable, expr)

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: count view by %s: %w", s.d.Name(), dim, err)
	}
	defer rows.Close()

	var out []storage.GroupCount
	for rows.Next() {
		var k sql.NullString
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out = append(out, storage.GroupCount{Key: k.String, Total: n})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Ordering is applied here so NULL placement does not depend on the
	// backend's collation.
	sort.SliceStable(out, func(i, j int) bool {
		if dim == storage.DimYearMonth {
			return out[i].Key < out[j].Key
		}
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *Store) ViewOffers(ctx context.Context) ([]offer.Offer, error) {
	return s.readAll(ctx, ViewTable)
}

func (s *Store) Offers(ctx context.Context) ([]offer.Offer, error) {
	return s.readAll(ctx, OffersTable)
}

func (s *Store) Distinct(ctx context.Context, column string) ([]string, error) {
	if !storage.DistinctColumns[column] {
		return nil, fmt.Errorf("column %q is not filterable", column)
	}
	col := s.d.Quote(column)
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL", col, OffersTable, col)

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: distinct %s: %w", s.d.Name(), column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) readAll(ctx context.Context, table string) ([]offer.Offer, error) {
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", QuoteList(s.d, offer.ReadColumns), table, s.d.Quote("id"))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", s.d.Name(), table, err)
	}
	defer rows.Close()

	var out []offer.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: read %s: %w", s.d.Name(), table, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// scanOffer reads one row in offer.ReadColumns order.
func scanOffer(rows *sql.Rows) (offer.Offer, error) {
	var (
		o    offer.Offer
		text [13]sql.NullString
	)
	dest := []any{&o.ID}
	for i := range text {
		dest = append(dest, &text[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return offer.Offer{}, err
	}

	ptr := func(v sql.NullString) *string {
		if !v.Valid {
			return nil
		}
		s := v.String
		return &s
	}
	o.Title = ptr(text[0])
	o.Company = ptr(text[1])
	o.Location = ptr(text[2])
	o.Category = ptr(text[3])
	o.Position = ptr(text[4])
	o.DateAdd = ptr(text[5])
	o.Experience = ptr(text[7])
	o.Employment = ptr(text[8])
	o.OperatingMode = ptr(text[9])
	o.Link = ptr(text[11])
	o.Source = ptr(text[12])

	var err error
	if o.Salary, err = offer.ParseSalary(text[6].String); err != nil {
		return offer.Offer{}, fmt.Errorf("offer %d: %w", o.ID, err)
	}
	if o.TechStack, err = offer.ParseTechStack(text[10].String); err != nil {
		return offer.Offer{}, fmt.Errorf("offer %d: %w", o.ID, err)
	}
	return o, nil
}

// keyWhere renders the match on the columns of key, numbering placeholders
// from start. Identity columns compare NULL-safe.
func (s *Store) keyWhere(key storage.ConflictKey, o offer.Offer, start int) (string, []any, error) {
	cols, err := keyColumns(key)
	if err != nil {
		return "", nil, err
	}
	args, err := columnArgs(o, cols)
	if err != nil {
		return "", nil, err
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		if key == storage.KeyIdentity {
			parts[i] = s.d.KeyEqual(s.d.Quote(c), s.d.Placeholder(start+i))
			continue
		}
		parts[i] = s.d.Quote(c) + " = " + s.d.Placeholder(start+i)
	}
	return strings.Join(parts, " AND "), args, nil
}

func columnArgs(o offer.Offer, cols []string) ([]any, error) {
	all, err := o.Args()
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(offer.Columns))
	for i, c := range offer.Columns {
		idx[c] = i
	}
	out := make([]any, len(cols))
	for i, c := range cols {
		j, ok := idx[c]
		if !ok {
			return nil, fmt.Errorf("offer: unknown column %q", c)
		}
		out[i] = all[j]
	}
	return out, nil
}

// collapseKey are the columns that make two rows duplicates of each other.
var collapseKey = []string{"title", "company", "category", "location", "source", "link", "operating_mode"}

// collapseSQL deletes every row except the one with the latest date_add in
// each duplicate group. NULL dates rank last; ties keep the highest id.
func collapseSQL(d Dialect) string {
	date := d.Quote("date_add")
	id := d.Quote("id")
	return fmt.Sprintf(
		"DELETE FROM %[1]s WHERE %[2]s IN ("+
			"SELECT %[2]s FROM ("+
			"SELECT %[2]s, ROW_NUMBER() OVER (PARTITION BY %[3]s "+
			"ORDER BY CASE WHEN %[4]s IS NULL THEN 1 ELSE 0 END, %[4]s DESC, %[2]s DESC) AS rn "+
			"FROM %[1]s) ranked WHERE rn > 1)",
		OffersTable, id, QuoteList(d, collapseKey), date,
	)
}

// fillViewSQL copies the filtered primary rows into the working table.
func fillViewSQL(d Dialect, f storage.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	day := d.Prefix(d.Quote("date_add"), 10)
	if f.DateFrom != "" {
		conds = append(conds, day+" >= "+next(f.DateFrom))
	}
	if f.DateTo != "" {
		conds = append(conds, day+" <= "+next(f.DateTo))
	}
	for _, l := range f.Lists() {
		marks := make([]string, len(l.Values))
		for i, v := range l.Values {
			marks[i] = next(v)
		}
		conds = append(conds, fmt.Sprintf("%s IN (%s)", d.Quote(l.Column), strings.Join(marks, ", ")))
	}

	cols := QuoteList(d, offer.ReadColumns)
	q := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", ViewTable, cols, cols, OffersTable)
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	return q, args
}

var _ storage.Repository = (*Store)(nil)
