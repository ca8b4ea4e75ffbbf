package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"joboffers/internal/offer"
	"joboffers/internal/storage"
	"joboffers/internal/storage/sqlstore"
)

func openTemp(t *testing.T) storage.Repository {
	t.Helper()

	repo, err := storage.Open(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "offers.db"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(repo.Close)

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	// Idempotent.
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema (second run): %v", err)
	}
	return repo
}

func sample(title, link, date string) offer.Offer {
	o := offer.Offer{
		Title:         offer.Str(title),
		Company:       offer.Str("Acme"),
		Location:      offer.Str("kraków"),
		Category:      offer.Str("backend"),
		Experience:    offer.Str("mid"),
		OperatingMode: offer.Str("remote"),
		Source:        offer.Str("justjoin.it"),
		Salary:        offer.Salary{"b2b": {From: amount(10000), To: amount(20000), Currency: "pln"}},
		TechStack:     offer.TechStack{"Go": 4},
	}
	if link != "" {
		o.Link = offer.Str(link)
	}
	if date != "" {
		o.DateAdd = offer.Str(date)
	}
	return o
}

func amount(v float64) *offer.Amount {
	a := offer.Amount(v)
	return &a
}

func TestInsert_ClassifiesConflicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTemp(t)

	if err := repo.Insert(ctx, sample("Go Dev", "https://x/1", "2024-01-01 10:00:00")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	tests := []struct {
		name string
		o    offer.Offer
		want storage.ConflictKey
	}{
		{name: "identity", o: sample("Go Dev", "https://x/2", "2024-01-02 10:00:00"), want: storage.KeyIdentity},
		{name: "link", o: sample("Other", "https://x/1", "2024-01-02 10:00:00"), want: storage.KeyLink},
	}
	for _, tc := range tests {
		err := repo.Insert(ctx, tc.o)
		var ce *storage.ConflictError
		if !errors.As(err, &ce) || ce.Key != tc.want {
			t.Fatalf("%s: want %v conflict, got %v", tc.name, tc.want, err)
		}
	}

	rows, err := repo.Offers(ctx)
	if err != nil {
		t.Fatalf("Offers: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows=%d want 1", len(rows))
	}
	got := rows[0]
	if got.ID == 0 || offer.Value(got.Title) != "Go Dev" || got.Position != nil {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.Salary["b2b"].Currency != "pln" || *got.Salary["b2b"].From != 10000 || got.TechStack["Go"] != 4 {
		t.Fatalf("blobs did not round-trip: %+v %+v", got.Salary, got.TechStack)
	}
}

func TestDateAddAndUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTemp(t)

	orig := sample("Go Dev", "https://x/1", "")
	if err := repo.Insert(ctx, orig); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	d, err := repo.DateAdd(ctx, storage.KeyIdentity, orig)
	if err != nil || d != nil {
		t.Fatalf("DateAdd=%v,%v want nil,nil", d, err)
	}
	if _, err := repo.DateAdd(ctx, storage.KeyLink, sample("x", "https://missing", "")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	byLink := sample("Go Dev (renamed)", "https://x/1", "2024-03-01 09:00:00")
	n, err := repo.Update(ctx, storage.KeyLink, byLink)
	if err != nil || n != 1 {
		t.Fatalf("Update by link=%d,%v", n, err)
	}
	d, err = repo.DateAdd(ctx, storage.KeyLink, byLink)
	if err != nil || offer.Value(d) != "2024-03-01 09:00:00" {
		t.Fatalf("DateAdd=%v,%v", offer.Value(d), err)
	}

	byIdentity := sample("Go Dev (renamed)", "https://x/9", "2024-04-01 09:00:00")
	byIdentity.Experience = offer.Str("senior")
	if n, err := repo.Update(ctx, storage.KeyIdentity, byIdentity); err != nil || n != 1 {
		t.Fatalf("Update by identity=%d,%v", n, err)
	}

	rows, err := repo.Offers(ctx)
	if err != nil {
		t.Fatalf("Offers: %v", err)
	}
	if len(rows) != 1 || offer.Value(rows[0].Link) != "https://x/9" || offer.Value(rows[0].Experience) != "senior" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestUpsertBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTemp(t)

	first := []offer.Offer{
		sample("A", "https://x/a", "2024-01-01 10:00:00"),
		sample("B", "https://x/b", "2024-01-01 10:00:00"),
	}
	if n, err := repo.UpsertBatch(ctx, first); err != nil || n != 2 {
		t.Fatalf("first batch=%d,%v want 2", n, err)
	}

	older := sample("A", "https://x/a", "2023-12-31 10:00:00")
	older.Experience = offer.Str("junior")
	noDate := sample("B", "https://x/b", "")
	if n, err := repo.UpsertBatch(ctx, []offer.Offer{older, noDate}); err != nil || n != 0 {
		t.Fatalf("stale batch=%d,%v want 0", n, err)
	}

	newer := sample("A", "https://x/a", "2024-02-01 10:00:00.250000")
	newer.Experience = offer.Str("senior")
	if n, err := repo.UpsertBatch(ctx, []offer.Offer{newer}); err != nil || n != 1 {
		t.Fatalf("newer batch=%d,%v want 1", n, err)
	}

	// D is a new identity holding A's link and is newer: it takes over A's
	// row. E is older than B on B's link. C is unrelated.
	mixed := []offer.Offer{
		sample("C", "https://x/c", "2024-03-01 10:00:00"),
		sample("D", "https://x/a", "2024-03-01 10:00:00"),
		sample("E", "https://x/b", "2023-01-01 00:00:00"),
	}
	if n, err := repo.UpsertBatch(ctx, mixed); err != nil || n != 2 {
		t.Fatalf("mixed batch=%d,%v want 2", n, err)
	}

	// F matches B's identity but would move it onto C's link, and C cannot
	// take B's identity either: F is skipped, G still lands.
	both := []offer.Offer{
		sample("B", "https://x/c", "2025-01-01 00:00:00"),
		sample("G", "https://x/g", "2024-03-01 10:00:00"),
	}
	if n, err := repo.UpsertBatch(ctx, both); err != nil || n != 1 {
		t.Fatalf("double conflict batch=%d,%v want 1", n, err)
	}

	rows, err := repo.Offers(ctx)
	if err != nil {
		t.Fatalf("Offers: %v", err)
	}
	want := []struct{ title, link, date string }{
		{"D", "https://x/a", "2024-03-01 10:00:00"},
		{"B", "https://x/b", "2024-01-01 10:00:00"},
		{"C", "https://x/c", "2024-03-01 10:00:00"},
		{"G", "https://x/g", "2024-03-01 10:00:00"},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows=%d want %d: %+v", len(rows), len(want), rows)
	}
	for i, w := range want {
		r := rows[i]
		if offer.Value(r.Title) != w.title || offer.Value(r.Link) != w.link || offer.Value(r.DateAdd) != w.date {
			t.Fatalf("row %d=%s %s %s want %+v", i, offer.Value(r.Title), offer.Value(r.Link), offer.Value(r.DateAdd), w)
		}
	}
	if offer.Value(rows[0].Experience) != "mid" {
		t.Fatalf("link refresh must rewrite the row: %+v", rows[0])
	}
}

func TestIdentity_NullColumnsCompareEqual(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTemp(t)

	noLoc := func(date string) offer.Offer {
		o := sample("Go Dev", "", date)
		o.Location = nil
		return o
	}
	if err := repo.Insert(ctx, noLoc("2024-01-01 10:00:00")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := repo.Insert(ctx, noLoc("2024-01-01 10:00:00"))
	var ce *storage.ConflictError
	if !errors.As(err, &ce) || ce.Key != storage.KeyIdentity {
		t.Fatalf("second insert=%v want identity conflict", err)
	}

	d, err := repo.DateAdd(ctx, storage.KeyIdentity, noLoc(""))
	if err != nil || offer.Value(d) != "2024-01-01 10:00:00" {
		t.Fatalf("DateAdd=%v,%v", offer.Value(d), err)
	}
	if n, err := repo.Update(ctx, storage.KeyIdentity, noLoc("2024-02-01 10:00:00")); err != nil || n != 1 {
		t.Fatalf("Update=%d,%v want 1", n, err)
	}

	if n, err := repo.UpsertBatch(ctx, []offer.Offer{noLoc("2024-02-01 10:00:00")}); err != nil || n != 0 {
		t.Fatalf("repeat batch=%d,%v want 0", n, err)
	}
	if n, err := repo.UpsertBatch(ctx, []offer.Offer{noLoc("2024-03-01 10:00:00")}); err != nil || n != 1 {
		t.Fatalf("newer batch=%d,%v want 1", n, err)
	}

	rows, err := repo.Offers(ctx)
	if err != nil {
		t.Fatalf("Offers: %v", err)
	}
	if len(rows) != 1 || rows[0].Location != nil || offer.Value(rows[0].DateAdd) != "2024-03-01 10:00:00" {
		t.Fatalf("rows=%+v", rows)
	}
}

// dropIdentityIndex turns the table into one created before the identity
// rule existed, so duplicate rows can be seeded.
func dropIdentityIndex(t *testing.T, repo storage.Repository) {
	t.Helper()
	if _, err := repo.(*sqlstore.Store).DB().Exec("DROP INDEX " + sqlstore.IdentityConstraint); err != nil {
		t.Fatalf("drop identity index: %v", err)
	}
}

func TestCollapseDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTemp(t)

	dropIdentityIndex(t, repo)

	dup := func(date string) offer.Offer {
		o := sample("Go Dev", "", date)
		o.Category = nil
		return o
	}
	for _, d := range []string{"2024-01-01 00:00:00", "2024-03-01 00:00:00", "", "2024-02-01 00:00:00"} {
		if err := repo.Insert(ctx, dup(d)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := repo.Insert(ctx, sample("Unique", "https://x/u", "2020-01-01 00:00:00")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := repo.CollapseDuplicates(ctx)
	if err != nil || n != 3 {
		t.Fatalf("CollapseDuplicates=%d,%v want 3", n, err)
	}
	if n, err := repo.CollapseDuplicates(ctx); err != nil || n != 0 {
		t.Fatalf("second collapse=%d,%v want 0", n, err)
	}

	rows, err := repo.Offers(ctx)
	if err != nil {
		t.Fatalf("Offers: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d want 2", len(rows))
	}
	if offer.Value(rows[0].DateAdd) != "2024-03-01 00:00:00" {
		t.Fatalf("survivor=%+v want the latest date", rows[0])
	}
}

func TestViewFilterCountsAndDistinct(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTemp(t)

	mk := func(title, loc, cat, exp, mode, date string) offer.Offer {
		o := sample(title, "https://x/"+title, date)
		o.Location, o.Category = offer.Str(loc), offer.Str(cat)
		o.Experience, o.OperatingMode = offer.Str(exp), offer.Str(mode)
		return o
	}
	for _, o := range []offer.Offer{
		mk("a", "kraków", "backend", "mid", "remote", "2024-01-05 10:00:00"),
		mk("b", "kraków", "backend", "senior", "hybrid", "2024-01-20 10:00:00"),
		mk("c", "warszawa", "data", "mid", "remote", "2024-02-03 10:00:00"),
		mk("d", "gdańsk", "backend", "junior", "office", "2023-12-31 23:59:59"),
	} {
		if err := repo.Insert(ctx, o); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if err := repo.RebuildView(ctx, storage.Filter{}); err != nil {
		t.Fatalf("RebuildView: %v", err)
	}
	all, err := repo.ViewOffers(ctx)
	if err != nil || len(all) != 4 {
		t.Fatalf("ViewOffers=%d,%v want 4", len(all), err)
	}

	months, err := repo.CountView(ctx, storage.DimYearMonth)
	if err != nil {
		t.Fatalf("CountView: %v", err)
	}
	wantMonths := []storage.GroupCount{{Key: "2023-12", Total: 1}, {Key: "2024-01", Total: 2}, {Key: "2024-02", Total: 1}}
	if len(months) != len(wantMonths) {
		t.Fatalf("months=%v", months)
	}
	for i := range wantMonths {
		if months[i] != wantMonths[i] {
			t.Fatalf("months=%v want %v", months, wantMonths)
		}
	}

	locs, err := repo.CountView(ctx, storage.DimLocation)
	if err != nil {
		t.Fatalf("CountView: %v", err)
	}
	if locs[0] != (storage.GroupCount{Key: "kraków", Total: 2}) || locs[1].Key != "gdańsk" || locs[2].Key != "warszawa" {
		t.Fatalf("locations=%v", locs)
	}

	err = repo.RebuildView(ctx, storage.Filter{
		DateFrom:   "2024-01-01",
		DateTo:     "2024-01-31",
		Categories: []string{"backend"},
	})
	if err != nil {
		t.Fatalf("RebuildView: %v", err)
	}
	filtered, err := repo.ViewOffers(ctx)
	if err != nil {
		t.Fatalf("ViewOffers: %v", err)
	}
	if len(filtered) != 2 || offer.Value(filtered[0].Title) != "a" || offer.Value(filtered[1].Title) != "b" {
		t.Fatalf("filtered=%+v", filtered)
	}

	if err := repo.RebuildView(ctx, storage.Filter{Positions: []string{"warszawa"}}); err != nil {
		t.Fatalf("RebuildView: %v", err)
	}
	if byPos, _ := repo.ViewOffers(ctx); len(byPos) != 1 || offer.Value(byPos[0].Title) != "c" {
		t.Fatalf("position filter must match location: %+v", byPos)
	}

	if err := repo.RebuildView(ctx, storage.Filter{DateFrom: "yesterday"}); err == nil {
		t.Fatalf("expected validation error")
	}

	modes, err := repo.Distinct(ctx, "operating_mode")
	if err != nil {
		t.Fatalf("Distinct: %v", err)
	}
	if len(modes) != 3 || modes[0] != "hybrid" || modes[2] != "remote" {
		t.Fatalf("modes=%v", modes)
	}
	if pos, err := repo.Distinct(ctx, "position"); err != nil || len(pos) != 0 {
		t.Fatalf("positions=%v,%v want empty", pos, err)
	}
	if _, err := repo.Distinct(ctx, "salary"); err == nil {
		t.Fatalf("salary is not filterable")
	}
}
