// Package storage defines the offer store used by the reconciler and the
// report aggregator, plus the registry backends plug into.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"joboffers/internal/offer"
)

// Config selects and configures a registered backend.
//
// Kind must match a name passed to Register ("sqlite", "postgres", "mssql").
// DSN is handed to the backend unchanged. MaxConns caps the connection pool
// when positive.
type Config struct {
	Kind     string
	DSN      string
	MaxConns int
}

// ErrNotFound is returned by lookups that match no stored row.
var ErrNotFound = errors.New("storage: offer not found")

// Repository is the persistent offer store.
//
// The store holds one primary table with two independent uniqueness rules
// (see ConflictKey) and one working table, rebuilt on demand from the
// primary table under a Filter, that all reporting reads from.
type Repository interface {
	// Close releases the connection pool. Call once.
	Close()

	// EnsureSchema creates the primary table and its unique constraints when
	// missing. Safe to run on every start.
	EnsureSchema(ctx context.Context) error

	// Insert adds o as a new row. A uniqueness violation is returned as a
	// *ConflictError naming the key that collided.
	Insert(ctx context.Context, o offer.Offer) error

	// DateAdd returns the stored date_add of the row matching o under key.
	// A NULL date_add is returned as nil. ErrNotFound when no row matches.
	DateAdd(ctx context.Context, key ConflictKey, o offer.Offer) (*string, error)

	// Update overwrites the row matching o under key. KeyIdentity writes
	// every non-identity column; KeyLink writes every column except link.
	Update(ctx context.Context, key ConflictKey, o offer.Offer) (int64, error)

	// UpsertBatch writes offers in one transaction, updating identity
	// matches only when the incoming date_add is strictly newer. A link
	// collision is resolved per row the same way; a row that still
	// conflicts is skipped. It returns the number of rows inserted or
	// updated. Any other failure rolls back the whole batch.
	UpsertBatch(ctx context.Context, offers []offer.Offer) (int64, error)

	// CollapseDuplicates keeps one row per duplicate group (the latest
	// date_add) and deletes the rest, returning how many were deleted.
	CollapseDuplicates(ctx context.Context) (int64, error)

	// RebuildView replaces the working table with the filtered primary rows.
	RebuildView(ctx context.Context, f Filter) error

	// CountView groups the working table by d.
	CountView(ctx context.Context, d Dimension) ([]GroupCount, error)

	// ViewOffers returns every working-table row.
	ViewOffers(ctx context.Context) ([]offer.Offer, error)

	// Offers returns every primary-table row ordered by id.
	Offers(ctx context.Context) ([]offer.Offer, error)

	// Distinct returns the sorted non-NULL values of a filterable column of
	// the primary table.
	Distinct(ctx context.Context, column string) ([]string, error)
}

// Factory opens a backend for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Backends call it from
// init().
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open constructs the Repository registered under cfg.Kind.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}
