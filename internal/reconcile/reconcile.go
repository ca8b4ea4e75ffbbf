// Package reconcile writes offers into the store so that each logical offer
// keeps only its freshest version.
//
// Two natural keys identify an offer: (title, company, location, category)
// and link. An insert that collides on either key turns into an update of
// the stored row when the incoming date_add is strictly newer (see
// offer.Newer); otherwise the stored row wins.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"joboffers/internal/metrics"
	"joboffers/internal/offer"
	"joboffers/internal/storage"
)

// Outcome is the result of reconciling one offer.
type Outcome int

const (
	Inserted Outcome = iota + 1
	Updated
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Reconciler applies the freshness policy on top of a storage.Repository.
// Store failures are logged and reported through the return value; they
// never stop the caller's run.
type Reconciler struct {
	repo    storage.Repository
	log     *zap.Logger
	metrics metrics.Backend
}

// New builds a Reconciler. log and m may be nil.
func New(repo storage.Repository, log *zap.Logger, m metrics.Backend) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		repo:    repo,
		log:     log.With(zap.String("component", "reconcile")),
		metrics: metrics.OrNop(m),
	}
}

// Upsert inserts o, or refreshes the stored row it collides with.
func (r *Reconciler) Upsert(ctx context.Context, o offer.Offer) Outcome {
	out := r.upsert(ctx, o)
	r.metrics.IncCounter(metrics.UpsertTotal, 1, metrics.Labels{"outcome": out.String()})
	return out
}

func (r *Reconciler) upsert(ctx context.Context, o offer.Offer) Outcome {
	fields := offerFields(o)

	err := r.repo.Insert(ctx, o)
	if err == nil {
		r.log.Info("offer added", fields...)
		return Inserted
	}

	var conflict *storage.ConflictError
	if !errors.As(err, &conflict) {
		r.log.Error("insert offer failed", append(fields, zap.Error(err))...)
		return Failed
	}

	if o.DateAdd == nil {
		r.log.Info("duplicate offer", append(fields, zap.Stringer("key", conflict.Key))...)
		return Skipped
	}

	existing, err := r.repo.DateAdd(ctx, conflict.Key, o)
	if err != nil {
		r.log.Error("lookup stored offer failed", append(fields, zap.Stringer("key", conflict.Key), zap.Error(err))...)
		return Failed
	}
	if !offer.Newer(existing, o.DateAdd) {
		r.log.Debug("stored offer is as fresh",
			append(fields, zap.Stringer("key", conflict.Key), zap.String("stored_date_add", offer.Value(existing)))...)
		return Skipped
	}

	if _, err := r.repo.Update(ctx, conflict.Key, o); err != nil {
		// The refresh would make the row collide with another one on the
		// other key; both rows stay as they are.
		var second *storage.ConflictError
		if errors.As(err, &second) {
			r.log.Info("offer conflicts on both keys",
				append(fields, zap.Stringer("key", conflict.Key), zap.Stringer("other_key", second.Key))...)
			return Skipped
		}
		r.log.Error("update offer failed", append(fields, zap.Stringer("key", conflict.Key), zap.Error(err))...)
		return Failed
	}
	r.log.Info("offer updated", append(fields, zap.Stringer("key", conflict.Key))...)
	return Updated
}

// UpsertBatch writes offers in one transaction and returns the number of
// rows inserted or updated. Key conflicts are resolved row by row with the
// same freshness rule as Upsert. On any other failure nothing is applied
// and 0 is returned.
func (r *Reconciler) UpsertBatch(ctx context.Context, offers []offer.Offer) int64 {
	if len(offers) == 0 {
		return 0
	}

	n, err := r.repo.UpsertBatch(ctx, offers)
	if err != nil {
		r.log.Error("batch upsert failed, rolled back",
			zap.Int("offers", len(offers)),
			zap.Error(err),
		)
		r.metrics.IncCounter(metrics.BatchRowsTotal, float64(len(offers)), metrics.Labels{"status": "rolled_back"})
		return 0
	}

	r.log.Info("batch upserted",
		zap.Int("offers", len(offers)),
		zap.Int64("rows_changed", n),
	)
	r.metrics.IncCounter(metrics.BatchRowsTotal, float64(n), metrics.Labels{"status": "changed"})
	return n
}

// CollapseDuplicates removes older copies of the same offer and returns how
// many rows were deleted (0 on failure).
func (r *Reconciler) CollapseDuplicates(ctx context.Context) int64 {
	n, err := r.repo.CollapseDuplicates(ctx)
	if err != nil {
		r.log.Error("collapse duplicates failed", zap.Error(err))
		return 0
	}
	r.log.Info("older duplicates removed", zap.Int64("deleted", n))
	r.metrics.IncCounter(metrics.CollapsedTotal, float64(n), nil)
	return n
}

func offerFields(o offer.Offer) []zap.Field {
	return []zap.Field{
		zap.String("title", offer.Value(o.Title)),
		zap.String("company", offer.Value(o.Company)),
		zap.String("location", offer.Value(o.Location)),
		zap.String("link", offer.Value(o.Link)),
	}
}
