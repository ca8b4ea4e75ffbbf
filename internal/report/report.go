// Package report materializes a filtered working copy of the offer store and
// computes the reporting aggregates over it.
package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"joboffers/internal/metrics"
	"joboffers/internal/offer"
	"joboffers/internal/storage"
)

// ErrStaleView is returned by queries on a View that a later BuildView has
// replaced.
var ErrStaleView = errors.New("report: working view was rebuilt")

// Aggregator owns the working table of one store.
type Aggregator struct {
	repo    storage.Repository
	log     *zap.Logger
	metrics metrics.Backend

	// mu serializes Snapshot callers; BuildView alone does not lock.
	mu  sync.Mutex
	gen atomic.Uint64
}

// New builds an Aggregator. log and m may be nil.
func New(repo storage.Repository, log *zap.Logger, m metrics.Backend) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		repo:    repo,
		log:     log.With(zap.String("component", "report")),
		metrics: metrics.OrNop(m),
	}
}

// View is a handle on the working table as built for one Filter.
type View struct {
	agg    *Aggregator
	gen    uint64
	Filter storage.Filter
}

// BuildView replaces the working table with the rows matching f. Views
// returned by earlier calls become stale, even if this call fails.
func (a *Aggregator) BuildView(ctx context.Context, f storage.Filter) (v *View, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStep(a.metrics, "build_view", start, err) }()

	gen := a.gen.Add(1)
	if err := a.repo.RebuildView(ctx, f); err != nil {
		a.log.Error("build working view failed", zap.Any("filter", f), zap.Error(err))
		return nil, fmt.Errorf("build view: %w", err)
	}
	a.log.Debug("working view built", zap.Any("filter", f), zap.Uint64("generation", gen))
	return &View{agg: a, gen: gen, Filter: f}, nil
}

func (v *View) check() error {
	if v.agg.gen.Load() != v.gen {
		return ErrStaleView
	}
	return nil
}

func (v *View) count(ctx context.Context, dim storage.Dimension) ([]storage.GroupCount, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	return v.agg.repo.CountView(ctx, dim)
}

// ByLocation counts view rows per location, most frequent first.
func (v *View) ByLocation(ctx context.Context) ([]storage.GroupCount, error) {
	return v.count(ctx, storage.DimLocation)
}

// ByExperience counts view rows per experience level, most frequent first.
func (v *View) ByExperience(ctx context.Context) ([]storage.GroupCount, error) {
	return v.count(ctx, storage.DimExperience)
}

// ByOperatingMode counts view rows per operating mode, most frequent first.
func (v *View) ByOperatingMode(ctx context.Context) ([]storage.GroupCount, error) {
	return v.count(ctx, storage.DimOperatingMode)
}

// ByYearMonth counts view rows per YYYY-MM of date_add, oldest first. Rows
// without a date are grouped under "".
func (v *View) ByYearMonth(ctx context.Context) ([]storage.GroupCount, error) {
	return v.count(ctx, storage.DimYearMonth)
}

func (v *View) offers(ctx context.Context) ([]offer.Offer, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	return v.agg.repo.ViewOffers(ctx)
}

// AverageSalary returns the rounded average salary midpoints per
// (experience, currency), b2b and permanent contracts side by side.
func (v *View) AverageSalary(ctx context.Context) ([]SalaryRow, error) {
	offers, err := v.offers(ctx)
	if err != nil {
		return nil, err
	}
	return averageSalary(offers), nil
}

// Technologies ranks (technology, level) pairs by popularity.
func (v *View) Technologies(ctx context.Context) ([]TechRow, error) {
	offers, err := v.offers(ctx)
	if err != nil {
		return nil, err
	}
	return technologies(offers), nil
}

// Report is every aggregate over one view.
type Report struct {
	Filter          storage.Filter       `json:"filter"`
	Offers          int                  `json:"offers"`
	ByLocation      []storage.GroupCount `json:"by_location"`
	ByExperience    []storage.GroupCount `json:"by_experience"`
	ByOperatingMode []storage.GroupCount `json:"by_operating_mode"`
	ByYearMonth     []storage.GroupCount `json:"by_year_month"`
	AverageSalary   []SalaryRow          `json:"average_salary"`
	Technologies    []TechRow            `json:"technologies"`
}

// Report computes all aggregates. The view must not be rebuilt meanwhile.
func (v *View) Report(ctx context.Context) (Report, error) {
	r := Report{Filter: v.Filter}

	counts := []struct {
		dim storage.Dimension
		dst *[]storage.GroupCount
	}{
		{storage.DimLocation, &r.ByLocation},
		{storage.DimExperience, &r.ByExperience},
		{storage.DimOperatingMode, &r.ByOperatingMode},
		{storage.DimYearMonth, &r.ByYearMonth},
	}
	for _, c := range counts {
		rows, err := v.count(ctx, c.dim)
		if err != nil {
			return Report{}, fmt.Errorf("count by %s: %w", c.dim, err)
		}
		*c.dst = rows
	}

	offers, err := v.offers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read view: %w", err)
	}
	r.Offers = len(offers)
	r.AverageSalary = averageSalary(offers)
	r.Technologies = technologies(offers)
	return r, nil
}

// Snapshot rebuilds the view for f and reports on it while holding the
// aggregator lock, so concurrent callers never observe each other's filter.
func (a *Aggregator) Snapshot(ctx context.Context, f storage.Filter) (Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, err := a.BuildView(ctx, f)
	if err != nil {
		return Report{}, err
	}
	return v.Report(ctx)
}

// Options are the distinct values a Filter can be populated with.
type Options struct {
	Categories     []string `json:"categories"`
	Locations      []string `json:"locations"`
	Positions      []string `json:"positions"`
	Experiences    []string `json:"experiences"`
	OperatingModes []string `json:"operating_modes"`
}

// FilterOptions lists the distinct non-null values of the filterable columns
// in the primary table, each sorted.
func (a *Aggregator) FilterOptions(ctx context.Context) (Options, error) {
	var o Options
	for col, dst := range map[string]*[]string{
		"category":       &o.Categories,
		"location":       &o.Locations,
		"position":       &o.Positions,
		"experience":     &o.Experiences,
		"operating_mode": &o.OperatingModes,
	} {
		vals, err := a.repo.Distinct(ctx, col)
		if err != nil {
			return Options{}, fmt.Errorf("distinct %s: %w", col, err)
		}
		if vals == nil {
			vals = []string{}
		}
		*dst = vals
	}
	return o, nil
}
