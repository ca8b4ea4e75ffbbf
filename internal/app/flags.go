package app

import (
	"flag"

	"joboffers/internal/config"
	"joboffers/internal/metrics"
	"joboffers/internal/reconcile"
)

// BindFlags registers the store, metrics and log flags on fs. Defaults come
// from cfg, and parsed values are written back into it.
func BindFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Store.Kind, "store", cfg.Store.Kind, "storage backend: sqlite, postgres or mssql (env STORE_KIND)")
	fs.StringVar(&cfg.Store.DSN, "dsn", cfg.Store.DSN, "storage DSN; a file path for sqlite (env STORE_DSN)")
	fs.IntVar(&cfg.Store.MaxConns, "max-conns", cfg.Store.MaxConns, "max open connections, 0 = backend default (env STORE_MAX_CONNS)")
	fs.StringVar(&cfg.Metrics.Backend, "metrics-backend", cfg.Metrics.Backend, "metrics backend: none or datadog (env METRICS_BACKEND)")
	fs.StringVar(&cfg.Metrics.Tags, "metrics-tags", cfg.Metrics.Tags, "extra comma-separated metrics tags (env METRICS_TAGS)")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug, info, warn or error (env LOG_LEVEL)")
	fs.StringVar(&cfg.Log.ErrorFile, "log-error-file", cfg.Log.ErrorFile, "also write errors as JSON lines to this file (env LOG_ERROR_FILE)")
}

// Summary is the end-of-run line printed by the ingestion commands.
type Summary struct {
	RunID     string `json:"run_id"`
	Documents int64  `json:"documents"`
	Rejected  int64  `json:"rejected"`
	Inserted  int64  `json:"inserted"`
	Updated   int64  `json:"updated"`
	Skipped   int64  `json:"skipped"`
	Failed    int64  `json:"failed"`
	BatchRows int64  `json:"batch_rows"`
	Collapsed int64  `json:"collapsed"`
}

// Summarize reads the run totals from the recorder.
func (r *Runtime) Summarize() Summary {
	c := func(name string, labels metrics.Labels) int64 {
		return int64(r.Metrics.Counter(name, labels))
	}
	outcome := func(o reconcile.Outcome) int64 {
		return c(metrics.UpsertTotal, metrics.Labels{"outcome": o.String()})
	}
	return Summary{
		RunID:     r.RunID,
		Documents: c(metrics.DocumentsTotal, metrics.Labels{"status": "ok"}),
		Rejected:  c(metrics.DocumentsTotal, metrics.Labels{"status": "rejected"}),
		Inserted:  outcome(reconcile.Inserted),
		Updated:   outcome(reconcile.Updated),
		Skipped:   outcome(reconcile.Skipped),
		Failed:    outcome(reconcile.Failed),
		BatchRows: c(metrics.BatchRowsTotal, metrics.Labels{"status": "changed"}),
		Collapsed: c(metrics.CollapsedTotal, nil),
	}
}
