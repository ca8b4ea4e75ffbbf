// Command ingest_feed loads justjoin.it JSON offer dumps into the offer
// store, one batch transaction per dump file.
//
// Dumps are expected under monthly directories:
//
//	feeds/2023-01/offers_0101.json
//	feeds/2023-02/offers_0201.json
//
// Usage:
//
//	ingest_feed -root ./feeds -since 2023-01 -collapse
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"joboffers/internal/app"
	"joboffers/internal/config"
	"joboffers/internal/extract"
	"joboffers/internal/metrics"
	"joboffers/internal/offer"
	"joboffers/internal/reconcile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("ingest_feed", flag.ContinueOnError)
	fs.SetOutput(stderr)
	app.BindFlags(fs, &cfg)

	root := fs.String("root", "", "directory holding YYYY-MM dump folders (required)")
	since := fs.String("since", extract.DefaultFeedSince, "skip month folders older than YYYY-MM")
	collapse := fs.Bool("collapse", false, "remove older duplicates after ingesting")
	schedule := fs.String("schedule", "", `cron spec to repeat the run, e.g. "0 3 * * *" (empty = run once)`)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *root == "" {
		fmt.Fprintln(stderr, "missing -root")
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	rt, err := app.Open(ctx, "ingest_feed", cfg)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer rt.Close()

	f := &feeder{
		log: rt.Log,
		m:   rt.Metrics,
		rec: reconcile.New(rt.Store, rt.Log, rt.Metrics),
	}

	err = app.RunScheduled(ctx, *schedule, rt.Log, func(ctx context.Context) error {
		start := time.Now()
		err := f.run(ctx, *root, *since)
		if err == nil && *collapse {
			f.rec.CollapseDuplicates(ctx)
		}
		metrics.ObserveStep(rt.Metrics, "ingest_feed", start, err)
		return err
	})
	if err != nil {
		rt.Log.Error("feed ingest failed", zap.Error(err))
		fmt.Fprintf(stderr, "ingest: %v\n", err)
		return 1
	}

	if err := json.NewEncoder(stdout).Encode(rt.Summarize()); err != nil {
		fmt.Fprintf(stderr, "encode summary: %v\n", err)
		return 1
	}
	return 0
}

type feeder struct {
	log *zap.Logger
	m   metrics.Backend
	rec *reconcile.Reconciler
}

// run ingests every dump under root. A dump that is not a JSON array is
// logged and skipped; only an unreadable root stops the pass.
func (f *feeder) run(ctx context.Context, root, since string) error {
	files, err := extract.FindFeedFiles(root, since)
	if err != nil {
		return err
	}
	f.log.Info("feed files found", zap.Int("files", len(files)), zap.String("since", since))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := f.decode(path)
		if err != nil {
			f.log.Warn("feed file skipped", zap.String("file", path), zap.Error(err))
			continue
		}
		n := f.rec.UpsertBatch(ctx, batch)
		f.log.Info("feed file ingested",
			zap.String("file", path),
			zap.Int("offers", len(batch)),
			zap.Int64("rows_changed", n),
		)
	}
	return nil
}

func (f *feeder) decode(path string) ([]offer.Offer, error) {
	var batch []offer.Offer
	reject := func(err error) {
		f.m.IncCounter(metrics.DocumentsTotal, 1, metrics.Labels{"status": "rejected"})
		f.log.Warn("feed record skipped", zap.String("file", path), zap.Error(err))
	}

	err := extract.DecodeFeedFile(path,
		func(rec extract.FeedRecord) error {
			o, err := extract.FromFeedRecord(rec)
			if err != nil {
				reject(err)
				return nil
			}
			f.m.IncCounter(metrics.DocumentsTotal, 1, metrics.Labels{"status": "ok"})
			batch = append(batch, o)
			return nil
		},
		func(_ int, err error) { reject(err) },
	)
	return batch, err
}
