// Command ingest_html extracts job offers from HTML pages and reconciles them
// into the offer store.
//
// Usage (saved pages of one site):
//
//	ingest_html -selectors selectors.yaml -dir ./pages -source justjoin.it
//
// Usage (one offer URL; the site is matched from the URL):
//
//	ingest_html -selectors selectors.yaml -url "https://justjoin.it/offers/acme-go"
//
// Usage (raw links file, re-run every six hours):
//
//	ingest_html -selectors selectors.yaml -links offers.txt -schedule "@every 6h"
//
// With none of -dir, -url or -links the page is read from stdin and -source
// is required.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"joboffers/internal/app"
	"joboffers/internal/config"
	"joboffers/internal/extract"
	"joboffers/internal/metrics"
	"joboffers/internal/reconcile"
	"joboffers/internal/selector"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, http.DefaultClient))
}

// input is the document source chosen on the command line.
type input struct {
	dir    string
	url    string
	links  string
	source string
	stdin  io.Reader
}

// run returns 0 on success, 2 for usage errors and 1 when the store, the
// selectors or the input cannot be opened.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, httpClient *http.Client) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("ingest_html", flag.ContinueOnError)
	fs.SetOutput(stderr)
	app.BindFlags(fs, &cfg)

	selectorsPath := fs.String("selectors", cfg.SelectorsPath, "selector spec (YAML or JSON) (env SELECTORS_PATH)")
	dir := fs.String("dir", "", "directory of saved offer pages, one offer per file")
	source := fs.String("source", "", "site the -dir or stdin pages come from, e.g. justjoin.it")
	urlFlag := fs.String("url", "", "fetch and ingest a single offer URL")
	linksPath := fs.String("links", "", "file with offer links, one per line")
	timeout := fs.Duration("timeout", cfg.HTTPTimeout, "timeout per page fetch (env HTTP_TIMEOUT)")
	workers := fs.Int("workers", 5, "concurrent page fetches for -links")
	retries := fs.Int("retries", 3, "attempts per page on 429, 5xx or network errors")
	backoff := fs.Duration("backoff", 2*time.Second, "base retry backoff, doubled per attempt")
	maxBackoff := fs.Duration("max-backoff", time.Minute, "retry backoff cap")
	collapse := fs.Bool("collapse", false, "remove older duplicates after ingesting")
	schedule := fs.String("schedule", "", `cron spec to repeat the run, e.g. "@every 6h" (empty = run once)`)

	if err := fs.Parse(args); err != nil {
		return 2
	}

	in := input{dir: *dir, url: *urlFlag, links: *linksPath, source: *source, stdin: stdin}
	n := 0
	for _, v := range []string{in.dir, in.url, in.links} {
		if v != "" {
			n++
		}
	}
	if n > 1 {
		fmt.Fprintln(stderr, "use only one of -dir, -url or -links")
		return 2
	}
	if (in.dir != "" || n == 0) && in.source == "" {
		fmt.Fprintln(stderr, "-source is required with -dir or stdin input")
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	spec, err := selector.LoadFile(*selectorsPath)
	if err != nil {
		fmt.Fprintf(stderr, "load selectors: %v\n", err)
		return 1
	}
	if in.source != "" {
		if _, ok := spec.Site(in.source); !ok {
			fmt.Fprintf(stderr, "unknown source %q (have %v)\n", in.source, spec.Sources())
			return 2
		}
	}

	rt, err := app.Open(ctx, "ingest_html", cfg)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer rt.Close()

	loader := extract.NewLoader(httpClient, *timeout).
		WithRetry(extract.RetryPolicy{Attempts: *retries, BaseBackoff: *backoff, MaxBackoff: *maxBackoff}).
		WithMetrics(rt.Metrics)
	ing := &ingester{
		log:     rt.Log,
		m:       rt.Metrics,
		spec:    spec,
		engine:  extract.NewEngine(rt.Log, rt.Metrics),
		rec:     reconcile.New(rt.Store, rt.Log, rt.Metrics),
		loader:  loader,
		workers: *workers,
	}

	err = app.RunScheduled(ctx, *schedule, rt.Log, func(ctx context.Context) error {
		start := time.Now()
		err := ing.run(ctx, in)
		if err == nil && *collapse {
			ing.rec.CollapseDuplicates(ctx)
		}
		metrics.ObserveStep(rt.Metrics, "ingest_html", start, err)
		return err
	})
	if err != nil {
		rt.Log.Error("ingest failed", zap.Error(err))
		fmt.Fprintf(stderr, "ingest: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	if err := enc.Encode(rt.Summarize()); err != nil {
		fmt.Fprintf(stderr, "encode summary: %v\n", err)
		return 1
	}
	return 0
}

type ingester struct {
	log     *zap.Logger
	m       metrics.Backend
	spec    *selector.Spec
	engine  *extract.Engine
	rec     *reconcile.Reconciler
	loader  *extract.Loader
	workers int
}

// run ingests one pass over in. Only an unreadable input root is returned
// as an error; per-document failures are logged and counted.
func (g *ingester) run(ctx context.Context, in input) error {
	switch {
	case in.dir != "":
		site, _ := g.spec.Site(in.source)
		return extract.StreamDir(in.dir,
			func(name string, doc *goquery.Document) error {
				g.ingest(ctx, doc, site, "", name)
				return ctx.Err()
			},
			func(name string, err error) { g.reject(name, err) },
		)

	case in.url != "":
		g.fetch(ctx, []string{in.url})
		return nil

	case in.links != "":
		links, err := extract.ReadLinksFile(in.links)
		if err != nil {
			return err
		}
		g.log.Info("links loaded", zap.Int("links", len(links)), zap.Int("workers", g.workers))
		g.fetch(ctx, links)
		return ctx.Err()

	default:
		site, _ := g.spec.Site(in.source)
		doc, err := goquery.NewDocumentFromReader(in.stdin)
		if err != nil {
			return &extract.ConfigError{Source: in.source, Reason: "parse stdin", Err: err}
		}
		g.ingest(ctx, doc, site, "", "stdin")
		return nil
	}
}

// fetch downloads and ingests links. Links of unsupported sites and pages
// that fail to load are rejected.
func (g *ingester) fetch(ctx context.Context, links []string) {
	jobs := make([]fetchJob, 0, len(links))
	for _, link := range links {
		source, err := extract.MatchSite(link, g.spec.Sources())
		if err != nil {
			g.reject(link, &extract.ConfigError{Reason: "match site", Err: err})
			continue
		}
		site, _ := g.spec.Site(source)
		jobs = append(jobs, fetchJob{link: link, site: site})
	}

	fetchAll(ctx, g.loader, g.workers, jobs, func(r fetched) {
		if r.err != nil {
			g.reject(r.link, &extract.ConfigError{Source: r.site.Source, Reason: "load page", Err: r.err})
			return
		}
		g.ingest(ctx, r.doc, r.site, r.link, r.link)
	})
}

func (g *ingester) ingest(ctx context.Context, doc *goquery.Document, site selector.Site, link, name string) {
	res := g.engine.Extract(doc, site, link)
	g.m.IncCounter(metrics.DocumentsTotal, 1, metrics.Labels{"status": "ok"})
	out := g.rec.Upsert(ctx, res.Offer)
	g.log.Debug("document ingested",
		zap.String("document", name),
		zap.Stringer("outcome", out),
		zap.Int("field_errors", len(res.Errors)),
	)
}

func (g *ingester) reject(name string, err error) {
	g.m.IncCounter(metrics.DocumentsTotal, 1, metrics.Labels{"status": "rejected"})
	g.log.Warn("document skipped", zap.String("document", name), zap.Error(err))
}
