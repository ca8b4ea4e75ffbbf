// Command extract_offer runs the extraction engine on offer pages and prints
// the normalized offers as JSON, without touching the store. It is the
// tool for authoring and checking selector specs.
//
// Usage (stdin):
//
//	cat page.html | extract_offer -selectors selectors.yaml -source justjoin.it
//
// Usage (fetch URL; the site is matched from the URL unless -source is set):
//
//	extract_offer -selectors selectors.yaml -url "https://justjoin.it/job-offer/acme-go"
//
// Usage (directory mode, one JSON array):
//
//	extract_offer -selectors selectors.yaml -dir ./pages -source justjoin.it
//
// Debug (match count and first text per configured field):
//
//	cat page.html | extract_offer -selectors selectors.yaml -source justjoin.it -fields
//
// Debug (print outer HTML or text for a raw CSS selector):
//
//	cat page.html | extract_offer -selector "div.offer-header" -text
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"joboffers/internal/config"
	"joboffers/internal/extract"
	"joboffers/internal/logging"
	"joboffers/internal/offer"
	"joboffers/internal/selector"
)

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
		http.DefaultClient,
	))
}

// document is one extracted page as printed.
type document struct {
	File   string      `json:"file,omitempty"`
	Offer  offer.Offer `json:"offer"`
	Errors []string    `json:"errors"`
}

// run returns 0 for success, 2 for usage/config errors and 1 for runtime
// errors.
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("extract_offer", flag.ContinueOnError)
	fs.SetOutput(stderr)

	selectorsPath := fs.String("selectors", cfg.SelectorsPath, "selector spec (YAML or JSON) (env SELECTORS_PATH)")
	source := fs.String("source", "", "site layout to apply; derived from -url when empty")
	urlFlag := fs.String("url", "", "fetch the page from this URL instead of stdin")
	dirFlag := fs.String("dir", "", "directory of saved pages (one offer per file)")
	timeout := fs.Duration("timeout", cfg.HTTPTimeout, "timeout for -url fetch")
	fields := fs.Bool("fields", false, "Debug: print locator matches per field instead of JSON")
	debugSelector := fs.String("selector", "", "Debug: CSS selector to print matches for (not JSON)")
	onlyText := fs.Bool("text", false, "Debug: print text blocks for -selector matches")
	logLevel := fs.String("log-level", "warn", "field warnings go to stderr at this level")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *urlFlag != "" && *dirFlag != "" {
		fmt.Fprintln(stderr, "use only one of -url or -dir")
		return 2
	}

	log, closeLog, err := logging.NewWithWriter(stderr, logging.Options{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(stderr, "logging: %v\n", err)
		return 2
	}
	defer closeLog()

	loader := extract.NewLoader(httpClient, *timeout)
	load := func() (*goquery.Document, error) {
		if *urlFlag != "" {
			return loader.Load(ctx, *urlFlag)
		}
		return goquery.NewDocumentFromReader(stdin)
	}

	// Raw selector debugging needs HTML but no selector spec.
	if *debugSelector != "" {
		doc, err := load()
		if err != nil {
			fmt.Fprintf(stderr, "load html: %v\n", err)
			return 1
		}
		extract.DebugPrintSelector(stdout, doc, *debugSelector, *onlyText)
		return 0
	}

	spec, err := selector.LoadFile(*selectorsPath)
	if err != nil {
		fmt.Fprintf(stderr, "load selectors: %v\n", err)
		return 2
	}

	if *source == "" && *urlFlag != "" {
		if *source, err = extract.MatchSite(*urlFlag, spec.Sources()); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 2
		}
	}
	if *source == "" {
		fmt.Fprintln(stderr, "missing -source")
		return 2
	}
	site, ok := spec.Site(*source)
	if !ok {
		fmt.Fprintf(stderr, "unknown source %q (have %v)\n", *source, spec.Sources())
		return 2
	}

	engine := extract.NewEngine(log, nil)
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)

	if *dirFlag != "" {
		if err := extractDir(stdout, enc, engine, site, *dirFlag, log); err != nil {
			fmt.Fprintf(stderr, "dir extract: %v\n", err)
			return 1
		}
		return 0
	}

	doc, err := load()
	if err != nil {
		fmt.Fprintf(stderr, "load html: %v\n", err)
		return 1
	}

	if *fields {
		extract.DebugPrintSite(stdout, doc, site)
		return 0
	}

	if err := enc.Encode(toDocument("", engine.Extract(doc, site, *urlFlag))); err != nil {
		fmt.Fprintf(stderr, "encode json: %v\n", err)
		return 1
	}
	return 0
}

// extractDir streams one JSON array, an element per readable file.
func extractDir(w io.Writer, enc *json.Encoder, engine *extract.Engine, site selector.Site, dir string, log *zap.Logger) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	first := true
	err := extract.StreamDir(dir,
		func(name string, doc *goquery.Document) error {
			if !first {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			first = false
			return enc.Encode(toDocument(name, engine.Extract(doc, site, "")))
		},
		func(name string, err error) {
			log.Warn("file skipped", zap.String("file", name), zap.Error(err))
		},
	)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "]\n")
	return err
}

func toDocument(file string, res extract.Result) document {
	d := document{File: file, Offer: res.Offer, Errors: []string{}}
	for _, err := range res.Errors {
		d.Errors = append(d.Errors, err.Error())
	}
	return d
}
