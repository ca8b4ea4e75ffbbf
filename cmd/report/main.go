// Command report prints the offer aggregates for a filter, or serves them
// over HTTP.
//
// Usage (one report as JSON):
//
//	report -date-from 2024-01-01 -date-to 2024-03-31 -category backend,devops
//
// Usage (values available for each filter):
//
//	report -options
//
// Usage (HTTP, see report.Server for the endpoints):
//
//	report -listen :8080
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"joboffers/internal/app"
	"joboffers/internal/config"
	"joboffers/internal/report"
	"joboffers/internal/storage"
)

const shutdownTimeout = 10 * time.Second

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

	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	app.BindFlags(fs, &cfg)

	var f storage.Filter
	fs.StringVar(&f.DateFrom, "date-from", "", "inclusive YYYY-MM-DD lower bound on date_add")
	fs.StringVar(&f.DateTo, "date-to", "", "inclusive YYYY-MM-DD upper bound on date_add")
	lists := map[string]*[]string{
		"category":       &f.Categories,
		"location":       &f.Locations,
		"position":       &f.Positions,
		"experience":     &f.Experiences,
		"operating-mode": &f.OperatingModes,
	}
	for name, dst := range lists {
		dst := dst
		fs.Func(name, "comma-separated "+name+" values (repeatable)", func(v string) error {
			*dst = append(*dst, report.SplitList(v)...)
			return nil
		})
	}
	options := fs.Bool("options", false, "print the distinct filter values instead of a report")
	listen := fs.String("listen", "", "serve the report over HTTP on this address, e.g. :8080")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := f.Validate(); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	rt, err := app.Open(ctx, "report", cfg)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer rt.Close()

	agg := report.New(rt.Store, rt.Log, rt.Metrics)

	if *listen != "" {
		if err := serve(ctx, *listen, report.NewServer(agg, rt.Log), rt.Log); err != nil {
			rt.Log.Error("http server failed", zap.Error(err))
			fmt.Fprintf(stderr, "serve: %v\n", err)
			return 1
		}
		return 0
	}

	var out any
	if *options {
		out, err = agg.FilterOptions(ctx)
	} else {
		out, err = agg.Snapshot(ctx, f)
	}
	if err != nil {
		rt.Log.Error("report failed", zap.Error(err))
		fmt.Fprintf(stderr, "report: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "encode report: %v\n", err)
		return 1
	}
	return 0
}

// serve runs the report server until ctx is done, then shuts it down.
func serve(ctx context.Context, addr string, s *report.Server, log *zap.Logger) error {
	gin.SetMode(gin.ReleaseMode)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("report server listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("report server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
