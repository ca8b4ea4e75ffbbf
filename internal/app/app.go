// Package app wires the shared runtime pieces of the commands: logger,
// store and metrics backend.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"joboffers/internal/config"
	"joboffers/internal/logging"
	"joboffers/internal/metrics"
	"joboffers/internal/metrics/datadog"
	"joboffers/internal/storage"

	// every backend is linked; config picks one.
	_ "joboffers/internal/storage/all"
)

// Runtime holds the opened dependencies of one command run.
type Runtime struct {
	RunID   string
	Log     *zap.Logger
	Store   storage.Repository
	Metrics *metrics.Recorder

	closers []func()
}

// Close releases everything in reverse order of opening.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Open builds the logger, opens and prepares the store and starts the
// metrics backend. On error everything opened so far is released.
func Open(ctx context.Context, command string, cfg config.Config) (*Runtime, error) {
	rt := &Runtime{RunID: uuid.NewString()}
	ready := false
	defer func() {
		if !ready {
			rt.Close()
		}
	}()

	log, closeLog, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		ErrorFile:   cfg.Log.ErrorFile,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeLog)
	rt.Log = log.With(zap.String("cmd", command), zap.String("run_id", rt.RunID))

	backend, closeMetrics, err := OpenMetrics(ctx, cfg.Metrics, rt.Log)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeMetrics)
	rt.Metrics = metrics.NewRecorder(backend)

	repo, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, repo.Close)
	rt.Store = repo

	rt.Log.Info("runtime ready",
		zap.String("store", cfg.Store.Kind),
		zap.String("metrics", cfg.Metrics.Backend),
	)
	ready = true
	return rt, nil
}

// OpenStore opens the configured backend and ensures the schema exists.
func OpenStore(ctx context.Context, cfg config.Store) (storage.Repository, error) {
	repo, err := storage.Open(ctx, storage.Config{Kind: cfg.Kind, DSN: cfg.DSN, MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Kind, err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

// OpenMetrics returns the configured backend (nil for "none") and its
// shutdown func. A backend that fails to start is logged and disabled.
func OpenMetrics(ctx context.Context, cfg config.Metrics, log *zap.Logger) (metrics.Backend, func(), error) {
	switch cfg.Backend {
	case "", "none":
		return nil, func() {}, nil

	case "datadog":
		tags := datadog.ParseTagsCSV(cfg.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.JobName,
			Tags:       tags,
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			log.Warn("datadog backend unavailable, metrics disabled", zap.Error(err))
			return nil, func() {}, nil
		}
		log.Info("metrics enabled", zap.String("backend", "datadog"), zap.String("job", cfg.JobName), zap.Strings("tags", tags))
		return b, func() {
			if err := b.Close(); err != nil {
				log.Warn("datadog final flush failed", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
	}
}
