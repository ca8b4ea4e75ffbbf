package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RunScheduled runs job once when spec is empty and returns its error.
// Otherwise job runs immediately and then on every tick of the cron spec
// (standard 5-field or "@every 1h") until ctx is done; a tick that fires
// while the previous run is still going is skipped. Job errors are logged
// and do not stop the schedule.
func RunScheduled(ctx context.Context, spec string, log *zap.Logger, job func(context.Context) error) error {
	if spec == "" {
		return job(ctx)
	}

	cl := cron.PrintfLogger(zap.NewStdLog(log.With(zap.String("component", "cron"))))
	c := cron.New(cron.WithLogger(cl))

	// The first run shares the skip guard with the scheduled ones.
	tick := cron.SkipIfStillRunning(cl)(cron.FuncJob(func() {
		if err := job(ctx); err != nil {
			log.Error("scheduled run failed", zap.Error(err))
		}
	}))
	if _, err := c.AddJob(spec, tick); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	log.Info("schedule started", zap.String("spec", spec))
	c.Start()
	tick.Run()

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("schedule stopped")
	return nil
}
