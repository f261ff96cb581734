// Package retention prunes the join/leave audit log on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// Pruner deletes audit log entries older than a number of days.
type Pruner interface {
	DeleteOldEvents(days int) (int64, error)
}

// Job periodically prunes a Pruner
type Job struct {
	store  Pruner
	days   int
	runner *cron.Cron
	log    hclog.Logger
}

// New schedules pruning of entries older than days according to the cron
// expression, e.g. "@daily" or "0 3 * * *".
func New(store Pruner, days int, schedule string, logger hclog.Logger) (*Job, error) {
	if days <= 0 {
		return nil, fmt.Errorf("retention: days must be positive, got %d", days)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cl := cronLogger{logger}
	j := &Job{
		store: store,
		days:  days,
		log:   logger,
		runner: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
	}
	if _, err := j.runner.AddFunc(schedule, func() { j.RunOnce() }); err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce prunes immediately
func (j *Job) RunOnce() (int64, error) {
	n, err := j.store.DeleteOldEvents(j.days)
	if err != nil {
		j.log.Error("failed to prune room log", "error", err)
		return 0, err
	}
	j.log.Info("pruned room log", "deleted", n, "days", j.days)
	return n, nil
}

// Run runs the schedule until ctx is done and waits for a running prune
// to finish.
func (j *Job) Run(ctx context.Context) error {
	j.runner.Start()
	<-ctx.Done()
	<-j.runner.Stop().Done()
	return nil
}

// cronLogger adapts hclog to cron.Logger
type cronLogger struct {
	l hclog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
