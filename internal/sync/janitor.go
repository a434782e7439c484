package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger deletes finished tasks last updated before cutoff.
type Purger interface {
	PurgeTasks(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically purges old finished tasks on a cron schedule.
type Janitor struct {
	cron    *cron.Cron
	purger  Purger
	maxAge  time.Duration
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

// NewJanitor schedules purges of tasks older than maxAge. schedule accepts
// standard five-field cron specs and descriptors such as "@every 1h".
func NewJanitor(schedule string, maxAge time.Duration, purger Purger, logger *slog.Logger) (*Janitor, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		cron:    cron.New(),
		purger:  purger,
		maxAge:  maxAge,
		logger:  logger,
		now:     time.Now,
		timeout: time.Minute,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduling retention job %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins running the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("retention janitor started", "max_age", j.maxAge)
}

// Stop halts the schedule and waits for a running purge to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("retention janitor stopped")
}

// RunOnce purges immediately and returns the number of tasks removed.
func (j *Janitor) RunOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	cutoff := j.now().Add(-j.maxAge)
	n, err := j.purger.PurgeTasks(ctx, cutoff)
	if err != nil {
		j.logger.Error("purging tasks failed", "error", err)
		return 0
	}
	if n > 0 {
		j.logger.Info("purged finished tasks", "count", n, "cutoff", cutoff)
	}
	return n
}
