// Package janitor removes expired terminal jobs on a cron schedule. It runs
// as a background goroutine inside transd, waking every interval and
// sweeping when the schedule says a run is due.
package janitor

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fcs7/translate-php-tool/internal/job"
)

// checkInterval is how often the goroutine wakes to test the schedule.
const checkInterval = 30 * time.Second

// Janitor sweeps terminal jobs older than maxAge off disk, out of the
// registry, and out of the artifact mirror.
type Janitor struct {
	registry *job.Registry
	store    job.ArtifactStore
	maxAge   time.Duration
	schedule cron.Schedule
	log      *slog.Logger

	nextRun time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a janitor. store may be nil. scheduleExpr is a standard
// 5-field cron expression.
func New(registry *job.Registry, store job.ArtifactStore, scheduleExpr string, maxAge time.Duration, log *slog.Logger) (*Janitor, error) {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(scheduleExpr)
	if err != nil {
		return nil, err
	}
	return &Janitor{
		registry: registry,
		store:    store,
		maxAge:   maxAge,
		schedule: schedule,
		log:      log,
	}, nil
}

// Start begins the background goroutine.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	j.nextRun = j.schedule.Next(time.Now())

	go func() {
		defer close(j.done)
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				if now.Before(j.nextRun) {
					continue
				}
				j.nextRun = j.schedule.Next(now)
				j.Sweep(ctx)
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to finish.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	if j.done != nil {
		<-j.done
	}
}

// Sweep removes every expired terminal job. Exported so an operator can
// trigger it outside the schedule.
func (j *Janitor) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-j.maxAge)
	expired := j.registry.ExpiredBefore(cutoff)

	removed := 0
	for _, old := range expired {
		if err := os.RemoveAll(old.Dir); err != nil {
			j.log.Warn("janitor: failed to remove job dir", "job_id", old.ID, "error", err)
			continue
		}
		if j.store != nil {
			if err := j.store.RemoveJob(ctx, old.ID); err != nil {
				j.log.Warn("janitor: failed to remove mirrored artifacts", "job_id", old.ID, "error", err)
			}
		}
		if err := j.registry.Remove(ctx, old.ID); err != nil {
			j.log.Warn("janitor: failed to drop job from registry", "job_id", old.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.log.Info("janitor: swept expired jobs", "removed", removed)
	}
	return removed
}
