package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"astroclub.org/internal/obs"
)

// Job is a periodic maintenance task.
type Job struct {
	Name string
	Run  func(ctx context.Context)
}

// Resync runs jobs on a cron schedule: cache invalidation as a safety net for
// missed notifications, and idle session eviction.
type Resync struct {
	cron    *cron.Cron
	timeout time.Duration
}

// NewResync registers jobs under schedule (standard cron or "@every 5m").
func NewResync(schedule string, jobs ...Job) (*Resync, error) {
	r := &Resync{cron: cron.New(), timeout: time.Minute}
	for _, job := range jobs {
		if _, err := r.cron.AddFunc(schedule, func() { r.run(job) }); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.Name, err)
		}
	}
	return r, nil
}

func (r *Resync) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	start := time.Now()
	job.Run(ctx)
	obs.Info("resync_job_finished", map[string]any{"job": job.Name, "took_ms": time.Since(start).Milliseconds()})
}

// Start begins scheduling.
func (r *Resync) Start() { r.cron.Start() }

// Stop halts scheduling and waits for running jobs.
func (r *Resync) Stop() {
	<-r.cron.Stop().Done()
}

// InvalidateJob returns a job that drops the given caches and tells
// subscribers to refetch the collections.
func InvalidateJob(feed *Feed, collections []string, invalidators ...func()) Job {
	return Job{
		Name: "invalidate",
		Run: func(context.Context) {
			for _, inv := range invalidators {
				inv()
			}
			for _, c := range collections {
				feed.Deliver(Change{Collection: c, Action: "resync"})
			}
		},
	}
}
