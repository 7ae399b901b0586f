// Package sweep runs the periodic cleanup of TTL-bounded stores. Expired
// rows are already invisible to readers; the sweeper keeps the tables from
// growing without bound.
package sweep

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is the cron descriptor for the cleanup cadence.
const DefaultSchedule = "@every 10m"

// Job is one named cleanup that reports how many rows it removed.
type Job struct {
	Name string
	Run  func() (int64, error)
}

// Sweeper schedules cleanup jobs on a cron runner.
type Sweeper struct {
	cron *cron.Cron
}

// New creates a Sweeper running the given jobs on the schedule.
func New(schedule string, jobs ...Job) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	runner := cron.New()
	for _, job := range jobs {
		job := job
		_, err := runner.AddFunc(schedule, func() {
			removed, err := job.Run()
			if err != nil {
				log.Printf("sweep: %s: %v", job.Name, err)
				return
			}
			if removed > 0 {
				log.Printf("sweep: %s: removed %d rows", job.Name, removed)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("sweep: schedule %s for %s: %w", schedule, job.Name, err)
		}
	}
	return &Sweeper{cron: runner}, nil
}

// Start begins running jobs on schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
