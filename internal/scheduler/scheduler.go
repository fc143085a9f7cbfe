// Package scheduler runs the engine's recurring background jobs on cron
// schedules: broker reconciliation, archive backups and database
// maintenance.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/domain"
	"github.com/alimogh/trdk/internal/events"
)

// Job is one schedulable unit of background work.
type Job interface {
	Run() error
	Name() string
}

// Scheduler owns the cron loop and the registered jobs. Job failures are
// logged and emitted on the trading event channel; a failing job never
// stops the schedule.
type Scheduler struct {
	cron   *cron.Cron
	events *events.Manager
	log    zerolog.Logger

	mu   sync.Mutex
	jobs map[string]Job
}

// New creates a scheduler. The events manager may be nil.
func New(eventsManager *events.Manager, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		events: eventsManager,
		log:    log.With().Str("component", "scheduler").Logger(),
		jobs:   make(map[string]Job),
	}
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job under its name with a cron schedule (six
// fields, seconds first; @every and @hourly shorthands also work). Job
// names are unique.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	if _, ok := s.jobs[job.Name()]; ok {
		s.mu.Unlock()
		return domain.NewConfigError("job %q already scheduled", job.Name())
	}
	s.jobs[job.Name()] = job
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(schedule, func() { s.run(job) }); err != nil {
		s.mu.Lock()
		delete(s.jobs, job.Name())
		s.mu.Unlock()
		return fmt.Errorf("job %q schedule %q: %w", job.Name(), schedule, err)
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a registered job by name, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return domain.NewConfigError("job %q not registered", name)
	}
	s.log.Info().Str("job", name).Msg("Running job immediately")
	s.run(job)
	return nil
}

// run executes one job, logging the outcome and surfacing failures on
// the event channel.
func (s *Scheduler) run(job Job) {
	start := time.Now()
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	if err := job.Run(); err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("elapsed_ms", time.Since(start)).
			Msg("Job failed")
		if s.events != nil {
			s.events.EmitError("scheduler", err, map[string]interface{}{
				"job": job.Name(),
			})
		}
		return
	}
	s.log.Debug().
		Str("job", job.Name()).
		Dur("elapsed_ms", time.Since(start)).
		Msg("Job completed")
}
