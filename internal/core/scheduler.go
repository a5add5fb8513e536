package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"atlas-system/internal/config"
)

// ScheduledJob is a task run periodically by the Scheduler.
type ScheduledJob struct {
	// ID is a unique identifier for the job
	ID string

	// Interval is how often the job should run
	Interval time.Duration

	// Delay postpones the first run. Zero runs the job immediately.
	Delay time.Duration

	// Task is the function to execute
	Task func(context.Context) error

	// Internal fields
	cancel  context.CancelFunc
	running bool
	busy    sync.Mutex
}

// Scheduler runs the engine's periodic jobs: the heartbeat that feeds the
// queue and housekeeping such as retention. Monitor checks themselves run
// on the Queue's workers.
type Scheduler struct {
	config config.SchedulerConfig

	// Job management
	jobs   map[string]*ScheduledJob
	jobsMu sync.RWMutex

	// Lifecycle management
	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a new scheduler with the given configuration.
//
// Parameters:
//   - cfg: Scheduler configuration (heartbeat, retries)
//
// Returns:
//   - *Scheduler: Initialized scheduler instance
func NewScheduler(cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		config: cfg,
		jobs:   make(map[string]*ScheduledJob),
	}
}

// Start starts the scheduler. Jobs added afterwards stop when ctx is
// cancelled or Stop is called.
//
// Parameters:
//   - ctx: Context bounding the lifetime of every job
//
// Returns:
//   - error: An error if the scheduler is already running
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	log.Info().Msg("Scheduler started")

	return nil
}

// Stop stops all jobs and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	log.Info().Msg("Stopping scheduler")

	if s.cancel != nil {
		s.cancel()
	}

	s.jobsMu.Lock()
	for _, job := range s.jobs {
		s.stopJobUnsafe(job)
	}
	s.jobsMu.Unlock()

	s.wg.Wait()

	s.running = false
	log.Info().Msg("Scheduler stopped")
}

// AddJob adds a job and starts it.
//
// Parameters:
//   - job: Job to add and schedule
//
// Returns:
//   - error: An error if the scheduler is stopped or the ID is taken
func (s *Scheduler) AddJob(job *ScheduledJob) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s has no interval", job.ID)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}

	s.startJobUnsafe(job)
	s.jobs[job.ID] = job
	log.Debug().Str("job_id", job.ID).Dur("interval", job.Interval).Msg("Job added")

	return nil
}

// RemoveJob stops and removes a job.
//
// Parameters:
//   - jobID: ID of the job to remove
//
// Returns:
//   - error: An error if no job has that ID
func (s *Scheduler) RemoveJob(jobID string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job with ID %s not found", jobID)
	}

	s.stopJobUnsafe(job)
	delete(s.jobs, jobID)

	log.Debug().Str("job_id", jobID).Msg("Job removed")
	return nil
}

// GetJobCount returns the number of currently scheduled jobs.
func (s *Scheduler) GetJobCount() int {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	return len(s.jobs)
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// startJobUnsafe starts a job. The caller holds jobsMu.
func (s *Scheduler) startJobUnsafe(job *ScheduledJob) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	job.cancel = cancel
	job.running = true

	s.wg.Add(1)
	go s.runJob(jobCtx, job)
}

// stopJobUnsafe stops a job. The caller holds jobsMu.
func (s *Scheduler) stopJobUnsafe(job *ScheduledJob) {
	if !job.running {
		return
	}
	if job.cancel != nil {
		job.cancel()
	}
	job.running = false
}

func (s *Scheduler) runJob(ctx context.Context, job *ScheduledJob) {
	defer s.wg.Done()

	log.Debug().Str("job_id", job.ID).Msg("Job started")

	if job.Delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(job.Delay):
		}
	}
	s.executeJobTask(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("job_id", job.ID).Msg("Job stopped")
			return
		case <-ticker.C:
			s.executeJobTask(ctx, job)
		}
	}
}

// executeJobTask runs one tick of a job unless the previous tick is still
// running.
func (s *Scheduler) executeJobTask(ctx context.Context, job *ScheduledJob) {
	if !job.busy.TryLock() {
		log.Warn().Str("job_id", job.ID).Msg("Previous run still in progress, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer job.busy.Unlock()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("job_id", job.ID).Interface("panic", r).Msg("Job panicked")
			}
		}()

		s.executeWithRetry(ctx, job)
	}()
}

// executeWithRetry runs the task, retrying up to MaxRetries times with a
// linear backoff.
func (s *Scheduler) executeWithRetry(ctx context.Context, job *ScheduledJob) {
	maxRetries := s.config.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		err := job.Task(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info().Str("job_id", job.ID).Int("attempt", attempt+1).Msg("Job succeeded after retry")
			}
			return
		}

		if attempt < maxRetries {
			log.Warn().Str("job_id", job.ID).Int("attempt", attempt+1).Err(err).Msg("Job failed, retrying")

			backoff := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				continue
			}
		} else {
			log.Error().Str("job_id", job.ID).Int("attempts", attempt+1).Err(err).Msg("Job failed after all retries")
		}
	}
}
