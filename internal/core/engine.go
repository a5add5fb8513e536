// Package core provides the monitoring engine of Atlas System.
//
// The engine is responsible for:
//   - Running the heartbeat that enqueues every enabled monitor
//   - Running each monitor's check pipeline on the job queue
//   - Feeding check results to the notification rules
//   - Pruning old history
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"atlas-system/internal/alert"
	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

// Store is the persistence used by the check pipeline.
type Store interface {
	alert.Store

	GetMonitor(ctx context.Context, id int64) (*storage.Monitor, error)
	GetEnabledMonitors(ctx context.Context) ([]storage.Monitor, error)
	DrivesForMonitor(ctx context.Context, monitorID int64) ([]storage.Drive, error)
	FilesForMonitor(ctx context.Context, monitorID int64) ([]storage.DatabaseFile, error)
	UpdateMonitorMetrics(ctx context.Context, id int64, snap *storage.Snapshot) error
	SetMonitorError(ctx context.Context, id int64, message string) error
	SetDriveEstimate(ctx context.Context, driveID int64, growthRate *float64, daysTillFull *int64) error
	SetFileEstimate(ctx context.Context, fileID int64, growthRate *float64, daysTillFull *int64) error
	UsageWindow(ctx context.Context, kind storage.EntityKind, id int64, since time.Time) ([]storage.UsageSample, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Checker runs the check of one monitor.
type Checker interface {
	ExecuteCheck(ctx context.Context, monitor *storage.Monitor) (*storage.Snapshot, error)
}

// Engine orchestrates scheduling, checks and notification rules.
type Engine struct {
	config    *config.Config
	store     Store
	checker   Checker
	alerter   *alert.Engine
	scheduler *Scheduler
	queue     *Queue
	now       func() time.Time

	running bool
	mu      sync.RWMutex
	cancel  context.CancelFunc
}

// NewEngine creates a monitoring engine.
//
// Parameters:
//   - cfg: Application configuration
//   - store: Persistence Gateway used by the check pipeline
//   - checker: Runs the check of one monitor
//   - sender: Delivers notifications for the rule engine
//
// Returns:
//   - *Engine: Initialized engine, not yet started
func NewEngine(cfg *config.Config, store Store, checker Checker, sender alert.Sender) *Engine {
	e := &Engine{
		config:    cfg,
		store:     store,
		checker:   checker,
		alerter:   alert.NewEngine(store, sender, cfg.Checks),
		scheduler: NewScheduler(cfg.Scheduler),
		now:       func() time.Time { return time.Now().UTC() },
	}
	e.queue = NewQueue(cfg.Scheduler.QueueSize, cfg.Scheduler.WorkerCount, e.RunMonitor)
	return e
}

// Start starts the job queue and the periodic jobs.
//
// Parameters:
//   - ctx: Context for cancellation of the queue and the jobs
//
// Returns:
//   - error: Any error that occurred during startup
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine is already running")
	}

	engineCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	log.Info().Msg("Starting monitoring engine")

	e.queue.Start(engineCtx)

	if err := e.scheduler.Start(engineCtx); err != nil {
		cancel()
		e.queue.Stop()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	jobs := []*ScheduledJob{
		{ID: "heartbeat", Interval: e.config.Scheduler.Heartbeat, Task: e.heartbeat},
	}
	if e.config.Storage.Retention > 0 {
		jobs = append(jobs, &ScheduledJob{ID: "retention", Interval: 24 * time.Hour, Delay: time.Minute, Task: e.prune})
	}
	for _, job := range jobs {
		if err := e.scheduler.AddJob(job); err != nil {
			cancel()
			e.scheduler.Stop()
			e.queue.Stop()
			return fmt.Errorf("failed to schedule %s: %w", job.ID, err)
		}
	}

	e.running = true
	log.Info().Msg("Monitoring engine started successfully")

	return nil
}

// IsRunning returns whether the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop stops the periodic jobs and the queue. Checks in flight are
// cancelled.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	log.Info().Msg("Stopping monitoring engine")

	if e.cancel != nil {
		e.cancel()
	}
	e.scheduler.Stop()
	e.queue.Stop()

	e.running = false
	log.Info().Msg("Monitoring engine stopped")
}

// Enqueue schedules a run of monitorID on the job queue.
//
// Parameters:
//   - monitorID: Monitor to run
//
// Returns:
//   - bool: false when the monitor is already pending or the queue is full
func (e *Engine) Enqueue(monitorID int64) bool {
	return e.queue.Enqueue(monitorID)
}

// Scheduler returns the periodic job scheduler.
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// QueueStats returns the current job queue counters.
func (e *Engine) QueueStats() QueueStats {
	return e.queue.Stats()
}
