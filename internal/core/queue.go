package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RunFunc runs the check job of one monitor.
type RunFunc func(ctx context.Context, monitorID int64) error

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Pending  int `json:"pending"`
	Running  int `json:"running"`
	Deferred int `json:"deferred"`
	Workers  int `json:"workers"`
}

// Queue runs monitor jobs on a fixed pool of workers with at most one job
// in flight per monitor.
//
// Enqueueing a monitor that is already pending is a no-op. Enqueueing a
// monitor whose job is running defers a single re-run until it finishes.
type Queue struct {
	run     RunFunc
	workers int
	jobs    chan int64

	mu       sync.Mutex
	pending  map[int64]struct{}
	running  map[int64]struct{}
	deferred map[int64]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewQueue creates a queue holding up to size pending monitors.
func NewQueue(size, workers int, run RunFunc) *Queue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		run:      run,
		workers:  workers,
		jobs:     make(chan int64, size),
		pending:  make(map[int64]struct{}),
		running:  make(map[int64]struct{}),
		deferred: make(map[int64]struct{}),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is
// called.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	log.Info().Int("worker_count", q.workers).Int("capacity", cap(q.jobs)).Msg("Job queue started")
}

// Stop cancels in-flight jobs and waits for the workers to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	log.Info().Msg("Job queue stopped")
}

// Enqueue schedules a run of monitorID. It reports false when the monitor
// is already pending or the queue is full.
func (q *Queue) Enqueue(monitorID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[monitorID]; ok {
		return false
	}
	if _, ok := q.running[monitorID]; ok {
		q.deferred[monitorID] = struct{}{}
		return true
	}
	return q.pushLocked(monitorID)
}

func (q *Queue) pushLocked(monitorID int64) bool {
	select {
	case q.jobs <- monitorID:
		q.pending[monitorID] = struct{}{}
		return true
	default:
		log.Warn().Int64("monitor_id", monitorID).Msg("Job queue full, dropping run")
		return false
	}
}

// Stats returns the current queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending:  len(q.pending),
		Running:  len(q.running),
		Deferred: len(q.deferred),
		Workers:  q.workers,
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			q.mu.Lock()
			delete(q.pending, id)
			q.running[id] = struct{}{}
			q.mu.Unlock()

			q.execute(ctx, id)

			q.mu.Lock()
			delete(q.running, id)
			if _, ok := q.deferred[id]; ok {
				delete(q.deferred, id)
				if ctx.Err() == nil {
					q.pushLocked(id)
				}
			}
			q.mu.Unlock()
		}
	}
}

// execute runs one job. Errors and panics are logged and contained.
func (q *Queue) execute(ctx context.Context, monitorID int64) {
	runID := uuid.NewString()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("run_id", runID).
				Int64("monitor_id", monitorID).
				Str("panic", fmt.Sprint(r)).
				Msg("Monitor job panicked")
		}
	}()

	if err := q.run(ctx, monitorID); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Int64("monitor_id", monitorID).
			Dur("duration", time.Since(start)).
			Msg("Monitor job failed")
		return
	}

	log.Debug().
		Str("run_id", runID).
		Int64("monitor_id", monitorID).
		Dur("duration", time.Since(start)).
		Msg("Monitor job finished")
}
