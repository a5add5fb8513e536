package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"atlas-system/internal/growth"
	"atlas-system/internal/storage"
)

// heartbeat enqueues every enabled monitor.
func (e *Engine) heartbeat(ctx context.Context) error {
	monitors, err := e.store.GetEnabledMonitors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled monitors: %w", err)
	}

	queued := 0
	for _, m := range monitors {
		if e.queue.Enqueue(m.ID) {
			queued++
		}
	}

	log.Debug().Int("monitors", len(monitors)).Int("queued", queued).Msg("Heartbeat")
	return nil
}

// prune deletes usage samples, feed rows and logs older than the
// retention period.
func (e *Engine) prune(ctx context.Context) error {
	cutoff := e.now().Add(-e.config.Storage.Retention)
	removed, err := e.store.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	log.Info().Time("cutoff", cutoff).Int64("rows", removed).Msg("History pruned")
	return nil
}

// RunMonitor runs the check pipeline of one monitor:
//
//  1. load the monitor
//  2. run its checker
//  3. on failure record the error and evaluate the connection rule
//  4. on success persist the snapshot, refresh growth estimates and
//     evaluate every notify rule
//
// A returned error is a persistence failure; it stops the remaining steps
// of this monitor only.
func (e *Engine) RunMonitor(ctx context.Context, monitorID int64) error {
	m, err := e.store.GetMonitor(ctx, monitorID)
	if err != nil {
		if storage.IsNotFound(err) {
			log.Debug().Int64("monitor_id", monitorID).Msg("Monitor no longer exists")
			return nil
		}
		return fmt.Errorf("failed to load monitor: %w", err)
	}
	if !m.Enabled {
		return nil
	}

	previousBoot := m.LastBootTime

	log.Debug().Int64("monitor_id", m.ID).Str("type", m.Type).Msg("Executing check")

	snap, checkErr := e.checker.ExecuteCheck(ctx, m)
	if checkErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.recordFailure(ctx, m, checkErr)
	}

	if err := e.store.UpdateMonitorMetrics(ctx, m.ID, snap); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}

	drives, files, err := e.refreshEstimates(ctx, m.ID)
	if err != nil {
		return err
	}

	fresh, err := e.store.GetMonitor(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("failed to reload monitor: %w", err)
	}

	if err := e.alerter.Connection(ctx, fresh, nil); err != nil {
		return err
	}
	if err := e.alerter.Reboot(ctx, fresh, previousBoot); err != nil {
		return err
	}
	if err := e.alerter.Certificate(ctx, fresh); err != nil {
		return err
	}
	if err := e.alerter.CPU(ctx, fresh, &snap.Feed); err != nil {
		return err
	}
	if err := e.alerter.Memory(ctx, fresh, &snap.Feed); err != nil {
		return err
	}
	for i := range drives {
		if err := e.alerter.Drive(ctx, fresh, &drives[i]); err != nil {
			return err
		}
	}
	for i := range files {
		if err := e.alerter.File(ctx, fresh, &files[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, m *storage.Monitor, checkErr error) error {
	message := checkErr.Error()

	log.Warn().Err(checkErr).Int64("monitor_id", m.ID).Str("type", m.Type).Msg("Check failed")

	if err := e.store.SetMonitorError(ctx, m.ID, message); err != nil {
		return fmt.Errorf("failed to record check error: %w", err)
	}
	if _, err := e.store.AppendLog(ctx, m.ID, nil, storage.LogTypeError, message); err != nil {
		return fmt.Errorf("failed to append error log: %w", err)
	}
	return e.alerter.Connection(ctx, m, checkErr)
}

// refreshEstimates recomputes the growth estimates of the monitor's drives
// and database files from the configured usage window. The returned rows
// carry the new estimates.
func (e *Engine) refreshEstimates(ctx context.Context, monitorID int64) ([]storage.Drive, []storage.DatabaseFile, error) {
	since := e.now().Add(-e.config.Checks.GrowthWindow)

	drives, err := e.store.DrivesForMonitor(ctx, monitorID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load drives: %w", err)
	}
	for i := range drives {
		d := &drives[i]
		if d.Missing {
			continue
		}
		res, err := e.estimate(ctx, storage.EntityDrive, d.ID, since, d.Size)
		if err != nil {
			return nil, nil, err
		}
		if err := e.store.SetDriveEstimate(ctx, d.ID, res.GrowthRate, res.DaysTillFull); err != nil {
			return nil, nil, fmt.Errorf("failed to store drive estimate: %w", err)
		}
		d.GrowthRate, d.DaysTillFull = res.GrowthRate, res.DaysTillFull
	}

	files, err := e.store.FilesForMonitor(ctx, monitorID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load database files: %w", err)
	}
	for i := range files {
		f := &files[i]
		res, err := e.estimate(ctx, storage.EntityFile, f.ID, since, f.MaxSize)
		if err != nil {
			return nil, nil, err
		}
		if err := e.store.SetFileEstimate(ctx, f.ID, res.GrowthRate, res.DaysTillFull); err != nil {
			return nil, nil, fmt.Errorf("failed to store file estimate: %w", err)
		}
		f.GrowthRate, f.DaysTillFull = res.GrowthRate, res.DaysTillFull
	}

	return drives, files, nil
}

func (e *Engine) estimate(ctx context.Context, kind storage.EntityKind, id int64, since time.Time, capacity int64) (growth.Result, error) {
	window, err := e.store.UsageWindow(ctx, kind, id, since)
	if err != nil {
		return growth.Result{}, fmt.Errorf("failed to load usage window: %w", err)
	}
	samples := make([]growth.Sample, len(window))
	for i, s := range window {
		samples[i] = growth.Sample{Used: s.Used, At: s.At}
	}
	return growth.Estimate(samples, capacity), nil
}
