// Package alert decides when a monitor, drive or database file condition
// raises, repeats or clears a notification.
//
// Every notify dimension is a two state machine. A nil sent_at is Clear;
// a non-nil sent_at is Alerting since (or last resent at) that time. State
// changes go through a compare-and-set on the previous value, and the
// writer that wins the swap is the only one that logs and dispatches.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

// resendGraceMinutes absorbs scheduler jitter when comparing the time since
// the last send with the resend interval.
const resendGraceMinutes = 0.8

// rebootTolerance is the boot time drift not reported as a reboot.
const rebootTolerance = 60 * time.Second

// Store is the persistence the engine needs.
type Store interface {
	AppendLog(ctx context.Context, monitorID int64, driveID *int64, logType, message string) (bool, error)
	SetNotifyState(ctx context.Context, kind storage.EntityKind, id int64, dim storage.Dimension, prev, next storage.NotifyState) (bool, error)
	NotificationsFor(ctx context.Context, kind storage.EntityKind, id int64, dim storage.Dimension) ([]storage.Notification, error)
}

// Sender delivers one message through one notification channel.
type Sender interface {
	Send(ctx context.Context, n *storage.Notification, subject, message string) error
}

// Engine evaluates notify rules.
type Engine struct {
	store           Store
	sender          Sender
	certWarningDays int
	now             func() time.Time
}

// NewEngine creates an engine persisting through store and dispatching
// through sender.
func NewEngine(store Store, sender Sender, cfg config.ChecksConfig) *Engine {
	return &Engine{
		store:           store,
		sender:          sender,
		certWarningDays: cfg.CertWarningDays,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Condition is one observation of a notify dimension.
type Condition struct {
	Kind      storage.EntityKind
	ID        int64
	Dimension storage.Dimension

	// MonitorID and DriveID scope the log entries.
	MonitorID int64
	DriveID   *int64

	Enabled            bool
	Breach             bool
	ResendAfterMinutes int
	State              storage.NotifyState

	Subject      string
	AlertMessage string
	ClearMessage string
}

// Evaluate applies one observation to the dimension's state machine:
//   - disabled: force Clear without dispatching
//   - Clear and breaching: log an error, dispatch, set sent_at
//   - Alerting and breaching: resend once the resend interval has elapsed
//   - Alerting and not breaching: log success, dispatch the all-clear,
//     reset sent_at
//
// Dispatch failures are logged and never returned. Returned errors are
// persistence failures.
func (e *Engine) Evaluate(ctx context.Context, c Condition) error {
	if !c.Enabled {
		return e.forceClear(ctx, c)
	}

	now := e.now()

	if !c.Breach {
		if c.State.SentAt == nil {
			return nil
		}
		won, err := e.store.SetNotifyState(ctx, c.Kind, c.ID, c.Dimension, c.State, storage.NotifyState{})
		if err != nil || !won {
			return err
		}
		if _, err := e.store.AppendLog(ctx, c.MonitorID, c.DriveID, storage.LogTypeSuccess, c.ClearMessage); err != nil {
			return err
		}
		e.dispatch(ctx, c, c.Subject, c.ClearMessage)
		return nil
	}

	if c.State.SentAt != nil && !e.resendDue(c.ResendAfterMinutes, *c.State.SentAt, now) {
		return nil
	}

	won, err := e.store.SetNotifyState(ctx, c.Kind, c.ID, c.Dimension, c.State, storage.NotifyState{SentAt: &now, Retried: c.State.Retried})
	if err != nil || !won {
		return err
	}
	return e.raise(ctx, c)
}

// raise logs and dispatches an alert whose state write has already won.
func (e *Engine) raise(ctx context.Context, c Condition) error {
	if _, err := e.store.AppendLog(ctx, c.MonitorID, c.DriveID, storage.LogTypeError, c.AlertMessage); err != nil {
		return err
	}
	e.dispatch(ctx, c, c.Subject, c.AlertMessage)
	return nil
}

func (e *Engine) forceClear(ctx context.Context, c Condition) error {
	if c.State.SentAt == nil && c.State.Retried == nil {
		return nil
	}
	_, err := e.store.SetNotifyState(ctx, c.Kind, c.ID, c.Dimension, c.State, storage.NotifyState{})
	return err
}

// resendDue reports whether an alert sent at sentAt should be sent again.
func (e *Engine) resendDue(resendAfterMinutes int, sentAt, now time.Time) bool {
	if resendAfterMinutes <= 0 {
		return false
	}
	return now.Sub(sentAt).Minutes() > float64(resendAfterMinutes)-resendGraceMinutes
}

// dispatch sends to every channel linked to the condition's dimension in
// parallel. One failing channel never prevents delivery to the others.
func (e *Engine) dispatch(ctx context.Context, c Condition, subject, message string) {
	notifications, err := e.store.NotificationsFor(ctx, c.Kind, c.ID, c.Dimension)
	if err != nil {
		log.Error().Err(err).
			Str("kind", string(c.Kind)).
			Int64("id", c.ID).
			Str("dimension", string(c.Dimension)).
			Msg("Failed to load notifications")
		return
	}

	var wg sync.WaitGroup
	for i := range notifications {
		n := &notifications[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.sender.Send(ctx, n, subject, message); err != nil {
				log.Warn().Err(err).
					Int64("monitor_id", c.MonitorID).
					Int64("notification_id", n.ID).
					Str("dimension", string(c.Dimension)).
					Msg("Notification dispatch failed")
			}
		}()
	}
	wg.Wait()
}
