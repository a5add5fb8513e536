package alert

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"atlas-system/internal/storage"
)

const gigabyte = 1 << 30

// Subject returns the notification subject for m.
func Subject(m *storage.Monitor, what string) string {
	return fmt.Sprintf("[Atlas] %s: %s", hostOf(m), what)
}

// hostOf names the machine a monitor watches: its host, the host of its
// url, or its title.
func hostOf(m *storage.Monitor) string {
	if m.Host != "" {
		return m.Host
	}
	if m.HTTPURL != "" {
		if u, err := url.Parse(m.HTTPURL); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return m.Title
}

// Connection evaluates the connection dimension after a check. checkErr is
// nil when the check succeeded.
//
// Failures below the monitor's retry threshold only count. The alert is
// raised on the failure that reaches it and the counter resets on the next
// success.
func (e *Engine) Connection(ctx context.Context, m *storage.Monitor, checkErr error) error {
	c := Condition{
		Kind:               storage.EntityMonitor,
		ID:                 m.ID,
		Dimension:          storage.DimensionConnection,
		MonitorID:          m.ID,
		Enabled:            m.ConnectionNotify,
		ResendAfterMinutes: m.ConnectionNotifyResendAfterMinutes,
		State:              storage.NotifyState{SentAt: m.ConnectionNotifySentAt, Retried: m.ConnectionNotifyRetried},
		Subject:            Subject(m, "connection"),
		ClearMessage:       fmt.Sprintf("Connection to %s restored", m.Title),
	}

	if checkErr == nil || !c.Enabled {
		if c.Enabled && c.State.SentAt == nil && c.State.Retried != nil {
			_, err := e.store.SetNotifyState(ctx, c.Kind, c.ID, c.Dimension, c.State, storage.NotifyState{})
			return err
		}
		return e.Evaluate(ctx, c)
	}

	c.AlertMessage = fmt.Sprintf("Connection to %s failed: %v", m.Title, checkErr)

	retried := 0
	if c.State.Retried != nil {
		retried = *c.State.Retried
	}
	count := retried + 1
	next := storage.NotifyState{SentAt: c.State.SentAt, Retried: &count}

	now := e.now()
	raise := retried >= m.ConnectionNotifyRetry &&
		(c.State.SentAt == nil || e.resendDue(c.ResendAfterMinutes, *c.State.SentAt, now))
	if raise {
		next.SentAt = &now
	}

	won, err := e.store.SetNotifyState(ctx, c.Kind, c.ID, c.Dimension, c.State, next)
	if err != nil || !won || !raise {
		return err
	}
	return e.raise(ctx, c)
}

// Reboot reports a changed boot time. previous is the boot time stored
// before the check; m carries the new one. The reboot dimension has no
// state: each detected reboot notifies once.
func (e *Engine) Reboot(ctx context.Context, m *storage.Monitor, previous *time.Time) error {
	if !m.RebootNotify || previous == nil || m.LastBootTime == nil {
		return nil
	}
	drift := m.LastBootTime.Sub(*previous)
	if drift < 0 {
		drift = -drift
	}
	if drift <= rebootTolerance {
		return nil
	}

	message := fmt.Sprintf("%s rebooted at %s", m.Title, m.LastBootTime.UTC().Format(time.RFC3339))
	if _, err := e.store.AppendLog(ctx, m.ID, nil, storage.LogTypeWarning, message); err != nil {
		return err
	}
	e.dispatch(ctx, Condition{
		Kind:      storage.EntityMonitor,
		ID:        m.ID,
		Dimension: storage.DimensionReboot,
		MonitorID: m.ID,
	}, Subject(m, "reboot"), message)
	return nil
}

// Certificate evaluates the cert dimension. It needs HTTPCheckCert as well
// as CertNotify, and does nothing without certificate data.
func (e *Engine) Certificate(ctx context.Context, m *storage.Monitor) error {
	c := Condition{
		Kind:               storage.EntityMonitor,
		ID:                 m.ID,
		Dimension:          storage.DimensionCert,
		MonitorID:          m.ID,
		Enabled:            m.CertNotify && m.HTTPCheckCert,
		ResendAfterMinutes: m.CertNotifyResendAfterMinutes,
		State:              storage.NotifyState{SentAt: m.CertNotifySentAt},
		Subject:            Subject(m, "certificate"),
		ClearMessage:       fmt.Sprintf("Certificate of %s is valid", m.Title),
	}
	if c.Enabled && m.CertValid == nil {
		return nil
	}

	if c.Enabled {
		switch {
		case !*m.CertValid:
			c.Breach = true
			c.AlertMessage = fmt.Sprintf("Certificate of %s is invalid", m.Title)
		case m.CertDays != nil && *m.CertDays <= e.certWarningDays:
			c.Breach = true
			c.AlertMessage = fmt.Sprintf("Certificate of %s expires in %d days", m.Title, *m.CertDays)
			if m.CertExpiresAt != nil {
				c.AlertMessage += " (" + m.CertExpiresAt.UTC().Format(time.DateOnly) + ")"
			}
		}
	}
	return e.Evaluate(ctx, c)
}

// CPU evaluates the cpu dimension against the latest feed row.
func (e *Engine) CPU(ctx context.Context, m *storage.Monitor, feed *storage.MonitorFeed) error {
	c := Condition{
		Kind:               storage.EntityMonitor,
		ID:                 m.ID,
		Dimension:          storage.DimensionCPU,
		MonitorID:          m.ID,
		Enabled:            m.CPUNotify,
		ResendAfterMinutes: m.CPUNotifyResendAfterMinutes,
		State:              storage.NotifyState{SentAt: m.CPUNotifySentAt},
		Subject:            Subject(m, "cpu"),
		ClearMessage:       fmt.Sprintf("CPU load of %s is back to normal", m.Title),
	}
	if c.Enabled {
		if feed == nil || feed.CPULoad == nil {
			return nil
		}
		load := *feed.CPULoad
		c.Breach = load >= m.CPUNotifyValue
		c.AlertMessage = fmt.Sprintf("CPU load of %s is %.1f%% (threshold %.1f%%)", m.Title, load, m.CPUNotifyValue)
	}
	return e.Evaluate(ctx, c)
}

// Memory evaluates the memory dimension: free memory percent at or below
// the threshold.
func (e *Engine) Memory(ctx context.Context, m *storage.Monitor, feed *storage.MonitorFeed) error {
	c := Condition{
		Kind:               storage.EntityMonitor,
		ID:                 m.ID,
		Dimension:          storage.DimensionMemory,
		MonitorID:          m.ID,
		Enabled:            m.MemoryNotify,
		ResendAfterMinutes: m.MemoryNotifyResendAfterMinutes,
		State:              storage.NotifyState{SentAt: m.MemoryNotifySentAt},
		Subject:            Subject(m, "memory"),
		ClearMessage:       fmt.Sprintf("Free memory of %s is back to normal", m.Title),
	}
	if c.Enabled {
		if feed == nil || feed.MemoryFree == nil || feed.MemoryTotal == nil || *feed.MemoryTotal <= 0 {
			return nil
		}
		free := float64(*feed.MemoryFree) / float64(*feed.MemoryTotal) * 100
		c.Breach = free <= m.MemoryNotifyValue
		c.AlertMessage = fmt.Sprintf("Free memory of %s is %.1f%% (threshold %.1f%%)", m.Title, free, m.MemoryNotifyValue)
	}
	return e.Evaluate(ctx, c)
}

// Drive evaluates the notify dimensions of one drive. A missing drive only
// evaluates the missing dimension; the others keep their state until it
// reappears.
func (e *Engine) Drive(ctx context.Context, m *storage.Monitor, d *storage.Drive) error {
	label := d.Root
	if d.Name != "" {
		label = fmt.Sprintf("%s (%s)", d.Root, d.Name)
	}
	driveID := d.ID
	base := Condition{
		Kind:      storage.EntityDrive,
		ID:        d.ID,
		MonitorID: m.ID,
		DriveID:   &driveID,
	}

	missing := base
	missing.Dimension = storage.DimensionMissing
	missing.Enabled = d.MissingNotify
	missing.Breach = d.Missing
	missing.ResendAfterMinutes = d.MissingNotifyResendAfterMinutes
	missing.State = storage.NotifyState{SentAt: d.MissingNotifySentAt}
	missing.Subject = Subject(m, "drive "+d.Root)
	missing.AlertMessage = fmt.Sprintf("Drive %s of %s is missing", label, m.Title)
	missing.ClearMessage = fmt.Sprintf("Drive %s of %s is present again", label, m.Title)
	if err := e.Evaluate(ctx, missing); err != nil {
		return err
	}
	if d.Missing {
		return nil
	}

	percent := base
	percent.Dimension = storage.DimensionPercentFree
	percent.Enabled = d.PercentFreeNotify
	percent.ResendAfterMinutes = d.PercentFreeNotifyResendAfterMinutes
	percent.State = storage.NotifyState{SentAt: d.PercentFreeNotifySentAt}
	percent.Subject = Subject(m, "drive "+d.Root)
	percent.ClearMessage = fmt.Sprintf("Free space of drive %s on %s is back to normal", label, m.Title)
	if percent.Enabled && d.Size > 0 {
		free := float64(d.Free) / float64(d.Size) * 100
		percent.Breach = free <= d.PercentFreeNotifyValue
		percent.AlertMessage = fmt.Sprintf("Drive %s of %s has %.1f%% free (threshold %.1f%%)", label, m.Title, free, d.PercentFreeNotifyValue)
	}
	if !percent.Enabled || d.Size > 0 {
		if err := e.Evaluate(ctx, percent); err != nil {
			return err
		}
	}

	size := base
	size.Dimension = storage.DimensionSizeFree
	size.Enabled = d.SizeFreeNotify
	size.ResendAfterMinutes = d.SizeFreeNotifyResendAfterMinutes
	size.State = storage.NotifyState{SentAt: d.SizeFreeNotifySentAt}
	size.Subject = Subject(m, "drive "+d.Root)
	size.ClearMessage = fmt.Sprintf("Free space of drive %s on %s is back to normal", label, m.Title)
	if size.Enabled {
		freeGB := float64(d.Free) / gigabyte
		size.Breach = freeGB <= d.SizeFreeNotifyValue
		size.AlertMessage = fmt.Sprintf("Drive %s of %s has %.2f GB free (threshold %.2f GB)", label, m.Title, freeGB, d.SizeFreeNotifyValue)
	}
	if err := e.Evaluate(ctx, size); err != nil {
		return err
	}

	growth := base
	growth.Dimension = storage.DimensionGrowthRate
	growth.Enabled = d.GrowthRateNotify
	growth.ResendAfterMinutes = d.GrowthRateNotifyResendAfterMinutes
	growth.State = storage.NotifyState{SentAt: d.GrowthRateNotifySentAt}
	growth.Subject = Subject(m, "drive "+d.Root)
	growth.ClearMessage = fmt.Sprintf("Growth of drive %s on %s is back to normal", label, m.Title)
	if growth.Enabled {
		if d.GrowthRate == nil {
			return nil
		}
		rateGB := *d.GrowthRate / gigabyte
		growth.Breach = rateGB >= d.GrowthRateNotifyValue
		growth.AlertMessage = fmt.Sprintf("Drive %s of %s grows %.2f GB per day (threshold %.2f GB)", label, m.Title, rateGB, d.GrowthRateNotifyValue)
	}
	return e.Evaluate(ctx, growth)
}

// File evaluates the percent_free dimension of a database file. Files
// without a size limit never breach.
func (e *Engine) File(ctx context.Context, m *storage.Monitor, f *storage.DatabaseFile) error {
	c := Condition{
		Kind:               storage.EntityFile,
		ID:                 f.ID,
		Dimension:          storage.DimensionPercentFree,
		MonitorID:          m.ID,
		Enabled:            f.PercentFreeNotify,
		ResendAfterMinutes: f.PercentFreeNotifyResendAfterMinutes,
		State:              storage.NotifyState{SentAt: f.PercentFreeNotifySentAt},
		Subject:            Subject(m, "file "+f.FileName),
		ClearMessage:       fmt.Sprintf("Free space of file %s on %s is back to normal", f.FileName, m.Title),
	}
	if c.Enabled && f.MaxSize > 0 {
		free := float64(f.MaxSize-f.Size) / float64(f.MaxSize) * 100
		c.Breach = free <= f.PercentFreeNotifyValue
		c.AlertMessage = fmt.Sprintf("File %s (%s) of %s has %.1f%% free (threshold %.1f%%)", f.FileName, f.PhysicalName, m.Title, free, f.PercentFreeNotifyValue)
	}
	return e.Evaluate(ctx, c)
}
