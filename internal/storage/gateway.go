package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// EntityKind names the owner of a notify dimension.
type EntityKind string

const (
	EntityMonitor EntityKind = "monitor"
	EntityDrive   EntityKind = "drive"
	EntityFile    EntityKind = "file"
)

// Dimension names one notify condition of an entity.
type Dimension string

const (
	DimensionConnection  Dimension = "connection"
	DimensionReboot      Dimension = "reboot"
	DimensionCert        Dimension = "cert"
	DimensionCPU         Dimension = "cpu"
	DimensionMemory      Dimension = "memory"
	DimensionPercentFree Dimension = "percent_free"
	DimensionSizeFree    Dimension = "size_free"
	DimensionGrowthRate  Dimension = "growth_rate"
	DimensionMissing     Dimension = "missing"
)

var dimensionsByKind = map[EntityKind][]Dimension{
	EntityMonitor: {DimensionConnection, DimensionReboot, DimensionCert, DimensionCPU, DimensionMemory},
	EntityDrive:   {DimensionPercentFree, DimensionSizeFree, DimensionGrowthRate, DimensionMissing},
	EntityFile:    {DimensionPercentFree},
}

var tableByKind = map[EntityKind]string{
	EntityMonitor: "monitors",
	EntityDrive:   "drives",
	EntityFile:    "database_files",
}

// ValidDimension reports whether dim is a notify dimension of kind.
func ValidDimension(kind EntityKind, dim Dimension) bool {
	return slices.Contains(dimensionsByKind[kind], dim)
}

// Default notify thresholds applied to children discovered by a check.
const (
	DefaultPercentFreeNotifyValue = 10
	DefaultSizeFreeNotifyValue    = 10
	DefaultGrowthRateNotifyValue  = 1
)

// NotifyState is the persisted state of one notify dimension.
//
// A nil SentAt means Clear. Retried is only stored for the connection
// dimension and is ignored elsewhere.
type NotifyState struct {
	SentAt  *time.Time
	Retried *int
}

// HostFacts are the identity facts collected from a host.
type HostFacts struct {
	Name         string
	OS           string
	OSVersion    string
	Model        string
	Manufacturer string
	Version      string
	LastBootTime *time.Time
}

// CertState is the result of inspecting a TLS certificate chain.
type CertState struct {
	Valid     bool
	Days      int
	ExpiresAt time.Time
	Issuer    string
}

// DriveSample is the observed state of one filesystem, in bytes.
type DriveSample struct {
	Root     string
	Name     string
	Location string
	Size     int64
	Used     int64
	Free     int64
}

// DatabaseSample is the observed state of one SQL Server database.
type DatabaseSample struct {
	Name               string
	DatabaseID         int
	State              string
	RecoveryModel      string
	CompatibilityLevel int
	CreateDate         *time.Time
	LastFullBackup     *time.Time
	LastFullBackupSize *int64
	LastLogBackup      *time.Time
	LastLogBackupSize  *int64
	Files              []DatabaseFileSample
}

// DatabaseFileSample is the observed state of one database file, in bytes.
type DatabaseFileSample struct {
	FileName        string
	FileType        string
	PhysicalName    string
	Size            int64
	MaxSize         int64
	Growth          int64
	IsPercentGrowth bool
}

// Snapshot is everything one successful check observed.
//
// A nil Drives or Databases slice means the monitor type has no such
// children and existing rows are left alone; an empty non-nil slice means
// none were found.
type Snapshot struct {
	Facts     *HostFacts
	Cert      *CertState
	Feed      MonitorFeed
	Drives    []DriveSample
	Databases []DatabaseSample
}

// UsageSample is one point of a usage history window.
type UsageSample struct {
	Used int64
	At   time.Time
}

// Gateway is the only writer of monitor runtime state: snapshots, logs,
// growth estimates and notify state.
type Gateway struct {
	orm   *ORM
	repos *Repositories
	now   func() time.Time
}

// NewGateway creates a Gateway over orm.
func NewGateway(orm *ORM, repos *Repositories) *Gateway {
	return &Gateway{
		orm:   orm,
		repos: repos,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// GetMonitor returns the monitor with id.
func (g *Gateway) GetMonitor(ctx context.Context, id int64) (*Monitor, error) {
	return g.repos.Monitors.GetByID(ctx, id)
}

// GetEnabledMonitors returns every enabled monitor.
func (g *Gateway) GetEnabledMonitors(ctx context.Context) ([]Monitor, error) {
	return g.repos.Monitors.Where(ctx, "enabled = 1")
}

// DrivesForMonitor returns the drives of a monitor ordered by root.
func (g *Gateway) DrivesForMonitor(ctx context.Context, monitorID int64) ([]Drive, error) {
	return NewSelectBuilder[Drive](g.orm).
		Where("monitor_id = ?", monitorID).
		OrderBy("root").
		Execute(ctx)
}

// FilesForMonitor returns the database files of a sqlServer monitor.
func (g *Gateway) FilesForMonitor(ctx context.Context, monitorID int64) ([]DatabaseFile, error) {
	return NewSelectBuilder[DatabaseFile](g.orm).
		Where("database_id IN (SELECT id FROM databases WHERE monitor_id = ?)", monitorID).
		OrderBy("database_id, file_name").
		Execute(ctx)
}

// UpdateMonitorMetrics records a successful check in one transaction:
// monitor facts, a feed sample, and the replacement of the monitor's
// current drive or database snapshot together with usage samples.
//
// Drives absent from the snapshot are flagged missing; databases and
// files absent from it are deleted.
func (g *Gateway) UpdateMonitorMetrics(ctx context.Context, id int64, snap *Snapshot) error {
	at := g.now()

	return g.orm.inTx(ctx, func(tx *ORM) error {
		sets := []string{"has_error = 0", "last_check_at = ?"}
		args := []any{at}

		if f := snap.Facts; f != nil {
			sets = append(sets,
				"name = ?", "os = ?", "os_version = ?", "model = ?",
				"manufacturer = ?", "version = ?", "last_boot_time = ?")
			args = append(args,
				f.Name, f.OS, f.OSVersion, f.Model,
				f.Manufacturer, f.Version, utc(f.LastBootTime))
		}
		if c := snap.Cert; c != nil {
			sets = append(sets, "cert_valid = ?", "cert_days = ?", "cert_expires_at = ?", "cert_issuer = ?")
			args = append(args, c.Valid, c.Days, c.ExpiresAt.UTC(), c.Issuer)
		}
		args = append(args, id)

		result, err := tx.q.ExecContext(ctx,
			"UPDATE monitors SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return fmt.Errorf("failed to update monitor %d: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("monitor %d: %w", id, ErrNotFound)
		}

		feed := snap.Feed
		feed.ID = 0
		feed.MonitorID = id
		feed.HasError = false
		feed.CreatedAt = at
		if _, err := NewRepository[MonitorFeed](tx).Create(ctx, &feed); err != nil {
			return err
		}

		if snap.Drives != nil {
			if err := replaceDrives(ctx, tx, id, snap.Drives, at); err != nil {
				return err
			}
		}
		if snap.Databases != nil {
			if err := replaceDatabases(ctx, tx, id, snap.Databases, at); err != nil {
				return err
			}
		}
		return nil
	})
}

func replaceDrives(ctx context.Context, tx *ORM, monitorID int64, samples []DriveSample, at time.Time) error {
	drives := NewRepository[Drive](tx)

	existing, err := drives.Where(ctx, "monitor_id = ?", monitorID)
	if err != nil {
		return err
	}
	byRoot := make(map[string]Drive, len(existing))
	for _, d := range existing {
		byRoot[d.Root] = d
	}

	seen := make(map[string]bool, len(samples))
	for _, s := range samples {
		if seen[s.Root] {
			continue
		}
		seen[s.Root] = true

		d, ok := byRoot[s.Root]
		if ok {
			_, err = tx.q.ExecContext(ctx, `
				UPDATE drives SET name = ?, location = ?, size = ?, used = ?, free = ?, missing = 0, updated_at = ?
				WHERE id = ?`,
				s.Name, s.Location, s.Size, s.Used, s.Free, at, d.ID)
			if err != nil {
				return fmt.Errorf("failed to update drive %s: %w", s.Root, err)
			}
		} else {
			d = Drive{
				MonitorID:              monitorID,
				Root:                   s.Root,
				Name:                   s.Name,
				Location:               s.Location,
				Size:                   s.Size,
				Used:                   s.Used,
				Free:                   s.Free,
				PercentFreeNotifyValue: DefaultPercentFreeNotifyValue,
				SizeFreeNotifyValue:    DefaultSizeFreeNotifyValue,
				GrowthRateNotifyValue:  DefaultGrowthRateNotifyValue,
			}
			if _, err := drives.Create(ctx, &d); err != nil {
				return err
			}
		}

		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO drive_usage (drive_id, size, used, free, created_at) VALUES (?, ?, ?, ?, ?)`,
			d.ID, s.Size, s.Used, s.Free, at); err != nil {
			return fmt.Errorf("failed to record drive usage: %w", err)
		}
	}

	for _, d := range existing {
		if seen[d.Root] || d.Missing {
			continue
		}
		if _, err := tx.q.ExecContext(ctx, `UPDATE drives SET missing = 1, updated_at = ? WHERE id = ?`, at, d.ID); err != nil {
			return fmt.Errorf("failed to flag drive %s missing: %w", d.Root, err)
		}
	}
	return nil
}

func replaceDatabases(ctx context.Context, tx *ORM, monitorID int64, samples []DatabaseSample, at time.Time) error {
	databases := NewRepository[Database](tx)
	files := NewRepository[DatabaseFile](tx)

	existing, err := databases.Where(ctx, "monitor_id = ?", monitorID)
	if err != nil {
		return err
	}
	byName := make(map[string]Database, len(existing))
	for _, d := range existing {
		byName[d.Name] = d
	}

	seen := make(map[string]bool, len(samples))
	for _, s := range samples {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true

		var size int64
		for _, f := range s.Files {
			size += f.Size
		}

		d, ok := byName[s.Name]
		d.MonitorID = monitorID
		d.Name = s.Name
		d.DatabaseID = s.DatabaseID
		d.State = s.State
		d.RecoveryModel = s.RecoveryModel
		d.CompatibilityLevel = s.CompatibilityLevel
		d.CreateDate = utc(s.CreateDate)
		d.LastFullBackup = utc(s.LastFullBackup)
		d.LastFullBackupSize = s.LastFullBackupSize
		d.LastLogBackup = utc(s.LastLogBackup)
		d.LastLogBackupSize = s.LastLogBackupSize
		d.Size = size
		if ok {
			err = databases.Update(ctx, &d)
		} else {
			_, err = databases.Create(ctx, &d)
		}
		if err != nil {
			return err
		}

		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO database_usage (database_id, size, created_at) VALUES (?, ?, ?)`,
			d.ID, size, at); err != nil {
			return fmt.Errorf("failed to record database usage: %w", err)
		}

		if err := replaceFiles(ctx, tx, files, d.ID, s.Files, at); err != nil {
			return err
		}
	}

	for _, d := range existing {
		if seen[d.Name] {
			continue
		}
		if _, err := tx.q.ExecContext(ctx, `
			DELETE FROM notify_links WHERE entity_kind = 'file'
			AND entity_id IN (SELECT id FROM database_files WHERE database_id = ?)`, d.ID); err != nil {
			return err
		}
		if err := databases.Delete(ctx, d.ID); err != nil {
			return err
		}
	}
	return nil
}

func replaceFiles(ctx context.Context, tx *ORM, files *Repository[DatabaseFile], databaseID int64, samples []DatabaseFileSample, at time.Time) error {
	existing, err := files.Where(ctx, "database_id = ?", databaseID)
	if err != nil {
		return err
	}
	byName := make(map[string]DatabaseFile, len(existing))
	for _, f := range existing {
		byName[f.FileName] = f
	}

	seen := make(map[string]bool, len(samples))
	for _, s := range samples {
		if seen[s.FileName] {
			continue
		}
		seen[s.FileName] = true

		f, ok := byName[s.FileName]
		if ok {
			_, err = tx.q.ExecContext(ctx, `
				UPDATE database_files SET file_type = ?, physical_name = ?, size = ?, max_size = ?,
				growth = ?, is_percent_growth = ?, updated_at = ? WHERE id = ?`,
				s.FileType, s.PhysicalName, s.Size, s.MaxSize, s.Growth, s.IsPercentGrowth, at, f.ID)
		} else {
			f = DatabaseFile{
				DatabaseID:             databaseID,
				FileName:               s.FileName,
				FileType:               s.FileType,
				PhysicalName:           s.PhysicalName,
				Size:                   s.Size,
				MaxSize:                s.MaxSize,
				Growth:                 s.Growth,
				IsPercentGrowth:        s.IsPercentGrowth,
				PercentFreeNotifyValue: DefaultPercentFreeNotifyValue,
			}
			_, err = files.Create(ctx, &f)
		}
		if err != nil {
			return fmt.Errorf("failed to upsert database file %s: %w", s.FileName, err)
		}

		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO database_file_usage (database_file_id, size, created_at) VALUES (?, ?, ?)`,
			f.ID, s.Size, at); err != nil {
			return fmt.Errorf("failed to record file usage: %w", err)
		}
	}

	for _, f := range existing {
		if seen[f.FileName] {
			continue
		}
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM notify_links WHERE entity_kind = 'file' AND entity_id = ?`, f.ID); err != nil {
			return err
		}
		if err := files.Delete(ctx, f.ID); err != nil {
			return err
		}
	}
	return nil
}

// SetMonitorError flags a failed check and records an error feed sample.
func (g *Gateway) SetMonitorError(ctx context.Context, id int64, message string) error {
	at := g.now()

	return g.orm.inTx(ctx, func(tx *ORM) error {
		result, err := tx.q.ExecContext(ctx,
			`UPDATE monitors SET has_error = 1, last_check_at = ? WHERE id = ?`, at, id)
		if err != nil {
			return fmt.Errorf("failed to flag monitor %d: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("monitor %d: %w", id, ErrNotFound)
		}

		feed := MonitorFeed{MonitorID: id, HasError: true, Message: message, CreatedAt: at}
		_, err = NewRepository[MonitorFeed](tx).Create(ctx, &feed)
		return err
	})
}

// LatestLog returns the newest log entry of a monitor, scoped to driveID
// (nil means monitor-level entries only).
func (g *Gateway) LatestLog(ctx context.Context, monitorID int64, driveID *int64) (*MonitorLog, error) {
	return latestLog(ctx, g.orm, monitorID, driveID)
}

// LatestFeed returns the newest feed row of a monitor.
func (g *Gateway) LatestFeed(ctx context.Context, monitorID int64) (*MonitorFeed, error) {
	feed, err := NewSelectBuilder[MonitorFeed](g.orm).
		Where("monitor_id = ?", monitorID).
		OrderBy("id DESC").
		First(ctx)
	if err != nil {
		return nil, err
	}
	return &feed, nil
}

// ListLogs returns one page of a monitor's log entries, newest first, and
// the total number of entries.
func (g *Gateway) ListLogs(ctx context.Context, monitorID int64, limit, offset int) ([]MonitorLog, int64, error) {
	total, err := NewSelectBuilder[MonitorLog](g.orm).
		Where("monitor_id = ?", monitorID).
		Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}

	entries, err := NewSelectBuilder[MonitorLog](g.orm).
		Where("monitor_id = ?", monitorID).
		OrderBy("id DESC").
		Limit(limit).
		Offset(offset).
		Execute(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list logs: %w", err)
	}
	return entries, total, nil
}

func latestLog(ctx context.Context, orm *ORM, monitorID int64, driveID *int64) (*MonitorLog, error) {
	entry, err := NewSelectBuilder[MonitorLog](orm).
		Where("monitor_id = ?", monitorID).
		Where("drive_id IS ?", driveID).
		OrderBy("id DESC").
		First(ctx)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// AppendLog appends a log entry unless the newest entry for the same
// monitor and drive already has the same type and message. It reports
// whether a row was written.
func (g *Gateway) AppendLog(ctx context.Context, monitorID int64, driveID *int64, logType, message string) (bool, error) {
	if !IsValidLogType(logType) {
		return false, fmt.Errorf("invalid log type: %s", logType)
	}

	written := false
	err := g.orm.inTx(ctx, func(tx *ORM) error {
		latest, err := latestLog(ctx, tx, monitorID, driveID)
		switch {
		case err == nil:
			if latest.Type == logType && latest.Message == message {
				return nil
			}
		case !IsNotFound(err):
			return err
		}

		entry := MonitorLog{
			MonitorID: monitorID,
			DriveID:   driveID,
			Type:      logType,
			Message:   message,
			CreatedAt: g.now(),
		}
		if _, err := NewRepository[MonitorLog](tx).Create(ctx, &entry); err != nil {
			return err
		}
		written = true
		return nil
	})
	return written, err
}

// SetDriveEstimate stores the growth estimate of a drive; nil clears it.
func (g *Gateway) SetDriveEstimate(ctx context.Context, driveID int64, growthRate *float64, daysTillFull *int64) error {
	_, err := g.orm.q.ExecContext(ctx,
		`UPDATE drives SET growth_rate = ?, days_till_full = ? WHERE id = ?`,
		growthRate, daysTillFull, driveID)
	if err != nil {
		return fmt.Errorf("failed to set drive %d estimate: %w", driveID, err)
	}
	return nil
}

// SetFileEstimate stores the growth estimate of a database file; nil clears it.
func (g *Gateway) SetFileEstimate(ctx context.Context, fileID int64, growthRate *float64, daysTillFull *int64) error {
	_, err := g.orm.q.ExecContext(ctx,
		`UPDATE database_files SET growth_rate = ?, days_till_full = ? WHERE id = ?`,
		growthRate, daysTillFull, fileID)
	if err != nil {
		return fmt.Errorf("failed to set file %d estimate: %w", fileID, err)
	}
	return nil
}

// UsageWindow returns the usage samples of a drive or database file
// recorded at or after since, oldest first.
func (g *Gateway) UsageWindow(ctx context.Context, kind EntityKind, id int64, since time.Time) ([]UsageSample, error) {
	var query string
	switch kind {
	case EntityDrive:
		query = `SELECT used, created_at FROM drive_usage WHERE drive_id = ? AND created_at >= ? ORDER BY created_at, id`
	case EntityFile:
		query = `SELECT size, created_at FROM database_file_usage WHERE database_file_id = ? AND created_at >= ? ORDER BY created_at, id`
	default:
		return nil, fmt.Errorf("no usage history for %s", kind)
	}

	rows, err := g.orm.q.QueryContext(ctx, query, id, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query usage window: %w", err)
	}
	defer rows.Close()

	var samples []UsageSample
	for rows.Next() {
		var s UsageSample
		if err := rows.Scan(&s.Used, &s.At); err != nil {
			return nil, fmt.Errorf("failed to scan usage sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// SetNotifyState moves a notify dimension from prev to next with a
// compare-and-set on the stored values. It reports whether this call won;
// false means another writer changed the state first.
func (g *Gateway) SetNotifyState(ctx context.Context, kind EntityKind, id int64, dim Dimension, prev, next NotifyState) (bool, error) {
	if !ValidDimension(kind, dim) || dim == DimensionReboot {
		return false, fmt.Errorf("dimension %s/%s has no notify state", kind, dim)
	}

	sentCol := string(dim) + "_notify_sent_at"
	query := fmt.Sprintf("UPDATE %s SET %s = ?", tableByKind[kind], sentCol)
	args := []any{utc(next.SentAt)}
	where := fmt.Sprintf(" WHERE id = ? AND %s IS ?", sentCol)
	whereArgs := []any{id, utc(prev.SentAt)}

	if dim == DimensionConnection {
		query += ", connection_notify_retried = ?"
		args = append(args, next.Retried)
		where += " AND connection_notify_retried IS ?"
		whereArgs = append(whereArgs, prev.Retried)
	}

	result, err := g.orm.q.ExecContext(ctx, query+where, append(args, whereArgs...)...)
	if err != nil {
		return false, fmt.Errorf("failed to set %s/%s notify state: %w", kind, dim, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if n == 0 {
		log.Debug().
			Str("kind", string(kind)).
			Int64("id", id).
			Str("dimension", string(dim)).
			Msg("Notify state changed concurrently")
	}
	return n == 1, nil
}

// NotificationsFor returns the channels linked to a notify dimension.
func (g *Gateway) NotificationsFor(ctx context.Context, kind EntityKind, id int64, dim Dimension) ([]Notification, error) {
	return NewSelectBuilder[Notification](g.orm).
		Where("id IN (SELECT notification_id FROM notify_links WHERE entity_kind = ? AND entity_id = ? AND dimension = ?)",
			string(kind), id, string(dim)).
		OrderBy("id").
		Execute(ctx)
}

// GetNotification returns the notification channel with id.
func (g *Gateway) GetNotification(ctx context.Context, id int64) (*Notification, error) {
	return g.repos.Notifications.GetByID(ctx, id)
}

// NotifyLinksFor returns every link of an entity.
func (g *Gateway) NotifyLinksFor(ctx context.Context, kind EntityKind, id int64) ([]NotifyLink, error) {
	return g.repos.NotifyLinks.Where(ctx, "entity_kind = ? AND entity_id = ?", string(kind), id)
}

// SetNotifyLinks replaces the channels linked to a notify dimension.
func (g *Gateway) SetNotifyLinks(ctx context.Context, kind EntityKind, id int64, dim Dimension, notificationIDs []int64) error {
	if !ValidDimension(kind, dim) {
		return fmt.Errorf("unknown dimension %s for %s", dim, kind)
	}

	return g.orm.inTx(ctx, func(tx *ORM) error {
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM notify_links WHERE entity_kind = ? AND entity_id = ? AND dimension = ?`,
			string(kind), id, string(dim)); err != nil {
			return fmt.Errorf("failed to clear notify links: %w", err)
		}

		links := NewRepository[NotifyLink](tx)
		for _, nid := range slices.Compact(slices.Sorted(slices.Values(notificationIDs))) {
			link := NotifyLink{EntityKind: string(kind), EntityID: id, Dimension: string(dim), NotificationID: nid}
			if _, err := links.Create(ctx, &link); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteMonitor deletes a monitor, its children and every notify link
// pointing at them.
func (g *Gateway) DeleteMonitor(ctx context.Context, id int64) error {
	return g.orm.inTx(ctx, func(tx *ORM) error {
		if _, err := tx.q.ExecContext(ctx, `
			DELETE FROM notify_links WHERE
			(entity_kind = 'monitor' AND entity_id = ?)
			OR (entity_kind = 'drive' AND entity_id IN (SELECT id FROM drives WHERE monitor_id = ?))
			OR (entity_kind = 'file' AND entity_id IN (
				SELECT f.id FROM database_files f JOIN databases d ON d.id = f.database_id WHERE d.monitor_id = ?))`,
			id, id, id); err != nil {
			return fmt.Errorf("failed to delete notify links: %w", err)
		}
		return NewRepository[Monitor](tx).Delete(ctx, id)
	})
}

// Prune deletes samples, feeds and logs created before cutoff and returns
// the number of rows removed.
func (g *Gateway) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"monitor_feeds", "drive_usage", "database_usage", "database_file_usage", "monitor_logs"} {
		result, err := g.orm.q.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
