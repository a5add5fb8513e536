package checks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

// hostInfoMajorVersion is the first SQL Server release exposing
// sys.dm_os_host_info.
const hostInfoMajorVersion = 14

const (
	serverQuery = `SELECT
		CAST(SERVERPROPERTY('MachineName') AS nvarchar(128)),
		CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128)),
		CAST(SERVERPROPERTY('Edition') AS nvarchar(128)),
		i.sqlserver_start_time,
		i.cpu_count
	FROM sys.dm_os_sys_info i`

	cpuQuery = `SELECT TOP 1
		100 - record.value('(./Record/SchedulerMonitorEvent/SystemHealth/SystemIdle)[1]', 'int')
	FROM (
		SELECT CONVERT(xml, record) AS record, [timestamp]
		FROM sys.dm_os_ring_buffers
		WHERE ring_buffer_type = N'RING_BUFFER_SCHEDULER_MONITOR' AND record LIKE N'%<SystemHealth>%'
	) AS rb
	ORDER BY [timestamp] DESC`

	memoryQuery = `SELECT
		MAX(CASE WHEN counter_name LIKE 'Target Server Memory%' THEN cntr_value END),
		MAX(CASE WHEN counter_name LIKE 'Total Server Memory%' THEN cntr_value END)
	FROM sys.dm_os_performance_counters
	WHERE counter_name LIKE 'Target Server Memory%' OR counter_name LIKE 'Total Server Memory%'`

	hostInfoQuery    = `SELECT TOP 1 host_distribution, host_release FROM sys.dm_os_host_info`
	windowsInfoQuery = `SELECT TOP 1 'Windows', windows_release FROM sys.dm_os_windows_info`

	databasesQuery = `SELECT d.name, d.database_id, d.state_desc, d.recovery_model_desc, d.compatibility_level, d.create_date,
		full_bk.backup_finish_date, full_bk.backup_size,
		log_bk.backup_finish_date, log_bk.backup_size
	FROM sys.databases d
	OUTER APPLY (
		SELECT TOP 1 b.backup_finish_date, CAST(b.backup_size AS bigint) AS backup_size
		FROM msdb.dbo.backupset b WHERE b.database_name = d.name AND b.type = 'D'
		ORDER BY b.backup_finish_date DESC
	) full_bk
	OUTER APPLY (
		SELECT TOP 1 b.backup_finish_date, CAST(b.backup_size AS bigint) AS backup_size
		FROM msdb.dbo.backupset b WHERE b.database_name = d.name AND b.type = 'L'
		ORDER BY b.backup_finish_date DESC
	) log_bk
	ORDER BY d.name`

	filesQuery = `SELECT mf.database_id, mf.name, mf.type_desc, mf.physical_name,
		CAST(mf.size AS bigint) * 8192,
		CASE WHEN mf.max_size = -1 THEN CAST(-1 AS bigint) ELSE CAST(mf.max_size AS bigint) * 8192 END,
		CASE WHEN mf.is_percent_growth = 1 THEN CAST(mf.growth AS bigint) ELSE CAST(mf.growth AS bigint) * 8192 END,
		mf.is_percent_growth
	FROM sys.master_files mf
	ORDER BY mf.database_id, mf.file_id`
)

// SQLServerChecker implements sqlServer monitors.
type SQLServerChecker struct {
	*BaseChecker
	timeout time.Duration
}

// NewSQLServerChecker creates a new SQL Server checker instance.
func NewSQLServerChecker(cfg *config.Config, secrets Decrypter) *SQLServerChecker {
	return &SQLServerChecker{BaseChecker: NewBaseChecker(secrets), timeout: cfg.Checks.SQLTimeout}
}

// Type returns "sqlServer".
func (s *SQLServerChecker) Type() string {
	return storage.MonitorTypeSQLServer
}

// Check opens a pool on the decrypted connection string and runs the
// introspection queries. The pool is closed on every path.
func (s *SQLServerChecker) Check(ctx context.Context, m *storage.Monitor) (*storage.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dsn, err := s.reveal("connection string", m.SQLConnectionString)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, &Failure{Op: "sql open", Code: CodeParse, Err: fmt.Errorf("invalid connection string")}
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(2)

	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return nil, s.failure("sql connect", err, "")
	}
	ping := elapsedMs(start)

	facts, cores, err := s.serverFacts(ctx, db)
	if err != nil {
		return nil, err
	}

	feed := storage.MonitorFeed{Ping: ping}

	var load sql.NullFloat64
	if err := db.QueryRowContext(ctx, cpuQuery).Scan(&load); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, s.failure("sql cpu query", err, "")
	}
	if load.Valid {
		cpus := []cpuSample{{Load: load.Float64, Cores: cores}}
		feed.CPULoad, _ = aggregateCPU(cpus)
	}

	var target, total sql.NullInt64
	if err := db.QueryRowContext(ctx, memoryQuery).Scan(&target, &total); err != nil {
		return nil, s.failure("sql memory query", err, "")
	}
	if target.Valid && total.Valid {
		memTotal := target.Int64 * 1024
		memFree := max(target.Int64-total.Int64, 0) * 1024
		feed.MemoryTotal = &memTotal
		feed.MemoryFree = &memFree
	}

	databases, err := s.databases(ctx, db)
	if err != nil {
		return nil, err
	}

	return &storage.Snapshot{Facts: facts, Feed: feed, Databases: databases}, nil
}

func (s *SQLServerChecker) serverFacts(ctx context.Context, db *sql.DB) (*storage.HostFacts, int, error) {
	var (
		name, version, edition string
		started                time.Time
		cores                  int
	)
	if err := db.QueryRowContext(ctx, serverQuery).Scan(&name, &version, &edition, &started, &cores); err != nil {
		return nil, 0, s.failure("sql server query", err, "")
	}

	query := windowsInfoQuery
	if majorVersion(version) >= hostInfoMajorVersion {
		query = hostInfoQuery
	}
	var osName, osVersion sql.NullString
	if err := db.QueryRowContext(ctx, query).Scan(&osName, &osVersion); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, s.failure("sql os query", err, "")
	}

	boot := started.UTC()
	return &storage.HostFacts{
		Name:         name,
		OS:           osName.String,
		OSVersion:    osVersion.String,
		Model:        edition,
		Manufacturer: "Microsoft",
		Version:      version,
		LastBootTime: &boot,
	}, cores, nil
}

func (s *SQLServerChecker) databases(ctx context.Context, db *sql.DB) ([]storage.DatabaseSample, error) {
	rows, err := db.QueryContext(ctx, databasesQuery)
	if err != nil {
		return nil, s.failure("sql databases query", err, "")
	}
	defer rows.Close()

	databases := []storage.DatabaseSample{}
	index := make(map[int]int)
	for rows.Next() {
		var (
			d                 storage.DatabaseSample
			created           sql.NullTime
			fullAt, logAt     sql.NullTime
			fullSize, logSize sql.NullInt64
		)
		if err := rows.Scan(&d.Name, &d.DatabaseID, &d.State, &d.RecoveryModel, &d.CompatibilityLevel, &created,
			&fullAt, &fullSize, &logAt, &logSize); err != nil {
			return nil, s.failure("sql databases scan", err, "")
		}
		d.CreateDate = nullTime(created)
		d.LastFullBackup = nullTime(fullAt)
		d.LastFullBackupSize = nullInt(fullSize)
		d.LastLogBackup = nullTime(logAt)
		d.LastLogBackupSize = nullInt(logSize)

		index[d.DatabaseID] = len(databases)
		databases = append(databases, d)
	}
	if err := rows.Err(); err != nil {
		return nil, s.failure("sql databases query", err, "")
	}
	_ = rows.Close()

	files, err := db.QueryContext(ctx, filesQuery)
	if err != nil {
		return nil, s.failure("sql files query", err, "")
	}
	defer files.Close()

	for files.Next() {
		var (
			databaseID int
			f          storage.DatabaseFileSample
		)
		if err := files.Scan(&databaseID, &f.FileName, &f.FileType, &f.PhysicalName, &f.Size, &f.MaxSize, &f.Growth, &f.IsPercentGrowth); err != nil {
			return nil, s.failure("sql files scan", err, "")
		}
		if i, ok := index[databaseID]; ok {
			databases[i].Files = append(databases[i].Files, f)
		}
	}
	if err := files.Err(); err != nil {
		return nil, s.failure("sql files query", err, "")
	}

	return databases, nil
}

// majorVersion parses the leading component of a ProductVersion such as
// "15.0.2000.5".
func majorVersion(productVersion string) int {
	major, _, _ := strings.Cut(productVersion, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return n
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}
