package storage

import (
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Migrator handles database schema migrations.
//
// It tracks applied migrations in a dedicated table and ensures
// migrations are applied in the correct order exactly once.
type Migrator struct {
	// db is the database connection used for migrations
	db *sql.DB

	// migrations holds all registered migrations sorted by version
	migrations []Migration
}

// Migration represents a single database migration.
//
// Each migration has a version number, name, and SQL scripts
// for both forward (up) and backward (down) operations.
type Migration struct {
	// Version is the migration version number (e.g., 1, 2, 3...)
	Version int

	// Name is a human-readable description of the migration
	Name string

	// UpSQL contains the SQL commands to apply the migration
	UpSQL string

	// DownSQL contains the SQL commands to roll back the migration
	// (reserved for future rollback functionality)
	DownSQL string
}

// MigrationRecord represents a migration record in the database.
//
// This is used to track which migrations have been applied
// and when they were executed.
type MigrationRecord struct {
	Version   int       `db:"version"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied_at"`
}

// NewMigrator creates a new migration manager.
//
// It creates the migrations tracking table if it doesn't exist
// and registers the built-in schema.
func NewMigrator(db *sql.DB) (*Migrator, error) {
	migrator := &Migrator{
		db: db,
	}

	// Create migrations tracking table
	if err := migrator.createMigrationsTable(); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Register built-in migrations
	migrator.registerBuiltinMigrations()

	return migrator, nil
}

// createMigrationsTable creates the table used to track applied migrations.
//
// This table stores metadata about each migration including when it was applied.
// The table is created with IF NOT EXISTS to make it idempotent.
func (m *Migrator) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`

	_, err := m.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	log.Debug().Msg("Schema migrations table ready")
	return nil
}

// registerBuiltinMigrations registers the schema of the monitor core:
//   - monitors and their per-condition notify state
//   - drives, databases and database files (children of a monitor)
//   - append-only usage samples, feeds and logs
//   - notification channels and their links to notify dimensions
func (m *Migrator) registerBuiltinMigrations() {
	m.AddMigration(Migration{
		Version: 1,
		Name:    "create_monitors_table",
		UpSQL: `
			CREATE TABLE monitors (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				title TEXT NOT NULL,
				type TEXT NOT NULL CHECK (type IN ('windows', 'ubuntu', 'http', 'sqlServer', 'tcp')),
				enabled BOOLEAN NOT NULL DEFAULT 1,
				host TEXT NOT NULL DEFAULT '',
				port INTEGER NOT NULL DEFAULT 0,
				username TEXT NOT NULL DEFAULT '',
				password TEXT NOT NULL DEFAULT '',
				private_key TEXT NOT NULL DEFAULT '',
				http_url TEXT NOT NULL DEFAULT '',
				http_method TEXT NOT NULL DEFAULT 'GET',
				http_headers TEXT NOT NULL DEFAULT '',
				http_body TEXT NOT NULL DEFAULT '',
				http_body_encoding TEXT NOT NULL DEFAULT 'json',
				http_auth_type TEXT NOT NULL DEFAULT 'none',
				http_username TEXT NOT NULL DEFAULT '',
				http_password TEXT NOT NULL DEFAULT '',
				http_domain TEXT NOT NULL DEFAULT '',
				http_workstation TEXT NOT NULL DEFAULT '',
				http_ignore_ssl_errors BOOLEAN NOT NULL DEFAULT 0,
				http_max_redirects INTEGER NOT NULL DEFAULT 10,
				http_accepted_status_codes TEXT NOT NULL DEFAULT '',
				http_check_cert BOOLEAN NOT NULL DEFAULT 0,
				sql_connection_string TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT '',
				os TEXT NOT NULL DEFAULT '',
				os_version TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				manufacturer TEXT NOT NULL DEFAULT '',
				version TEXT NOT NULL DEFAULT '',
				last_boot_time DATETIME,
				last_check_at DATETIME,
				has_error BOOLEAN NOT NULL DEFAULT 0,
				cert_valid BOOLEAN,
				cert_days INTEGER,
				cert_expires_at DATETIME,
				cert_issuer TEXT NOT NULL DEFAULT '',
				connection_notify BOOLEAN NOT NULL DEFAULT 0,
				connection_notify_resend_after_minutes INTEGER NOT NULL DEFAULT 0,
				connection_notify_retry INTEGER NOT NULL DEFAULT 0,
				connection_notify_retried INTEGER,
				connection_notify_sent_at DATETIME,
				reboot_notify BOOLEAN NOT NULL DEFAULT 0,
				cert_notify BOOLEAN NOT NULL DEFAULT 0,
				cert_notify_resend_after_minutes INTEGER NOT NULL DEFAULT 0,
				cert_notify_sent_at DATETIME,
				cpu_notify BOOLEAN NOT NULL DEFAULT 0,
				cpu_notify_value REAL NOT NULL DEFAULT 90,
				cpu_notify_resend_after_minutes INTEGER NOT NULL DEFAULT 0,
				cpu_notify_sent_at DATETIME,
				memory_notify BOOLEAN NOT NULL DEFAULT 0,
				memory_notify_value REAL NOT NULL DEFAULT 10,
				memory_notify_resend_after_minutes INTEGER NOT NULL DEFAULT 0,
				memory_notify_sent_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE INDEX idx_monitors_enabled ON monitors(enabled);
			CREATE INDEX idx_monitors_type ON monitors(type);
		`,
		DownSQL: `DROP TABLE IF EXISTS monitors;`,
	})

	m.AddMigration(Migration{
		Version: 2,
		Name:    "create_monitor_feeds_table",
		UpSQL: `
			CREATE TABLE monitor_feeds (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				monitor_id INTEGER NOT NULL,
				ping INTEGER,
				cpu_load REAL,
				cpu_speed REAL,
				memory_free INTEGER,
				memory_total INTEGER,
				status_code INTEGER,
				has_error BOOLEAN NOT NULL DEFAULT 0,
				message TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_monitor_feeds_monitor_id ON monitor_feeds(monitor_id, created_at);
		`,
		DownSQL: `DROP TABLE IF EXISTS monitor_feeds;`,
	})

	m.AddMigration(Migration{
		Version: 3,
		Name:    "create_drives_tables",
		UpSQL: `
			CREATE TABLE drives (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				monitor_id INTEGER NOT NULL,
				root TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				location TEXT NOT NULL DEFAULT '',
				size INTEGER NOT NULL DEFAULT 0,
				used INTEGER NOT NULL DEFAULT 0,
				free INTEGER NOT NULL DEFAULT 0,
				missing BOOLEAN NOT NULL DEFAULT 0,
				days_till_full INTEGER,
				growth_rate REAL,
				percent_free_notify BOOLEAN NOT NULL DEFAULT 0,
				percent_free_notify_value REAL NOT NULL DEFAULT 10,
				percent_free_notify_resend_after_minutes INTEGER NOT NULL DEFAULT 0,
				percent_free_notify_sent_at DATETIME,
				size_free_notify BOOLEAN NOT NULL DEFAULT 0,
				size_free_notify_value REAL NOT NULL DEFAULT 10,
				size_free_notify_resend_after_minutes INTEGER NOT NULL DEFAULT 0,
				size_free_notify_sent_at DATETIME,
				growth_rate_notify BOOLEAN NOT NULL DEFAULT 0,
				growth_rate_notify_value REAL NOT NULL DEFAULT 1,
				growth_rate_notify_resend_after_minutes INTEGER NOT NULL DEFAULT 0,
				growth_rate_notify_sent_at DATETIME,
				missing_notify BOOLEAN NOT NULL DEFAULT 0,
				missing_notify_resend_after_minutes INTEGER NOT NULL DEFAULT 0,
				missing_notify_sent_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (monitor_id, root),
				FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
			);

			CREATE TABLE drive_usage (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				drive_id INTEGER NOT NULL,
				size INTEGER NOT NULL,
				used INTEGER NOT NULL,
				free INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (drive_id) REFERENCES drives(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_drive_usage_drive_id ON drive_usage(drive_id, created_at);
		`,
		DownSQL: `DROP TABLE IF EXISTS drive_usage; DROP TABLE IF EXISTS drives;`,
	})

	m.AddMigration(Migration{
		Version: 4,
		Name:    "create_databases_tables",
		UpSQL: `
			CREATE TABLE databases (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				monitor_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				database_id INTEGER NOT NULL DEFAULT 0,
				state TEXT NOT NULL DEFAULT '',
				recovery_model TEXT NOT NULL DEFAULT '',
				compatibility_level INTEGER NOT NULL DEFAULT 0,
				create_date DATETIME,
				last_full_backup DATETIME,
				last_full_backup_size INTEGER,
				last_log_backup DATETIME,
				last_log_backup_size INTEGER,
				size INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (monitor_id, name),
				FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
			);

			CREATE TABLE database_usage (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				database_id INTEGER NOT NULL,
				size INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (database_id) REFERENCES databases(id) ON DELETE CASCADE
			);

			CREATE TABLE database_files (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				database_id INTEGER NOT NULL,
				file_name TEXT NOT NULL,
				file_type TEXT NOT NULL DEFAULT '',
				physical_name TEXT NOT NULL DEFAULT '',
				size INTEGER NOT NULL DEFAULT 0,
				max_size INTEGER NOT NULL DEFAULT -1,
				growth INTEGER NOT NULL DEFAULT 0,
				is_percent_growth BOOLEAN NOT NULL DEFAULT 0,
				days_till_full INTEGER,
				growth_rate REAL,
				percent_free_notify BOOLEAN NOT NULL DEFAULT 0,
				percent_free_notify_value REAL NOT NULL DEFAULT 10,
				percent_free_notify_resend_after_minutes INTEGER NOT NULL DEFAULT 0,
				percent_free_notify_sent_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (database_id, file_name),
				FOREIGN KEY (database_id) REFERENCES databases(id) ON DELETE CASCADE
			);

			CREATE TABLE database_file_usage (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				database_file_id INTEGER NOT NULL,
				size INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (database_file_id) REFERENCES database_files(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_database_usage_database_id ON database_usage(database_id, created_at);
			CREATE INDEX idx_database_file_usage_file_id ON database_file_usage(database_file_id, created_at);
		`,
		DownSQL: `
			DROP TABLE IF EXISTS database_file_usage;
			DROP TABLE IF EXISTS database_files;
			DROP TABLE IF EXISTS database_usage;
			DROP TABLE IF EXISTS databases;
		`,
	})

	m.AddMigration(Migration{
		Version: 5,
		Name:    "create_notifications_tables",
		UpSQL: `
			CREATE TABLE notifications (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				title TEXT NOT NULL,
				type TEXT NOT NULL CHECK (type IN ('smtp', 'telegram')),
				smtp_host TEXT NOT NULL DEFAULT '',
				smtp_port INTEGER NOT NULL DEFAULT 0,
				smtp_security TEXT NOT NULL DEFAULT 'none',
				smtp_username TEXT NOT NULL DEFAULT '',
				smtp_password TEXT NOT NULL DEFAULT '',
				smtp_from TEXT NOT NULL DEFAULT '',
				smtp_to TEXT NOT NULL DEFAULT '',
				smtp_ignore_ssl_errors BOOLEAN NOT NULL DEFAULT 0,
				telegram_bot_token TEXT NOT NULL DEFAULT '',
				telegram_chat_id TEXT NOT NULL DEFAULT '',
				telegram_thread_id INTEGER,
				telegram_silent BOOLEAN NOT NULL DEFAULT 0,
				telegram_protect_content BOOLEAN NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE notify_links (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				entity_kind TEXT NOT NULL CHECK (entity_kind IN ('monitor', 'drive', 'file')),
				entity_id INTEGER NOT NULL,
				dimension TEXT NOT NULL,
				notification_id INTEGER NOT NULL,
				UNIQUE (entity_kind, entity_id, dimension, notification_id),
				FOREIGN KEY (notification_id) REFERENCES notifications(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_notify_links_entity ON notify_links(entity_kind, entity_id, dimension);
		`,
		DownSQL: `DROP TABLE IF EXISTS notify_links; DROP TABLE IF EXISTS notifications;`,
	})

	m.AddMigration(Migration{
		Version: 6,
		Name:    "create_monitor_logs_table",
		UpSQL: `
			CREATE TABLE monitor_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				monitor_id INTEGER NOT NULL,
				drive_id INTEGER,
				type TEXT NOT NULL CHECK (type IN ('error', 'warning', 'success')),
				message TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE,
				FOREIGN KEY (drive_id) REFERENCES drives(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_monitor_logs_monitor_id ON monitor_logs(monitor_id, drive_id, id);
			CREATE INDEX idx_monitor_logs_created_at ON monitor_logs(created_at);
		`,
		DownSQL: `DROP TABLE IF EXISTS monitor_logs;`,
	})

	log.Debug().Int("count", len(m.migrations)).Msg("Built-in migrations registered")
}

// AddMigration registers a new migration.
//
// Migrations are automatically sorted by version number to ensure
// they are applied in the correct order.
func (m *Migrator) AddMigration(migration Migration) {
	m.migrations = append(m.migrations, migration)

	// Sort migrations by version to ensure correct order
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// Migrate applies all pending migrations to the database.
//
// Only migrations missing from schema_migrations are applied, each in
// its own transaction. Returns the number of migrations applied.
func (m *Migrator) Migrate() (int, error) {
	pending, err := m.PendingMigrations()
	if err != nil {
		return 0, err
	}

	if len(pending) == 0 {
		log.Debug().Msg("No pending migrations")
		return 0, nil
	}

	for i, migration := range pending {
		log.Info().
			Int("version", migration.Version).
			Str("name", migration.Name).
			Msg("Applying migration")

		if err := m.applyMigration(migration); err != nil {
			return i, fmt.Errorf("failed to apply migration %d (%s): %w",
				migration.Version, migration.Name, err)
		}
	}

	log.Info().Int("count", len(pending)).Msg("Database migrations completed")
	return len(pending), nil
}

// PendingMigrations returns the registered migrations not applied yet.
func (m *Migrator) PendingMigrations() ([]Migration, error) {
	applied, err := m.appliedVersions()
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var pending []Migration
	for _, migration := range m.migrations {
		if !slices.Contains(applied, migration.Version) {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// Status lists applied migrations in version order.
func (m *Migrator) Status() ([]MigrationRecord, error) {
	rows, err := m.db.Query(`SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration status: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var record MigrationRecord
		if err := rows.Scan(&record.Version, &record.Name, &record.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (m *Migrator) appliedVersions() ([]int, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// applyMigration applies a single migration within a database transaction.
func (m *Migrator) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range splitSQL(migration.UpSQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d: %w", i+1, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		migration.Version, migration.Name, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}
	return nil
}

// splitSQL splits a script on semicolons. Statements must not embed ';'
// in literals.
func splitSQL(script string) []string {
	var result []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			result = append(result, stmt)
		}
	}
	return result
}
