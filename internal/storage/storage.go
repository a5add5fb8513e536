package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"atlas-system/internal/config"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = fmt.Errorf("not found: %w", sql.ErrNoRows)

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Storage owns the SQLite connection pool, the ORM, the generic
// repositories and the Gateway used by the check pipeline.
type Storage struct {
	db      *sql.DB
	orm     *ORM
	Repos   *Repositories
	Gateway *Gateway
}

// New opens (creating if needed) the SQLite database described by cfg,
// applies the connection pool settings and runs pending migrations.
func New(cfg config.StorageConfig) (*Storage, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	// _txlock=immediate takes the write lock at BEGIN so concurrent
	// read-modify-write transactions serialize instead of failing with SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	orm, err := NewORM(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	applied, err := orm.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().
		Str("path", cfg.Path).
		Int("migrations_applied", applied).
		Msg("Storage ready")

	repos := NewRepositories(orm)
	return &Storage{
		db:      db,
		orm:     orm,
		Repos:   repos,
		Gateway: NewGateway(orm, repos),
	}, nil
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion returns the highest applied migration version.
func (s *Storage) SchemaVersion() (int, error) {
	records, err := s.orm.migrator.Status()
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return records[len(records)-1].Version, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.orm.Close()
}
