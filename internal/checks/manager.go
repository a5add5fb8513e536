// Package checks probes monitored targets and normalizes what they report
// into a storage.Snapshot.
//
// Supported monitor types:
//   - windows: PowerShell collector over SSH
//   - ubuntu: shell collector, lscpu and lsblk over SSH
//   - http: single request with status, auth and certificate inspection
//   - sqlServer: server, database and file introspection queries
//   - tcp: single handshake
//
// Checkers never decide notification policy; a failed probe is returned as
// a *Failure.
//
// Example usage:
//
//	manager := checks.NewManager(cfg, codec)
//	snapshot, err := manager.ExecuteCheck(ctx, monitor)
package checks

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"

	"github.com/rs/zerolog/log"
)

// Checker defines the interface that all monitor types must implement.
type Checker interface {
	// Check probes the monitor and returns what it observed.
	Check(ctx context.Context, monitor *storage.Monitor) (*storage.Snapshot, error)

	// Type returns the monitor type identifier.
	Type() string
}

// Manager routes checks to the checker of the monitor's type.
type Manager struct {
	checkers map[string]Checker
	config   *config.Config
}

// NewManager creates a manager with every built-in checker registered.
// Credentials are decrypted with secrets.
func NewManager(cfg *config.Config, secrets Decrypter) *Manager {
	manager := &Manager{
		checkers: make(map[string]Checker),
		config:   cfg,
	}

	manager.registerChecker(NewWindowsChecker(cfg, secrets))
	manager.registerChecker(NewUbuntuChecker(cfg, secrets))
	manager.registerChecker(NewHTTPChecker(cfg, secrets))
	manager.registerChecker(NewSQLServerChecker(cfg, secrets))
	manager.registerChecker(NewTCPChecker(cfg))

	return manager
}

// registerChecker registers a checker, replacing any with the same type.
func (m *Manager) registerChecker(checker Checker) {
	m.checkers[checker.Type()] = checker
	log.Debug().Str("type", checker.Type()).Msg("Checker registered")
}

// ExecuteCheck runs the checker matching monitor.Type.
func (m *Manager) ExecuteCheck(ctx context.Context, monitor *storage.Monitor) (*storage.Snapshot, error) {
	checker, exists := m.checkers[monitor.Type]
	if !exists {
		return nil, fmt.Errorf("unsupported monitor type: %s", monitor.Type)
	}

	log.Debug().Int64("monitor_id", monitor.ID).Str("type", monitor.Type).Str("title", monitor.Title).Msg("Executing check")

	snapshot, err := checker.Check(ctx, monitor)
	if err != nil {
		log.Warn().Int64("monitor_id", monitor.ID).Str("type", monitor.Type).Err(err).Msg("Check failed")
		return nil, err
	}

	log.Debug().Int64("monitor_id", monitor.ID).Interface("ping_ms", snapshot.Feed.Ping).Msg("Check completed")
	return snapshot, nil
}

// GetSupportedTypes returns the registered monitor types, sorted.
func (m *Manager) GetSupportedTypes() []string {
	return slices.Sorted(maps.Keys(m.checkers))
}
