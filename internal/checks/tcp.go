package checks

import (
	"context"
	"net"
	"strconv"
	"time"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

// TCPChecker implements tcp monitors with a single handshake.
type TCPChecker struct {
	*BaseChecker
	timeout time.Duration
}

// NewTCPChecker creates a new TCP checker instance.
func NewTCPChecker(cfg *config.Config) *TCPChecker {
	return &TCPChecker{BaseChecker: NewBaseChecker(nil), timeout: cfg.Checks.TCPTimeout}
}

// Type returns "tcp".
func (t *TCPChecker) Type() string {
	return storage.MonitorTypeTCP
}

// Check dials host:port once; the handshake time is the ping.
func (t *TCPChecker) Check(ctx context.Context, m *storage.Monitor) (*storage.Snapshot, error) {
	dialer := net.Dialer{Timeout: t.timeout}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, t.failure("dial", err, "")
	}
	ping := elapsedMs(start)
	_ = conn.Close()

	return newSnapshot(ping), nil
}
