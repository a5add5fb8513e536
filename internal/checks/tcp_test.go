package checks

import (
	"context"
	"errors"
	"net"
	"testing"

	"atlas-system/internal/storage"
)

func TestTCPChecker(t *testing.T) {
	checker := NewTCPChecker(testConfig())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	monitor := &storage.Monitor{ID: 1, Type: storage.MonitorTypeTCP, Host: "127.0.0.1", Port: addr.Port}

	t.Run("Open port returns a ping", func(t *testing.T) {
		snap, err := checker.Check(context.Background(), monitor)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if snap.Feed.Ping == nil || *snap.Feed.Ping < 0 {
			t.Errorf("Expected ping, got %v", snap.Feed.Ping)
		}
	})

	t.Run("Closed port returns a failure", func(t *testing.T) {
		_ = listener.Close()

		_, err := checker.Check(context.Background(), monitor)
		var failure *Failure
		if !errors.As(err, &failure) {
			t.Fatalf("Expected *Failure, got %v", err)
		}
		if failure.Op != "dial" {
			t.Errorf("Expected op 'dial', got %q", failure.Op)
		}
		if failure.Code != CodeRefused {
			t.Logf("Closed port classified as %q on this platform", failure.Code)
		}
	})
}
