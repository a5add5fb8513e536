package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

type stateKey struct {
	kind storage.EntityKind
	id   int64
	dim  storage.Dimension
}

type logEntry struct {
	driveID *int64
	typ     string
	message string
}

// fakeStore keeps notify state in memory with the same compare-and-set
// semantics as the gateway.
type fakeStore struct {
	mu       sync.Mutex
	states   map[stateKey]storage.NotifyState
	logs     []logEntry
	links    []storage.Notification
	loseNext bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states: make(map[stateKey]storage.NotifyState),
		links:  []storage.Notification{{ID: 1, Type: "telegram"}, {ID: 2, Type: "smtp"}},
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (f *fakeStore) AppendLog(_ context.Context, _ int64, driveID *int64, logType, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.logs); n > 0 && f.logs[n-1].typ == logType && f.logs[n-1].message == message {
		return false, nil
	}
	f.logs = append(f.logs, logEntry{driveID: driveID, typ: logType, message: message})
	return true, nil
}

func (f *fakeStore) SetNotifyState(_ context.Context, kind storage.EntityKind, id int64, dim storage.Dimension, prev, next storage.NotifyState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loseNext {
		f.loseNext = false
		return false, nil
	}
	key := stateKey{kind, id, dim}
	cur := f.states[key]
	if !sameTime(cur.SentAt, prev.SentAt) || (dim == storage.DimensionConnection && !sameInt(cur.Retried, prev.Retried)) {
		return false, nil
	}
	f.states[key] = next
	return true, nil
}

func (f *fakeStore) NotificationsFor(context.Context, storage.EntityKind, int64, storage.Dimension) ([]storage.Notification, error) {
	return f.links, nil
}

func (f *fakeStore) state(kind storage.EntityKind, id int64, dim storage.Dimension) storage.NotifyState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[stateKey{kind, id, dim}]
}

type sentMessage struct {
	notificationID int64
	subject        string
	message        string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failID int64
}

func (s *fakeSender) Send(_ context.Context, n *storage.Notification, subject, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == s.failID {
		return fmt.Errorf("channel %d is down", n.ID)
	}
	s.sent = append(s.sent, sentMessage{n.ID, subject, message})
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type testClock struct{ now time.Time }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine() (*Engine, *fakeStore, *fakeSender, *testClock) {
	store := newFakeStore()
	sender := &fakeSender{}
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	engine := NewEngine(store, sender, config.ChecksConfig{CertWarningDays: 14})
	engine.now = func() time.Time { return clock.now }
	return engine, store, sender, clock
}

// cpuMonitor returns a monitor whose cpu state mirrors the store.
func cpuMonitor(store *fakeStore, resend int) *storage.Monitor {
	return &storage.Monitor{
		ID:                          5,
		Title:                       "db01",
		Host:                        "10.0.0.5",
		CPUNotify:                   true,
		CPUNotifyValue:              90,
		CPUNotifyResendAfterMinutes: resend,
		CPUNotifySentAt:             store.state(storage.EntityMonitor, 5, storage.DimensionCPU).SentAt,
	}
}

func load(v float64) *storage.MonitorFeed {
	return &storage.MonitorFeed{CPULoad: &v}
}

func TestEvaluateTransitions(t *testing.T) {
	t.Run("Breach raises once and clears once", func(t *testing.T) {
		engine, store, sender, clock := newTestEngine()
		ctx := context.Background()

		if err := engine.CPU(ctx, cpuMonitor(store, 0), load(95)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if sender.count() != 2 {
			t.Fatalf("Expected alert on both channels, got %d", sender.count())
		}
		if store.state(storage.EntityMonitor, 5, storage.DimensionCPU).SentAt == nil {
			t.Fatal("Expected sent_at to be set")
		}

		clock.advance(10 * time.Minute)
		if err := engine.CPU(ctx, cpuMonitor(store, 0), load(97)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if sender.count() != 2 {
			t.Errorf("Expected no resend without interval, got %d messages", sender.count())
		}

		if err := engine.CPU(ctx, cpuMonitor(store, 0), load(20)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if sender.count() != 4 {
			t.Errorf("Expected all-clear on both channels, got %d messages", sender.count())
		}
		if store.state(storage.EntityMonitor, 5, storage.DimensionCPU).SentAt != nil {
			t.Error("Expected sent_at to be reset")
		}
		if len(store.logs) != 2 || store.logs[0].typ != storage.LogTypeError || store.logs[1].typ != storage.LogTypeSuccess {
			t.Errorf("Expected error then success log, got %+v", store.logs)
		}
		if sender.sent[0].subject != "[Atlas] 10.0.0.5: cpu" {
			t.Errorf("Expected subject with host, got %q", sender.sent[0].subject)
		}
	})

	t.Run("Resend honours the interval with grace", func(t *testing.T) {
		engine, store, sender, clock := newTestEngine()
		ctx := context.Background()

		_ = engine.CPU(ctx, cpuMonitor(store, 60), load(95))

		clock.advance(59 * time.Minute)
		_ = engine.CPU(ctx, cpuMonitor(store, 60), load(95))
		if sender.count() != 2 {
			t.Errorf("Expected no resend after 59 minutes, got %d messages", sender.count())
		}

		clock.advance(108 * time.Second)
		_ = engine.CPU(ctx, cpuMonitor(store, 60), load(95))
		if sender.count() != 4 {
			t.Errorf("Expected resend after 60.8 minutes, got %d messages", sender.count())
		}
		if got := store.state(storage.EntityMonitor, 5, storage.DimensionCPU).SentAt; got == nil || !got.Equal(clock.now) {
			t.Errorf("Expected sent_at to move to the resend time, got %v", got)
		}
	})

	t.Run("Disabled dimension is forced clear silently", func(t *testing.T) {
		engine, store, sender, _ := newTestEngine()
		ctx := context.Background()

		_ = engine.CPU(ctx, cpuMonitor(store, 0), load(95))
		m := cpuMonitor(store, 0)
		m.CPUNotify = false
		if err := engine.CPU(ctx, m, load(95)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if store.state(storage.EntityMonitor, 5, storage.DimensionCPU).SentAt != nil {
			t.Error("Expected disabled dimension to be clear")
		}
		if sender.count() != 2 || len(store.logs) != 1 {
			t.Errorf("Expected no dispatch or log on disable, got %d messages and %d logs", sender.count(), len(store.logs))
		}
	})

	t.Run("All-clear survives a failing channel", func(t *testing.T) {
		engine, store, sender, _ := newTestEngine()
		ctx := context.Background()

		_ = engine.CPU(ctx, cpuMonitor(store, 0), load(95))
		sender.failID = 1
		if err := engine.CPU(ctx, cpuMonitor(store, 0), load(10)); err != nil {
			t.Fatalf("Expected dispatch failure to be swallowed, got %v", err)
		}
		if store.state(storage.EntityMonitor, 5, storage.DimensionCPU).SentAt != nil {
			t.Error("Expected state to clear despite the failing channel")
		}
		if sender.count() != 3 {
			t.Errorf("Expected the healthy channel to receive the all-clear, got %d messages", sender.count())
		}
	})

	t.Run("Lost state write does not dispatch", func(t *testing.T) {
		engine, store, sender, _ := newTestEngine()
		store.loseNext = true

		if err := engine.CPU(context.Background(), cpuMonitor(store, 0), load(95)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if sender.count() != 0 || len(store.logs) != 0 {
			t.Errorf("Expected nothing from the losing writer, got %d messages and %d logs", sender.count(), len(store.logs))
		}
	})

	t.Run("Missing feed data leaves state alone", func(t *testing.T) {
		engine, store, sender, _ := newTestEngine()
		if err := engine.CPU(context.Background(), cpuMonitor(store, 0), &storage.MonitorFeed{}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if sender.count() != 0 {
			t.Errorf("Expected no dispatch, got %d", sender.count())
		}
	})
}

func connectionMonitor(store *fakeStore, retry int) *storage.Monitor {
	st := store.state(storage.EntityMonitor, 9, storage.DimensionConnection)
	return &storage.Monitor{
		ID:                      9,
		Title:                   "web",
		HTTPURL:                 "https://shop.example.com/health",
		ConnectionNotify:        true,
		ConnectionNotifyRetry:   retry,
		ConnectionNotifySentAt:  st.SentAt,
		ConnectionNotifyRetried: st.Retried,
	}
}

func TestConnection(t *testing.T) {
	checkErr := errors.New("status 503")

	t.Run("Failures below the retry threshold only count", func(t *testing.T) {
		engine, store, sender, _ := newTestEngine()
		ctx := context.Background()

		for i := 1; i <= 2; i++ {
			if err := engine.Connection(ctx, connectionMonitor(store, 2), checkErr); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			st := store.state(storage.EntityMonitor, 9, storage.DimensionConnection)
			if st.Retried == nil || *st.Retried != i {
				t.Fatalf("Expected retried %d, got %v", i, st.Retried)
			}
			if sender.count() != 0 {
				t.Fatalf("Expected no dispatch on failure %d", i)
			}
		}

		_ = engine.Connection(ctx, connectionMonitor(store, 2), checkErr)
		if sender.count() != 2 {
			t.Fatalf("Expected alert on the third failure, got %d messages", sender.count())
		}
		if sender.sent[0].subject != "[Atlas] shop.example.com: connection" {
			t.Errorf("Expected subject with url host, got %q", sender.sent[0].subject)
		}

		_ = engine.Connection(ctx, connectionMonitor(store, 2), nil)
		st := store.state(storage.EntityMonitor, 9, storage.DimensionConnection)
		if st.SentAt != nil || st.Retried != nil {
			t.Errorf("Expected state and counter reset, got %+v", st)
		}
		if sender.count() != 4 {
			t.Errorf("Expected all-clear, got %d messages", sender.count())
		}
	})

	t.Run("Success below the threshold resets silently", func(t *testing.T) {
		engine, store, sender, _ := newTestEngine()
		ctx := context.Background()

		_ = engine.Connection(ctx, connectionMonitor(store, 3), checkErr)
		_ = engine.Connection(ctx, connectionMonitor(store, 3), nil)

		st := store.state(storage.EntityMonitor, 9, storage.DimensionConnection)
		if st.Retried != nil {
			t.Errorf("Expected counter reset, got %v", *st.Retried)
		}
		if sender.count() != 0 || len(store.logs) != 0 {
			t.Errorf("Expected silent reset, got %d messages and %d logs", sender.count(), len(store.logs))
		}
	})

	t.Run("Zero retry alerts on the first failure", func(t *testing.T) {
		engine, store, sender, _ := newTestEngine()
		_ = engine.Connection(context.Background(), connectionMonitor(store, 0), checkErr)
		if sender.count() != 2 {
			t.Errorf("Expected immediate alert, got %d messages", sender.count())
		}
	})
}

func TestReboot(t *testing.T) {
	previous := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	t.Run("Changed boot time notifies once", func(t *testing.T) {
		engine, store, sender, _ := newTestEngine()
		boot := previous.Add(26 * time.Hour)
		m := &storage.Monitor{ID: 3, Title: "app01", Host: "app01", RebootNotify: true, LastBootTime: &boot}

		if err := engine.Reboot(context.Background(), m, &previous); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if sender.count() != 2 {
			t.Errorf("Expected reboot notification, got %d messages", sender.count())
		}
		if len(store.logs) != 1 || store.logs[0].typ != storage.LogTypeWarning {
			t.Errorf("Expected one warning log, got %+v", store.logs)
		}
	})

	t.Run("Small drift and first boot are ignored", func(t *testing.T) {
		engine, _, sender, _ := newTestEngine()
		drift := previous.Add(30 * time.Second)
		m := &storage.Monitor{ID: 3, RebootNotify: true, LastBootTime: &drift}

		_ = engine.Reboot(context.Background(), m, &previous)
		_ = engine.Reboot(context.Background(), m, nil)
		if sender.count() != 0 {
			t.Errorf("Expected no notification, got %d", sender.count())
		}
	})
}

func TestCertificate(t *testing.T) {
	valid, invalid := true, false

	t.Run("Expiring certificate breaches", func(t *testing.T) {
		engine, store, sender, _ := newTestEngine()
		days := 10
		m := &storage.Monitor{ID: 4, Title: "portal", CertNotify: true, HTTPCheckCert: true, CertValid: &valid, CertDays: &days}

		_ = engine.Certificate(context.Background(), m)
		if sender.count() != 2 {
			t.Errorf("Expected alert, got %d messages", sender.count())
		}
		if len(store.logs) != 1 || store.logs[0].message != "Certificate of portal expires in 10 days" {
			t.Errorf("Unexpected log: %+v", store.logs)
		}
	})

	t.Run("Invalid certificate breaches", func(t *testing.T) {
		engine, _, sender, _ := newTestEngine()
		m := &storage.Monitor{ID: 4, CertNotify: true, HTTPCheckCert: true, CertValid: &invalid}
		_ = engine.Certificate(context.Background(), m)
		if sender.count() != 2 {
			t.Errorf("Expected alert, got %d messages", sender.count())
		}
	})

	t.Run("Certificate checks off disables the rule", func(t *testing.T) {
		engine, _, sender, _ := newTestEngine()
		m := &storage.Monitor{ID: 4, CertNotify: true, HTTPCheckCert: false, CertValid: &invalid}
		_ = engine.Certificate(context.Background(), m)
		if sender.count() != 0 {
			t.Errorf("Expected no alert, got %d messages", sender.count())
		}
	})
}

func TestMemory(t *testing.T) {
	engine, _, sender, _ := newTestEngine()
	free, total := int64(512), int64(8192)
	m := &storage.Monitor{ID: 6, MemoryNotify: true, MemoryNotifyValue: 10}

	_ = engine.Memory(context.Background(), m, &storage.MonitorFeed{MemoryFree: &free, MemoryTotal: &total})
	if sender.count() != 2 {
		t.Errorf("Expected alert at 6.25%% free, got %d messages", sender.count())
	}
}

func TestDrive(t *testing.T) {
	t.Run("Low free space breaches percent and size", func(t *testing.T) {
		engine, store, _, _ := newTestEngine()
		d := &storage.Drive{
			ID: 11, Root: "C:", Size: 100 * gigabyte, Free: 4 * gigabyte,
			PercentFreeNotify: true, PercentFreeNotifyValue: 10,
			SizeFreeNotify: true, SizeFreeNotifyValue: 5,
		}
		if err := engine.Drive(context.Background(), &storage.Monitor{ID: 1, Title: "fs01"}, d); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if store.state(storage.EntityDrive, 11, storage.DimensionPercentFree).SentAt == nil {
			t.Error("Expected percent_free alert")
		}
		if store.state(storage.EntityDrive, 11, storage.DimensionSizeFree).SentAt == nil {
			t.Error("Expected size_free alert")
		}
		for _, l := range store.logs {
			if l.driveID == nil || *l.driveID != 11 {
				t.Errorf("Expected drive scoped log, got %+v", l)
			}
		}
	})

	t.Run("Growth rate compares gigabytes per day", func(t *testing.T) {
		engine, store, _, _ := newTestEngine()
		rate := float64(40 * gigabyte)
		d := &storage.Drive{ID: 12, Root: "/data", Size: 1000 * gigabyte, Free: 500 * gigabyte, GrowthRate: &rate, GrowthRateNotify: true, GrowthRateNotifyValue: 30}
		_ = engine.Drive(context.Background(), &storage.Monitor{ID: 1}, d)
		if store.state(storage.EntityDrive, 12, storage.DimensionGrowthRate).SentAt == nil {
			t.Error("Expected growth_rate alert")
		}
	})

	t.Run("Missing drive only evaluates the missing rule", func(t *testing.T) {
		engine, store, _, _ := newTestEngine()
		d := &storage.Drive{
			ID: 13, Root: "E:", Missing: true, MissingNotify: true,
			SizeFreeNotify: true, SizeFreeNotifyValue: 5,
		}
		_ = engine.Drive(context.Background(), &storage.Monitor{ID: 1}, d)
		if store.state(storage.EntityDrive, 13, storage.DimensionMissing).SentAt == nil {
			t.Error("Expected missing alert")
		}
		if store.state(storage.EntityDrive, 13, storage.DimensionSizeFree).SentAt != nil {
			t.Error("Expected size_free to be left alone")
		}
	})
}

func TestFile(t *testing.T) {
	engine, store, _, _ := newTestEngine()

	limited := &storage.DatabaseFile{ID: 21, FileName: "sales", MaxSize: 100, Size: 95, PercentFreeNotify: true, PercentFreeNotifyValue: 10}
	unlimited := &storage.DatabaseFile{ID: 22, FileName: "sales_log", MaxSize: -1, Size: 95, PercentFreeNotify: true, PercentFreeNotifyValue: 10}

	_ = engine.File(context.Background(), &storage.Monitor{ID: 1}, limited)
	_ = engine.File(context.Background(), &storage.Monitor{ID: 1}, unlimited)

	if store.state(storage.EntityFile, 21, storage.DimensionPercentFree).SentAt == nil {
		t.Error("Expected alert for a file 5% from its limit")
	}
	if store.state(storage.EntityFile, 22, storage.DimensionPercentFree).SentAt != nil {
		t.Error("Expected no alert for an unlimited file")
	}
}
