package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue(t *testing.T) {
	t.Run("One job per monitor is in flight", func(t *testing.T) {
		var inFlight, maxInFlight, runs atomic.Int32
		release := make(chan struct{})

		q := NewQueue(16, 4, func(ctx context.Context, id int64) error {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			runs.Add(1)
			return nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q.Start(ctx)
		defer q.Stop()

		q.Enqueue(1)
		waitFor(t, func() bool { return q.Stats().Running == 1 })

		// Running: deferred once. Pending afterwards: no-op.
		if !q.Enqueue(1) {
			t.Error("Expected enqueue of a running monitor to defer a re-run")
		}
		q.Enqueue(1)
		q.Enqueue(1)

		close(release)
		waitFor(t, func() bool { return runs.Load() == 2 && q.Stats().Running == 0 })

		time.Sleep(50 * time.Millisecond)
		if got := runs.Load(); got != 2 {
			t.Errorf("Expected 2 runs, got %d", got)
		}
		if got := maxInFlight.Load(); got != 1 {
			t.Errorf("Expected at most 1 job in flight, got %d", got)
		}
	})

	t.Run("Pending monitor is not queued twice", func(t *testing.T) {
		q := NewQueue(16, 1, func(context.Context, int64) error { return nil })

		if !q.Enqueue(7) {
			t.Fatal("Expected first enqueue to succeed")
		}
		if q.Enqueue(7) {
			t.Error("Expected second enqueue to be a no-op")
		}
		if got := q.Stats().Pending; got != 1 {
			t.Errorf("Expected 1 pending, got %d", got)
		}
	})

	t.Run("Full queue drops runs", func(t *testing.T) {
		q := NewQueue(1, 1, func(context.Context, int64) error { return nil })
		q.Enqueue(1)
		if q.Enqueue(2) {
			t.Error("Expected enqueue on a full queue to fail")
		}
	})

	t.Run("Different monitors run in parallel", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(3)
		q := NewQueue(16, 3, func(context.Context, int64) error {
			wg.Done()
			wg.Wait()
			return nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q.Start(ctx)
		defer q.Stop()

		for id := int64(1); id <= 3; id++ {
			q.Enqueue(id)
		}

		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Expected three monitors to run concurrently")
		}
	})

	t.Run("Panicking job does not stop the worker", func(t *testing.T) {
		var runs atomic.Int32
		q := NewQueue(16, 1, func(_ context.Context, id int64) error {
			runs.Add(1)
			if id == 1 {
				panic("collector exploded")
			}
			return nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q.Start(ctx)
		defer q.Stop()

		q.Enqueue(1)
		q.Enqueue(2)
		waitFor(t, func() bool { return runs.Load() == 2 })
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}
