package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecute_RunsOperation(t *testing.T) {
	m := New(Config{MaxConcurrent: 2, MaxPerSecond: 100, Burst: 100}, nil)
	defer m.Dispose()

	ran := false
	err := m.Execute(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("op should run once: err=%v ran=%v", err, ran)
	}
}

func TestExecute_PropagatesOperationError(t *testing.T) {
	m := New(Config{MaxConcurrent: 2, MaxPerSecond: 100, Burst: 100}, nil)
	defer m.Dispose()

	want := errors.New("boom")
	if err := m.Execute(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected op error back, got %v", err)
	}
}

func TestExecute_ConcurrencyCapQueuesExtra(t *testing.T) {
	m := New(Config{MaxConcurrent: 2, MaxPerSecond: 100, Burst: 100}, nil)
	defer m.Dispose()

	var running, peak atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Execute(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				running.Add(-1)
				return nil
			})
		}()
	}

	// wait for the cap to fill and the rest to queue
	deadline := time.Now().Add(2 * time.Second)
	for {
		active, queued, _ := m.Stats()
		if active == 2 && queued == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("saturation never reached: active=%d queued=%d", active, queued)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	wg.Wait()
	if got := peak.Load(); got > 2 {
		t.Fatalf("concurrency cap exceeded: peak=%d", got)
	}
}

func TestExecute_ContextCancelReleasesQueuedCaller(t *testing.T) {
	m := New(Config{MaxConcurrent: 1, MaxPerSecond: 100, Burst: 100}, nil)
	defer m.Dispose()

	release := make(chan struct{})
	go func() {
		_ = m.Execute(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if active, _, _ := m.Stats(); active == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first op never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Execute(ctx, func(context.Context) error { return nil })
	}()

	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, queued, _ := m.Stats(); queued == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second op never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller never released")
	}
	close(release)
}

func TestExecute_BurstCeilingTriggersCooling(t *testing.T) {
	m := New(Config{MaxConcurrent: 100, MaxPerSecond: 100, Burst: 3, Cooldown: time.Hour}, nil)
	defer m.Dispose()

	var fired atomic.Bool
	m.after = func(d time.Duration, f func()) *time.Timer {
		fired.Store(true)
		return time.NewTimer(time.Hour)
	}

	for i := 0; i < 3; i++ {
		_ = m.Execute(context.Background(), func(context.Context) error { return nil })
	}
	if _, _, cooling := m.Stats(); !cooling {
		t.Fatal("cooling flag must raise at the burst ceiling")
	}
	if !fired.Load() {
		t.Fatal("cooldown timer must be armed")
	}

	// cooling refuses immediate admission; the next caller queues
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Execute(ctx, func(context.Context) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cooling manager should park the caller until cooldown: %v", err)
	}

	m.coolOff()
	if _, _, cooling := m.Stats(); cooling {
		t.Fatal("coolOff must clear the flag")
	}
}

func TestDispose_RejectsNewWork(t *testing.T) {
	m := New(Config{}, nil)
	m.Dispose()
	if err := m.Execute(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

func TestExecute_WindowExpiryResumesQueuedCaller(t *testing.T) {
	m := New(Config{MaxConcurrent: 100, MaxPerSecond: 2, Burst: 100}, nil)
	defer m.Dispose()

	var mu sync.Mutex
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { mu.Lock(); defer mu.Unlock(); return now }

	var scheduled []func()
	m.after = func(_ time.Duration, f func()) *time.Timer {
		mu.Lock()
		scheduled = append(scheduled, f)
		mu.Unlock()
		return time.NewTimer(time.Hour)
	}

	// two instantly-completing ops fill the one-second window; nothing is
	// left in flight, so no completion will ever drain the queue
	_ = m.Execute(context.Background(), func(context.Context) error { return nil })
	_ = m.Execute(context.Background(), func(context.Context) error { return nil })

	done := make(chan error, 1)
	go func() {
		done <- m.Execute(context.Background(), func(context.Context) error { return nil })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, queued, _ := m.Stats(); queued == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("third op never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	if len(scheduled) == 0 {
		mu.Unlock()
		t.Fatal("a drain must be scheduled for window expiry")
	}
	fire := scheduled[0]
	now = now.Add(1100 * time.Millisecond)
	mu.Unlock()
	fire()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("resumed caller failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued caller never resumed after the window expired")
	}
}

func TestExecute_SlidingWindowPrunes(t *testing.T) {
	m := New(Config{MaxConcurrent: 100, MaxPerSecond: 2, Burst: 100}, nil)
	defer m.Dispose()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_ = m.Execute(context.Background(), func(context.Context) error { return nil })
	_ = m.Execute(context.Background(), func(context.Context) error { return nil })

	m.mu.Lock()
	can := m.canRunLocked()
	m.mu.Unlock()
	if can {
		t.Fatal("window full, admission must be refused")
	}

	now = now.Add(1100 * time.Millisecond)
	m.mu.Lock()
	m.pruneLocked()
	can = m.canRunLocked()
	m.mu.Unlock()
	if !can {
		t.Fatal("window entries older than a second must be pruned")
	}
}
