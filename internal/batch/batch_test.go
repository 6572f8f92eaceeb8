package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdd_SizeTriggerFlushesWholeBatch(t *testing.T) {
	var calls atomic.Int32
	var gotSize atomic.Int32
	p := New(Config{MaxSize: 3, MaxDelay: time.Hour, RetryDelay: time.Millisecond},
		func(_ context.Context, items []int) ([]int, error) {
			calls.Add(1)
			gotSize.Store(int32(len(items)))
			out := make([]int, len(items))
			for i, v := range items {
				out[i] = v * 10
			}
			return out, nil
		}, nil)
	defer p.Close()

	var wg sync.WaitGroup
	results := make([]int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := p.Add(context.Background(), i+1)
			if err != nil {
				t.Errorf("add %d: %v", i, err)
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected a single flush, got %d", calls.Load())
	}
	if gotSize.Load() != 3 {
		t.Fatalf("expected batch of 3, got %d", gotSize.Load())
	}
	for i, r := range results {
		if r != (i+1)*10 {
			t.Fatalf("result %d wrong: %d", i, r)
		}
	}
}

func TestAdd_TimerFlushesPartialBatch(t *testing.T) {
	p := New(Config{MaxSize: 100, MaxDelay: 20 * time.Millisecond, RetryDelay: time.Millisecond},
		func(_ context.Context, items []string) ([]string, error) {
			return items, nil
		}, nil)
	defer p.Close()

	start := time.Now()
	r, err := p.Add(context.Background(), "solo")
	if err != nil || r != "solo" {
		t.Fatalf("unexpected: r=%q err=%v", r, err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timer flush took far too long")
	}
}

func TestAdd_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	p := New(Config{MaxSize: 1, MaxDelay: time.Hour, Retries: 3, RetryDelay: time.Millisecond},
		func(_ context.Context, items []int) ([]int, error) {
			if attempts.Add(1) < 3 {
				return nil, errors.New("transient")
			}
			return items, nil
		}, nil)
	defer p.Close()

	r, err := p.Add(context.Background(), 42)
	if err != nil || r != 42 {
		t.Fatalf("expected success on third attempt: r=%d err=%v", r, err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestAdd_ExhaustedRetriesRejectAllItems(t *testing.T) {
	want := errors.New("down")
	p := New(Config{MaxSize: 1, MaxDelay: time.Hour, Retries: 2, RetryDelay: time.Millisecond},
		func(_ context.Context, _ []int) ([]int, error) {
			return nil, want
		}, nil)
	defer p.Close()

	if _, err := p.Add(context.Background(), 1); !errors.Is(err, want) {
		t.Fatalf("expected last error back, got %v", err)
	}
}

func TestAdd_ResultCountMismatchIsAnError(t *testing.T) {
	p := New(Config{MaxSize: 2, MaxDelay: time.Hour, Retries: 1, RetryDelay: time.Millisecond},
		func(_ context.Context, _ []int) ([]int, error) {
			return []int{1}, nil // one short
		}, nil)
	defer p.Close()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Add(context.Background(), i)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err == nil {
			t.Fatalf("item %d must be rejected on result count mismatch", i)
		}
	}
}

func TestClose_RejectsFurtherAdds(t *testing.T) {
	p := New(Config{MaxSize: 10, MaxDelay: time.Hour},
		func(_ context.Context, items []int) ([]int, error) { return items, nil }, nil)
	p.Close()
	if _, err := p.Add(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
