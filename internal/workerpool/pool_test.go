package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestExecute_ReturnsTaskResult(t *testing.T) {
	p := New(2, nil)
	defer p.Close()

	v, err := p.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return 21 * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(int) != 42 {
		t.Fatalf("wrong result: %v", v)
	}
}

func TestExecute_ReturnsTaskError(t *testing.T) {
	p := New(1, nil)
	defer p.Close()

	want := errors.New("task broke")
	if _, err := p.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return nil, want
	}); !errors.Is(err, want) {
		t.Fatalf("expected task error back, got %v", err)
	}
}

func TestExecute_ConcurrentCallersGetTheirOwnResults(t *testing.T) {
	p := New(4, nil)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := p.Execute(context.Background(), func(context.Context) (interface{}, error) {
				return i * 3, nil
			})
			if err != nil {
				t.Errorf("task %d: %v", i, err)
				return
			}
			if v.(int) != i*3 {
				t.Errorf("task %d got someone else's result: %v", i, v)
			}
		}(i)
	}
	wg.Wait()
}

func TestExecute_PanicBecomesError(t *testing.T) {
	p := New(1, nil)
	defer p.Close()

	_, err := p.Execute(context.Background(), func(context.Context) (interface{}, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("panicking task must report an error")
	}

	// the worker must survive the panic
	v, err := p.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return "alive", nil
	})
	if err != nil || v != "alive" {
		t.Fatalf("worker did not survive panic: v=%v err=%v", v, err)
	}
}

func TestExecuteWithTimeout_ExpiryRejects(t *testing.T) {
	p := New(1, nil)
	defer p.Close()

	done := make(chan struct{})
	_, err := p.ExecuteWithTimeout(context.Background(), func(context.Context) (interface{}, error) {
		<-done
		return nil, nil
	}, 30*time.Millisecond)
	close(done)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestExecuteWithTimeout_FastTaskSucceeds(t *testing.T) {
	p := New(1, nil)
	defer p.Close()

	v, err := p.ExecuteWithTimeout(context.Background(), func(context.Context) (interface{}, error) {
		return "quick", nil
	}, time.Second)
	if err != nil || v != "quick" {
		t.Fatalf("fast task should pass: v=%v err=%v", v, err)
	}
}

func TestClose_RejectsNewWork(t *testing.T) {
	p := New(1, nil)
	p.Close()
	if _, err := p.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return nil, nil
	}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
