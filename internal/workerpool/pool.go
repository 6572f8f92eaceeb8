// Package workerpool dispatches computational tasks to a fixed set of
// worker goroutines.
//
// Completions are matched to callers through an explicit task-id to future
// table rather than delivery order, so interleaved worker callbacks can
// never resolve the wrong caller. Timeout rejection does not cancel the
// underlying task; a late result is looked up, found abandoned, and
// discarded (accepted leak, kept deliberately).
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrClosed  = errors.New("workerpool: pool closed")
	ErrTimeout = errors.New("workerpool: task timed out")
)

// Task is a unit of work producing a value or an error.
type Task func(ctx context.Context) (interface{}, error)

type result struct {
	value interface{}
	err   error
}

type job struct {
	id   uint64
	task Task
}

type Pool struct {
	tasks   chan job
	quit    chan struct{}
	mu      sync.Mutex
	pending map[uint64]chan result
	nextID  atomic.Uint64
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func New(size int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 4
	}
	p := &Pool{
		tasks:   make(chan job),
		quit:    make(chan struct{}),
		pending: map[uint64]chan result{},
		logger:  logger,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	return p
}

// Execute submits task and blocks until a worker reports completion or the
// context releases the caller.
func (p *Pool) Execute(ctx context.Context, task Task) (interface{}, error) {
	id := p.nextID.Add(1)
	ch := make(chan result, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.pending[id] = ch
	p.mu.Unlock()

	select {
	case p.tasks <- job{id: id, task: task}:
	case <-p.quit:
		p.abandon(id)
		return nil, ErrClosed
	case <-ctx.Done():
		p.abandon(id)
		return nil, ctx.Err()
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		p.abandon(id)
		return nil, ctx.Err()
	}
}

// ExecuteWithTimeout races task against a timer. On expiry the call rejects
// with ErrTimeout; the task itself keeps running and its result is dropped.
func (p *Pool) ExecuteWithTimeout(ctx context.Context, task Task, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		return p.Execute(ctx, task)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := p.Execute(tctx, task)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrTimeout
	}
	return v, err
}

// Close stops accepting work and waits for the workers to finish what they
// already pulled. Tasks still queued in callers' Execute calls fail with
// ErrClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.quit)
	p.wg.Wait()
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for {
		var j job
		select {
		case j = <-p.tasks:
		case <-p.quit:
			return
		}
		v, err := func() (v interface{}, err error) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("task panic", "worker", n, "task_id", j.id, "reason", r)
					err = errors.New("workerpool: task panicked")
				}
			}()
			return j.task(context.Background())
		}()

		p.mu.Lock()
		ch, ok := p.pending[j.id]
		delete(p.pending, j.id)
		p.mu.Unlock()
		if !ok {
			// caller abandoned (timeout/cancel); result discarded
			continue
		}
		ch <- result{value: v, err: err}
	}
}

func (p *Pool) abandon(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}
