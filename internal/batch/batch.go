// Package batch coalesces many small operations into grouped calls.
//
// Items buffer until the batch reaches MaxSize (immediate flush) or MaxDelay
// elapses (timer flush). The whole buffer is handed to the batch function;
// failures retry with a linearly increasing delay. Callers block in Add
// until their batch settles; item resolution order matches submission order
// within a batch. A flush that finds new items queued behind it re-arms
// immediately, so nothing is lost mid-flush.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maptalk/maptalk/internal/observability"
)

var ErrClosed = errors.New("batch: processor closed")

type Config struct {
	MaxSize    int
	MaxDelay   time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Func transforms a whole batch. It must return one result per input item,
// in input order.
type Func[T, R any] func(ctx context.Context, items []T) ([]R, error)

type outcome[R any] struct {
	value R
	err   error
}

type item[T, R any] struct {
	value T
	done  chan outcome[R]
}

type Processor[T, R any] struct {
	mu      sync.Mutex
	buf     []item[T, R]
	timer   *time.Timer
	closed  bool
	cfg     Config
	fn      Func[T, R]
	logger  *slog.Logger
	flushWG sync.WaitGroup
}

func New[T, R any](cfg Config, fn Func[T, R], logger *slog.Logger) *Processor[T, R] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 100 * time.Millisecond
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Processor[T, R]{cfg: cfg, fn: fn, logger: logger}
}

// Add buffers value and blocks until its batch is processed. The context
// releases the caller from waiting but does not remove the item from the
// batch; a late result is discarded.
func (p *Processor[T, R]) Add(ctx context.Context, value T) (R, error) {
	var zero R

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrClosed
	}
	it := item[T, R]{value: value, done: make(chan outcome[R], 1)}
	p.buf = append(p.buf, it)
	if len(p.buf) >= p.cfg.MaxSize {
		p.startFlushLocked()
	} else if p.timer == nil {
		p.timer = time.AfterFunc(p.cfg.MaxDelay, p.flushOnTimer)
	}
	p.mu.Unlock()

	select {
	case out := <-it.done:
		return out.value, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Flush forces processing of anything currently buffered and waits for all
// in-flight batches to settle.
func (p *Processor[T, R]) Flush() {
	p.mu.Lock()
	if len(p.buf) > 0 {
		p.startFlushLocked()
	}
	p.mu.Unlock()
	p.flushWG.Wait()
}

// Close flushes and rejects subsequent Adds.
func (p *Processor[T, R]) Close() {
	p.mu.Lock()
	p.closed = true
	if len(p.buf) > 0 {
		p.startFlushLocked()
	}
	p.mu.Unlock()
	p.flushWG.Wait()
}

func (p *Processor[T, R]) flushOnTimer() {
	p.mu.Lock()
	p.timer = nil
	if len(p.buf) > 0 {
		p.startFlushLocked()
	}
	p.mu.Unlock()
}

// startFlushLocked detaches the current buffer and processes it on its own
// goroutine. The caller holds the lock.
func (p *Processor[T, R]) startFlushLocked() {
	batch := p.buf
	p.buf = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.flushWG.Add(1)
	go func() {
		defer p.flushWG.Done()
		p.process(batch)

		// re-arm for anything queued while we were processing
		p.mu.Lock()
		if len(p.buf) >= p.cfg.MaxSize {
			p.startFlushLocked()
		} else if len(p.buf) > 0 && p.timer == nil && !p.closed {
			p.timer = time.AfterFunc(p.cfg.MaxDelay, p.flushOnTimer)
		}
		p.mu.Unlock()
	}()
}

func (p *Processor[T, R]) process(batch []item[T, R]) {
	observability.ObserveBatchFlush(len(batch))
	values := make([]T, len(batch))
	for i, it := range batch {
		values[i] = it.value
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.Retries; attempt++ {
		results, err := p.fn(context.Background(), values)
		if err == nil {
			if len(results) != len(batch) {
				err = fmt.Errorf("batch fn returned %d results for %d items", len(results), len(batch))
			} else {
				for i, it := range batch {
					it.done <- outcome[R]{value: results[i]}
				}
				return
			}
		}
		lastErr = err
		p.logger.Warn("batch attempt failed",
			"attempt", attempt, "of", p.cfg.Retries, "size", len(batch), "err", err)
		if attempt < p.cfg.Retries {
			time.Sleep(p.cfg.RetryDelay * time.Duration(attempt))
		}
	}

	for _, it := range batch {
		it.done <- outcome[R]{err: lastErr}
	}
}
