// Package throttle bounds the rate and concurrency of bursty operations,
// such as AI-dispatched map commands.
//
// A Manager tracks in-flight operations, a sliding one-second window of
// execution timestamps, and a cooling flag raised when the window count
// reaches the burst ceiling. Saturated callers wait in a FIFO queue and are
// resumed in submission order. Waiting is interruptible only through the
// caller's context; once an operation has started it cannot be cancelled by
// the manager (known limitation, kept deliberately).
package throttle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maptalk/maptalk/internal/observability"
)

var ErrDisposed = errors.New("throttle: manager disposed")

const windowSize = time.Second

type Config struct {
	MaxConcurrent int
	MaxPerSecond  int
	Burst         int
	Cooldown      time.Duration
}

type waiter struct {
	ch      chan struct{}
	granted bool
}

type Manager struct {
	mu       sync.Mutex
	cfg      Config
	active     int
	window     []time.Time
	cooling    bool
	queue      []*waiter
	disposed   bool
	drainArmed bool
	now      func() time.Time
	after    func(time.Duration, func()) *time.Timer
	logger   *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.MaxPerSecond <= 0 {
		cfg.MaxPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Second
	}
	return &Manager{
		cfg:    cfg,
		now:    time.Now,
		after:  time.AfterFunc,
		logger: logger,
	}
}

// Execute runs op, waiting first if the manager is saturated. Queued callers
// resume FIFO. The context only interrupts the wait; a started operation
// always runs to completion.
func (m *Manager) Execute(ctx context.Context, op func(context.Context) error) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	m.pruneLocked()
	if m.canRunLocked() && len(m.queue) == 0 {
		m.admitLocked()
		m.mu.Unlock()
	} else {
		w := &waiter{ch: make(chan struct{})}
		m.queue = append(m.queue, w)
		observability.SetThrottleQueueDepth(len(m.queue))
		m.armRedrainLocked()
		m.mu.Unlock()

		select {
		case <-w.ch:
			// admitted by drain; slot already accounted for
		case <-ctx.Done():
			m.mu.Lock()
			if w.granted {
				// admission raced the cancellation; give the slot back
				m.active--
				m.drainLocked()
				m.mu.Unlock()
				return ctx.Err()
			}
			m.removeWaiterLocked(w)
			m.mu.Unlock()
			return ctx.Err()
		}
	}

	err := op(ctx)

	m.mu.Lock()
	m.active--
	m.drainLocked()
	m.mu.Unlock()
	return err
}

// Stats reports the current saturation state.
func (m *Manager) Stats() (active, queued int, cooling bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	return m.active, len(m.queue), m.cooling
}

// Dispose clears the queue and counters. Queued callers are abandoned, not
// resolved: teardown loses pending work by design. Their only way out is
// their own context.
func (m *Manager) Dispose() {
	m.mu.Lock()
	m.disposed = true
	m.queue = nil
	m.active = 0
	m.window = nil
	m.cooling = false
	observability.SetThrottleQueueDepth(0)
	m.mu.Unlock()
}

// admitLocked records an execution start and raises cooling when the burst
// ceiling is hit.
func (m *Manager) admitLocked() {
	m.active++
	m.window = append(m.window, m.now())
	if !m.cooling && len(m.window) >= m.cfg.Burst {
		m.cooling = true
		m.logger.Warn("burst ceiling reached, cooling down",
			"burst", m.cfg.Burst, "cooldown", m.cfg.Cooldown.String())
		m.after(m.cfg.Cooldown, m.coolOff)
	}
}

func (m *Manager) coolOff() {
	m.mu.Lock()
	m.cooling = false
	m.drainLocked()
	m.mu.Unlock()
}

func (m *Manager) canRunLocked() bool {
	if m.cooling {
		return false
	}
	if m.active >= m.cfg.MaxConcurrent {
		return false
	}
	return len(m.window) < m.cfg.MaxPerSecond
}

func (m *Manager) drainLocked() {
	if m.disposed {
		return
	}
	m.pruneLocked()
	for len(m.queue) > 0 && m.canRunLocked() {
		w := m.queue[0]
		m.queue = m.queue[1:]
		w.granted = true
		m.admitLocked()
		close(w.ch)
	}
	m.armRedrainLocked()
	observability.SetThrottleQueueDepth(len(m.queue))
}

// armRedrainLocked schedules a drain for the moment the oldest window entry
// ages out. Without it a caller queued on the rate window alone would never
// resume: completions and cooldown expiry are the only other drain triggers,
// and neither fires when nothing is in flight.
func (m *Manager) armRedrainLocked() {
	if m.drainArmed || m.cooling || len(m.queue) == 0 || len(m.window) == 0 {
		return
	}
	if m.active >= m.cfg.MaxConcurrent || len(m.window) < m.cfg.MaxPerSecond {
		// blocked on concurrency or cooldown; those paths re-drain themselves
		return
	}
	m.drainArmed = true
	wait := m.window[0].Add(windowSize).Sub(m.now())
	if wait <= 0 {
		wait = time.Millisecond
	}
	m.after(wait, m.redrain)
}

func (m *Manager) redrain() {
	m.mu.Lock()
	m.drainArmed = false
	m.drainLocked()
	m.mu.Unlock()
}

func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-windowSize)
	i := 0
	for i < len(m.window) && !m.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.window = m.window[i:]
	}
}

func (m *Manager) removeWaiterLocked(target *waiter) {
	for i, w := range m.queue {
		if w == target {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	observability.SetThrottleQueueDepth(len(m.queue))
}
