// Package persist stores serialized map-state snapshots in a key-value
// blob sink and runs the periodic auto-save loop.
package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("persist: no snapshot")

// SnapshotStore is the blob sink abstraction. Implementations must be safe
// for concurrent use.
type SnapshotStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// MemoryStore keeps the snapshot in process memory, for tests and for
// running without Redis.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNoSnapshot
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.data = cp
	m.mu.Unlock()
	return nil
}

// Source produces the current serialized snapshot.
type Source func() ([]byte, error)

// AutoSaver rewrites the snapshot at a fixed interval, but only when the
// payload actually changed (xxhash dirty check). Persistence errors go to
// the optional OnError callback and never stop the loop: the next scheduled
// attempt still runs.
type AutoSaver struct {
	store    SnapshotStore
	source   Source
	interval time.Duration
	onError  func(error)
	lastSum  uint64
	haveSum  bool
	logger   *slog.Logger
}

func NewAutoSaver(store SnapshotStore, source Source, interval time.Duration, onError func(error), logger *slog.Logger) *AutoSaver {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AutoSaver{
		store:    store,
		source:   source,
		interval: interval,
		onError:  onError,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, flushing one last time on the way out.
func (a *AutoSaver) Run(ctx context.Context) {
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.flush(flushCtx)
			cancel()
			return
		}
	}
}

// Flush forces a save attempt regardless of the schedule.
func (a *AutoSaver) Flush(ctx context.Context) { a.flush(ctx) }

func (a *AutoSaver) flush(ctx context.Context) {
	data, err := a.source()
	if err != nil {
		a.fail(err)
		return
	}
	sum := xxhash.Sum64(data)
	if a.haveSum && sum == a.lastSum {
		return // unchanged since last save
	}
	if err := a.store.Save(ctx, data); err != nil {
		a.fail(err)
		return
	}
	a.lastSum = sum
	a.haveSum = true
	a.logger.Debug("snapshot saved", "bytes", len(data))
}

func (a *AutoSaver) fail(err error) {
	a.logger.Error("autosave failed", "err", err)
	if a.onError != nil {
		a.onError(err)
	}
}
