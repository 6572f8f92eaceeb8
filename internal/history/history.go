// Package history tracks store mutations on bounded undo/redo stacks.
package history

import (
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/maptalk/maptalk/internal/model"
)

type Kind string

const (
	KindCreate Kind = "create"
	KindModify Kind = "modify"
	KindDelete Kind = "delete"
	KindStyle  Kind = "style"
	KindMove   Kind = "move"
)

// Operation records one reversible store mutation.
type Operation struct {
	Kind      Kind
	LayerID   string
	FeatureID string
	Before    *geojson.Feature
	After     *geojson.Feature
	At        time.Time
}

// Callback is invoked with the operation being undone or redone; the wiring
// applies the inverse (or replay) against the store.
type Callback func(Operation)

type Tracker struct {
	mu     sync.Mutex
	undo   []Operation
	redo   []Operation
	max    int
	onUndo Callback
	onRedo Callback
	now    func() time.Time
	logger *slog.Logger
}

func New(max int, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if max <= 0 {
		max = 50
	}
	return &Tracker{max: max, now: time.Now, logger: logger}
}

func (t *Tracker) SetCallbacks(onUndo, onRedo Callback) {
	t.mu.Lock()
	t.onUndo = onUndo
	t.onRedo = onRedo
	t.mu.Unlock()
}

// Push records a new operation. Any previously undone future is invalidated:
// the redo stack is cleared. The undo stack is bounded; the oldest entry is
// dropped on overflow.
func (t *Tracker) Push(op Operation) {
	if op.At.IsZero() {
		op.At = t.now()
	}
	t.mu.Lock()
	t.undo = append(t.undo, op)
	if len(t.undo) > t.max {
		t.undo = t.undo[len(t.undo)-t.max:]
	}
	t.redo = nil
	t.mu.Unlock()
}

func (t *Tracker) RecordCreate(layerID, featureID string, after *geojson.Feature) {
	t.Push(Operation{Kind: KindCreate, LayerID: layerID, FeatureID: featureID, After: after})
}

func (t *Tracker) RecordModify(layerID, featureID string, before, after *geojson.Feature) {
	t.Push(Operation{Kind: KindModify, LayerID: layerID, FeatureID: featureID, Before: before, After: after})
}

func (t *Tracker) RecordDelete(layerID, featureID string, before *geojson.Feature) {
	t.Push(Operation{Kind: KindDelete, LayerID: layerID, FeatureID: featureID, Before: before})
}

// Undo moves the newest operation to the redo stack and invokes the undo
// callback with it. A no-op on an empty stack.
func (t *Tracker) Undo() (Operation, bool) {
	t.mu.Lock()
	if len(t.undo) == 0 {
		t.mu.Unlock()
		return Operation{}, false
	}
	op := t.undo[len(t.undo)-1]
	t.undo = t.undo[:len(t.undo)-1]
	t.redo = append(t.redo, op)
	if len(t.redo) > t.max {
		t.redo = t.redo[len(t.redo)-t.max:]
	}
	cb := t.onUndo
	t.mu.Unlock()

	if cb != nil {
		cb(op)
	}
	return op, true
}

// Redo is the mirror of Undo.
func (t *Tracker) Redo() (Operation, bool) {
	t.mu.Lock()
	if len(t.redo) == 0 {
		t.mu.Unlock()
		return Operation{}, false
	}
	op := t.redo[len(t.redo)-1]
	t.redo = t.redo[:len(t.redo)-1]
	t.undo = append(t.undo, op)
	if len(t.undo) > t.max {
		t.undo = t.undo[len(t.undo)-t.max:]
	}
	cb := t.onRedo
	t.mu.Unlock()

	if cb != nil {
		cb(op)
	}
	return op, true
}

func (t *Tracker) Depths() (undo, redo int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.undo), len(t.redo)
}

// State serializes both stacks for inclusion in a persisted snapshot.
func (t *Tracker) State() *model.HistoryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := &model.HistoryState{}
	for _, op := range t.undo {
		st.Undo = append(st.Undo, toModel(op))
	}
	for _, op := range t.redo {
		st.Redo = append(st.Redo, toModel(op))
	}
	return st
}

func toModel(op Operation) model.HistoryOperation {
	return model.HistoryOperation{
		Kind:      string(op.Kind),
		LayerID:   op.LayerID,
		FeatureID: op.FeatureID,
		Before:    op.Before,
		After:     op.After,
		At:        op.At.UnixMilli(),
	}
}
