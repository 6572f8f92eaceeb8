package main

import (
	"log/slog"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/maptalk/maptalk/internal/history"
	"github.com/maptalk/maptalk/internal/model"
	"github.com/maptalk/maptalk/internal/store"
)

func newHistoryWiring(t *testing.T) (*store.Store, *history.Tracker, *replayGuard) {
	t.Helper()
	st := store.New(nil)
	tracker := history.New(10, nil)
	guard := &replayGuard{}
	tracker.SetCallbacks(
		func(op history.Operation) { applyHistory(st, op, true, guard, slog.Default()) },
		func(op history.Operation) { applyHistory(st, op, false, guard, slog.Default()) },
	)
	st.OnMutation(func(m store.Mutation) { recordHistory(tracker, guard, m) })
	return st, tracker, guard
}

func TestHistoryReplay_OwnMutationsNotReRecorded(t *testing.T) {
	st, tracker, _ := newHistoryWiring(t)

	layerID := st.EnsureLayer("cities", model.LayerFeature)
	f := geojson.NewFeature(orb.Point{18.07, 59.33})
	st.AddFeatureToLayer(layerID, f)

	if undo, _ := tracker.Depths(); undo != 1 {
		t.Fatalf("create not recorded: undo=%d", undo)
	}

	if _, ok := tracker.Undo(); !ok {
		t.Fatal("undo must apply")
	}
	if got, _ := st.GetFeatureByID(model.FeatureID(f.ID)); got != nil {
		t.Fatal("undo must remove the feature")
	}
	undo, redo := tracker.Depths()
	if undo != 0 || redo != 1 {
		t.Fatalf("replay mutation leaked into history: undo=%d redo=%d", undo, redo)
	}
}

func TestHistoryReplay_SuppressionScopedToReplayedFeature(t *testing.T) {
	st, tracker, guard := newHistoryWiring(t)

	layerID := st.EnsureLayer("cities", model.LayerFeature)
	a := geojson.NewFeature(orb.Point{18.07, 59.33})
	st.AddFeatureToLayer(layerID, a)
	if undo, _ := tracker.Depths(); undo != 1 {
		t.Fatalf("setup: undo=%d", undo)
	}

	// a mutation on a different feature arriving mid-replay still records
	guard.begin(layerID, model.FeatureID(a.ID))
	b := geojson.NewFeature(orb.Point{11.97, 57.71})
	st.AddFeatureToLayer(layerID, b)
	guard.end()
	if undo, _ := tracker.Depths(); undo != 2 {
		t.Fatalf("concurrent mutation escaped the history log: undo=%d", undo)
	}

	// the replayed feature's own mutations stay suppressed
	guard.begin(layerID, model.FeatureID(a.ID))
	st.ModifyFeature(layerID, model.FeatureID(a.ID), map[string]interface{}{"name": "x"})
	guard.end()
	if undo, _ := tracker.Depths(); undo != 2 {
		t.Fatalf("replay mutation was recorded: undo=%d", undo)
	}
}
