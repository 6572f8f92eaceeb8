package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/maptalk/maptalk/internal/model"
	"github.com/maptalk/maptalk/internal/parser"
	"github.com/maptalk/maptalk/internal/spatial"
	"github.com/maptalk/maptalk/internal/store"
)

type surfaceCall struct {
	name    string
	layerID string
}

// stubSurface records calls so tests can assert dispatch without a store.
type stubSurface struct {
	calls    []surfaceCall
	zoomArgs []int
	failOn   string
	panicOn  string
}

func (s *stubSurface) record(name, layerID string) error {
	s.calls = append(s.calls, surfaceCall{name: name, layerID: layerID})
	if s.panicOn == name {
		panic("stub panic")
	}
	if s.failOn == name {
		return errors.New("stub failure")
	}
	return nil
}

func (s *stubSurface) ZoomTo(_ context.Context, _ model.Coordinates, zoom int) error {
	s.zoomArgs = append(s.zoomArgs, zoom)
	return s.record("zoom_to", "")
}

func (s *stubSurface) AddFeature(_ context.Context, _ *geojson.Feature, layerID string, _ *model.Style) error {
	return s.record("add_feature", layerID)
}

func (s *stubSurface) ModifyFeature(_ context.Context, _ string, _ map[string]interface{}) error {
	return s.record("modify_feature", "")
}

func (s *stubSurface) RemoveFeature(_ context.Context, _, layerID string) error {
	return s.record("remove_feature", layerID)
}

func (s *stubSurface) StyleFeature(_ context.Context, _ string, _ *model.Style) error {
	return s.record("style_feature", "")
}

func (s *stubSurface) Measure(_ context.Context, _ model.MeasureType, _ []*geojson.Feature) (float64, error) {
	return 42, s.record("measure", "")
}

func (s *stubSurface) Buffer(_ context.Context, f *geojson.Feature, _ float64, _ model.BufferUnits) (*geojson.Feature, error) {
	return f, s.record("buffer", "")
}

func TestApply_SingleZoomTo(t *testing.T) {
	stub := &stubSurface{}
	svc := New(parser.New(nil), stub, nil)

	text := "Big Ben is in London [zoom_to 51.5007 -0.1246 15]"
	out, executed := svc.Apply(context.Background(), text)
	if out != text {
		t.Fatal("input text must come back unchanged")
	}
	if executed != 1 {
		t.Fatalf("expected 1 executed command, got %d", executed)
	}
	if len(stub.calls) != 1 || stub.calls[0].name != "zoom_to" {
		t.Fatalf("wrong dispatch: %v", stub.calls)
	}
	if stub.zoomArgs[0] != 15 {
		t.Fatalf("zoom argument wrong: %d", stub.zoomArgs[0])
	}
}

func TestApply_FailedCommandDoesNotStopTheRest(t *testing.T) {
	stub := &stubSurface{failOn: "remove_feature"}
	svc := New(parser.New(nil), stub, nil)

	_, executed := svc.Apply(context.Background(),
		"[remove_feature f-1] then [zoom_to 1 2 3]")
	if executed != 1 {
		t.Fatalf("expected the surviving command counted, got %d", executed)
	}
	if len(stub.calls) != 2 {
		t.Fatalf("both commands must be attempted: %v", stub.calls)
	}
}

func TestApply_PanicIsContained(t *testing.T) {
	stub := &stubSurface{panicOn: "zoom_to"}
	svc := New(parser.New(nil), stub, nil)

	_, executed := svc.Apply(context.Background(),
		"[zoom_to 1 2] and [remove_feature f-1]")
	if executed != 1 {
		t.Fatalf("panic must only fail its own command, executed=%d", executed)
	}
}

func TestApply_BufferChainsToBuffersLayer(t *testing.T) {
	stub := &stubSurface{}
	svc := New(parser.New(nil), stub, nil)

	feature := `{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{}}`
	_, executed := svc.Apply(context.Background(), "[buffer "+feature+" 2 kilometers]")
	if executed != 1 {
		t.Fatalf("expected buffer executed, got %d", executed)
	}
	if len(stub.calls) != 2 || stub.calls[0].name != "buffer" || stub.calls[1].name != "add_feature" {
		t.Fatalf("buffer must chain into add_feature: %v", stub.calls)
	}
	if stub.calls[1].layerID != BuffersLayer {
		t.Fatalf("buffer result must land on %q, got %q", BuffersLayer, stub.calls[1].layerID)
	}
}

func TestApply_NoDirectivesNoCalls(t *testing.T) {
	stub := &stubSurface{}
	svc := New(parser.New(nil), stub, nil)

	_, executed := svc.Apply(context.Background(), "Just a plain answer, no brackets.")
	if executed != 0 || len(stub.calls) != 0 {
		t.Fatalf("nothing should run: executed=%d calls=%v", executed, stub.calls)
	}
}

func TestStoreSurface_AddFeatureCreatesLayerByName(t *testing.T) {
	st := store.New(nil)
	surface := NewStoreSurface(st, spatial.New(nil), nil)

	f := geojson.NewFeature(orb.Point{18.07, 59.33})
	if err := surface.AddFeature(context.Background(), f, "cities", nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	got, layerID := st.GetFeatureByID(model.FeatureID(f.ID))
	if got == nil {
		t.Fatal("feature not stored")
	}
	layer := st.GetLayerByID(layerID)
	if layer == nil || layer.Name != "cities" {
		t.Fatalf("layer not created by name: %+v", layer)
	}

	// second add with the same name reuses the layer
	f2 := geojson.NewFeature(orb.Point{11.97, 57.71})
	if err := surface.AddFeature(context.Background(), f2, "cities", nil); err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	_, layerID2 := st.GetFeatureByID(model.FeatureID(f2.ID))
	if layerID2 != layerID {
		t.Fatalf("layer name must resolve consistently: %q vs %q", layerID, layerID2)
	}
}

func TestStoreSurface_StyleFeatureWritesProperties(t *testing.T) {
	st := store.New(nil)
	surface := NewStoreSurface(st, spatial.New(nil), nil)

	f := geojson.NewFeature(orb.Point{0, 0})
	if err := surface.AddFeature(context.Background(), f, "", nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	id := model.FeatureID(f.ID)

	style := &model.Style{Color: "#00ff00", Weight: 2}
	if err := surface.StyleFeature(context.Background(), id, style); err != nil {
		t.Fatalf("style failed: %v", err)
	}
	got, _ := st.GetFeatureByID(id)
	if got.Properties["color"] != "#00ff00" {
		t.Fatalf("color not written: %v", got.Properties)
	}
	if got.Properties["weight"] != 2.0 && got.Properties["weight"] != float64(2) {
		t.Fatalf("weight not written: %v", got.Properties["weight"])
	}
}

func TestStoreSurface_MissingFeatureErrors(t *testing.T) {
	st := store.New(nil)
	surface := NewStoreSurface(st, spatial.New(nil), nil)

	if err := surface.ModifyFeature(context.Background(), "ghost", nil); err == nil {
		t.Fatal("modify of missing feature must error")
	}
	if err := surface.RemoveFeature(context.Background(), "ghost", ""); err == nil {
		t.Fatal("remove of missing feature must error")
	}
	if err := surface.StyleFeature(context.Background(), "ghost", &model.Style{}); err == nil {
		t.Fatal("style of missing feature must error")
	}
}

func TestStoreSurface_ModifyCoordinatesMovesGeometry(t *testing.T) {
	st := store.New(nil)
	surface := NewStoreSurface(st, spatial.New(nil), nil)

	f := geojson.NewFeature(orb.Point{0, 0})
	_ = surface.AddFeature(context.Background(), f, "", nil)
	id := model.FeatureID(f.ID)

	// json-shaped coordinates, as the parser would deliver them
	props := map[string]interface{}{
		"coordinates": []interface{}{[]interface{}{18.07, 59.33}},
		"name":        "moved",
	}
	if err := surface.ModifyFeature(context.Background(), id, props); err != nil {
		t.Fatalf("modify failed: %v", err)
	}
	got, _ := st.GetFeatureByID(id)
	if got.Geometry.(orb.Point) != (orb.Point{18.07, 59.33}) {
		t.Fatalf("geometry not moved: %v", got.Geometry)
	}
	if got.Properties["name"] != "moved" {
		t.Fatal("remaining properties must still merge")
	}
	if _, ok := got.Properties["coordinates"]; ok {
		t.Fatal("coordinates must not leak into properties")
	}
}

func TestStoreSurface_ModifyCoordinatesRefusedForCluster(t *testing.T) {
	st := store.New(nil)
	surface := NewStoreSurface(st, spatial.New(nil), nil)

	f := geojson.NewFeature(orb.Point{0, 0})
	f.Properties = geojson.Properties{"cluster": true}
	_ = surface.AddFeature(context.Background(), f, "", nil)
	id := model.FeatureID(f.ID)

	props := map[string]interface{}{"coordinates": []interface{}{[]interface{}{1.0, 2.0}}}
	if err := surface.ModifyFeature(context.Background(), id, props); err == nil {
		t.Fatal("cluster placeholder geometry must not be editable")
	}
}

func TestStoreSurface_ModifyCoordinatesCountMismatch(t *testing.T) {
	st := store.New(nil)
	surface := NewStoreSurface(st, spatial.New(nil), nil)

	f := geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}})
	_ = surface.AddFeature(context.Background(), f, "", nil)
	id := model.FeatureID(f.ID)

	props := map[string]interface{}{"coordinates": []interface{}{[]interface{}{5.0, 5.0}}}
	if err := surface.ModifyFeature(context.Background(), id, props); err == nil {
		t.Fatal("vertex count mismatch must be rejected")
	}
}

func TestStoreSurface_MeasureDispatch(t *testing.T) {
	st := store.New(nil)
	surface := NewStoreSurface(st, spatial.New(nil), nil)

	a := geojson.NewFeature(orb.Point{18.0686, 59.3293})
	b := geojson.NewFeature(orb.Point{11.9746, 57.7089})
	d, err := surface.Measure(context.Background(), model.MeasureDistance, []*geojson.Feature{a, b})
	if err != nil {
		t.Fatalf("measure failed: %v", err)
	}
	if d < 390 || d > 410 {
		t.Fatalf("unexpected distance: %v", d)
	}
	if _, err := surface.Measure(context.Background(), model.MeasureType("volume"), nil); err == nil {
		t.Fatal("unknown measure type must error")
	}
}
