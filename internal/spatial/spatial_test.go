package spatial

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/maptalk/maptalk/internal/model"
)

func pf(lon, lat float64) *geojson.Feature {
	return geojson.NewFeature(orb.Point{lon, lat})
}

func TestDistance_FewerThanTwoFeaturesIsZero(t *testing.T) {
	e := New(nil)
	if d := e.Distance(nil); d != 0 {
		t.Fatalf("no features: want 0, got %v", d)
	}
	if d := e.Distance([]*geojson.Feature{pf(18, 59)}); d != 0 {
		t.Fatalf("one feature: want 0, got %v", d)
	}
}

func TestDistance_IdenticalPointsIsZero(t *testing.T) {
	e := New(nil)
	if d := e.Distance([]*geojson.Feature{pf(18.07, 59.33), pf(18.07, 59.33)}); d != 0 {
		t.Fatalf("identical points: want 0, got %v", d)
	}
}

func TestDistance_StockholmGothenburgRoughly400km(t *testing.T) {
	e := New(nil)
	d := e.Distance([]*geojson.Feature{pf(18.0686, 59.3293), pf(11.9746, 57.7089)})
	if d < 390 || d > 410 {
		t.Fatalf("Stockholm-Gothenburg should be ~398 km, got %v", d)
	}
}

func TestDistance_ThreePointsSumSegments(t *testing.T) {
	e := New(nil)
	a, b, c := pf(0, 0), pf(1, 0), pf(2, 0)
	ab := e.Distance([]*geojson.Feature{a, b})
	bc := e.Distance([]*geojson.Feature{b, c})
	abc := e.Distance([]*geojson.Feature{a, b, c})
	if math.Abs(abc-(ab+bc)) > 0.01 {
		t.Fatalf("path distance must sum segments: %v vs %v", abc, ab+bc)
	}
}

func TestArea_UnitSquareNearEquator(t *testing.T) {
	e := New(nil)
	ring := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	f := geojson.NewFeature(orb.Polygon{ring})
	got := e.Area([]*geojson.Feature{f})
	// one degree square at the equator is roughly 12,300 km^2
	if got < 12000 || got > 12600 {
		t.Fatalf("unexpected area: %v km^2", got)
	}
}

func TestBuffer_PointProducesClosedPolygonContainingCenter(t *testing.T) {
	e := New(nil)
	out := e.Buffer(pf(18.0686, 59.3293), 2, model.UnitsKilometers)
	poly, ok := out.Geometry.(orb.Polygon)
	if !ok {
		t.Fatalf("expected polygon, got %T", out.Geometry)
	}
	ring := poly[0]
	if len(ring) < 4 {
		t.Fatalf("degenerate ring: %d points", len(ring))
	}
	if ring[0] != ring[len(ring)-1] {
		t.Fatal("ring must be closed")
	}
	if !ring.Bound().Contains(orb.Point{18.0686, 59.3293}) {
		t.Fatal("buffer must contain its center")
	}
}

func TestBuffer_BadInputReturnsOriginal(t *testing.T) {
	e := New(nil)
	f := pf(0, 0)
	if out := e.Buffer(f, 1, model.BufferUnits("furlongs")); out != f {
		t.Fatal("unknown units must hand the original back")
	}
	if out := e.Buffer(f, -5, model.UnitsKilometers); out != f {
		t.Fatal("negative distance must hand the original back")
	}
	empty := &geojson.Feature{}
	if out := e.Buffer(empty, 1, model.UnitsKilometers); out != empty {
		t.Fatal("missing geometry must hand the original back")
	}
}

func TestBuffer_MilesConvert(t *testing.T) {
	e := New(nil)
	km := e.Buffer(pf(0, 0), 1.60934, model.UnitsKilometers)
	mi := e.Buffer(pf(0, 0), 1, model.UnitsMiles)
	kb := km.Geometry.Bound()
	mb := mi.Geometry.Bound()
	if math.Abs(kb.Max[0]-mb.Max[0]) > 1e-6 {
		t.Fatalf("1 mile and 1.60934 km buffers should match: %v vs %v", kb, mb)
	}
}

func TestBoundingBox_SpansAllFeatures(t *testing.T) {
	e := New(nil)
	bbox, ok := e.BoundingBox([]*geojson.Feature{pf(11.97, 57.71), pf(18.07, 59.33)})
	if !ok {
		t.Fatal("bbox expected")
	}
	if bbox[0] != 11.97 || bbox[1] != 57.71 || bbox[2] != 18.07 || bbox[3] != 59.33 {
		t.Fatalf("bbox wrong: %v", bbox)
	}
	if _, ok := e.BoundingBox(nil); ok {
		t.Fatal("no features must yield no bbox")
	}
}

func TestSimplify_ReducesVertices(t *testing.T) {
	e := New(nil)
	var ls orb.LineString
	for i := 0; i <= 100; i++ {
		ls = append(ls, orb.Point{float64(i) / 100, 0})
	}
	ls = append(ls, orb.Point{1, 1})
	out := e.Simplify(geojson.NewFeature(ls), 0.01)
	simplified, ok := out.Geometry.(orb.LineString)
	if !ok {
		t.Fatalf("expected line string, got %T", out.Geometry)
	}
	if len(simplified) >= len(ls) {
		t.Fatalf("no reduction: %d -> %d", len(ls), len(simplified))
	}
}

func TestFeatureCenter_PolygonCentroidInside(t *testing.T) {
	ring := orb.Ring{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
	c, ok := FeatureCenter(geojson.NewFeature(orb.Polygon{ring}))
	if !ok {
		t.Fatal("centroid expected")
	}
	if math.Abs(c[0]-1) > 1e-9 || math.Abs(c[1]-1) > 1e-9 {
		t.Fatalf("centroid wrong: %v", c)
	}
}
