// Package spatial implements the analysis operations maptalk commands rely
// on: distance, area, buffer, simplify, centroid and bounding box.
//
// Every operation returns a safe default instead of an error. These run
// inside the AI command pipeline where one bad directive must not abort the
// rest of the response; failures are logged and swallowed. This is the
// opposite policy from package cluster, which returns errors.
package spatial

import (
	"log/slog"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/maptalk/maptalk/internal/geomutil"
	"github.com/maptalk/maptalk/internal/model"
)

const (
	metersPerKilometer = 1000.0
	metersPerMile      = 1609.34
	circleSegments     = 64
)

type Engine struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Distance sums the great-circle distance in kilometers between consecutive
// feature centers. Fewer than two features yields 0.
func (e *Engine) Distance(features []*geojson.Feature) float64 {
	if len(features) < 2 {
		e.logger.Warn("distance needs at least 2 features", "got", len(features))
		return 0
	}
	total := 0.0
	prev, ok := center(features[0])
	if !ok {
		e.logger.Warn("distance: feature 0 has no usable geometry")
		return 0
	}
	for i := 1; i < len(features); i++ {
		cur, ok := center(features[i])
		if !ok {
			e.logger.Warn("distance: feature has no usable geometry", "index", i)
			return 0
		}
		total += geo.DistanceHaversine(prev, cur)
		prev = cur
	}
	return total / metersPerKilometer
}

// Area sums the geodesic area of each feature and converts to km².
func (e *Engine) Area(features []*geojson.Feature) float64 {
	if len(features) == 0 {
		e.logger.Warn("area called with no features")
		return 0
	}
	total := 0.0
	for _, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		total += math.Abs(geo.Area(f.Geometry))
	}
	return total / (metersPerKilometer * metersPerKilometer)
}

// Buffer produces a polygon feature expanded by distance in the given unit.
// On any failure the original feature is returned unchanged.
func (e *Engine) Buffer(f *geojson.Feature, distance float64, units model.BufferUnits) *geojson.Feature {
	if f == nil || f.Geometry == nil {
		e.logger.Warn("buffer: feature has no geometry")
		return f
	}
	meters, ok := toMeters(distance, units)
	if !ok || meters <= 0 {
		e.logger.Warn("buffer: invalid distance", "distance", distance, "units", string(units))
		return f
	}

	vertices := geomutil.Coordinates(f.Geometry)
	if len(vertices) == 0 {
		e.logger.Warn("buffer: geometry has no vertices")
		return f
	}

	// Geodesic circle around every vertex, then the convex hull of all
	// circle points. An approximation, but closed under every geometry
	// type the command protocol can supply.
	ringPts := make([]orb.Point, 0, len(vertices)*circleSegments)
	for _, v := range vertices {
		for i := 0; i < circleSegments; i++ {
			bearing := float64(i) * 360.0 / circleSegments
			ringPts = append(ringPts, geo.PointAtBearingAndDistance(v, bearing, meters))
		}
	}
	hull := convexHull(ringPts)
	if len(hull) < 3 {
		e.logger.Warn("buffer: degenerate hull", "points", len(hull))
		return f
	}
	hull = append(hull, hull[0]) // close the ring

	out := geojson.NewFeature(orb.Polygon{orb.Ring(hull)})
	out.Properties = geojson.Properties{}
	for k, v := range f.Properties {
		out.Properties[k] = v
	}
	return out
}

// Simplify reduces vertex count within tolerance (degrees). Returns the
// original feature when simplification is not applicable.
func (e *Engine) Simplify(f *geojson.Feature, tolerance float64) *geojson.Feature {
	if f == nil || f.Geometry == nil || tolerance <= 0 {
		return f
	}
	simplified := func() (g orb.Geometry) {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warn("simplify failed", "reason", r)
				g = nil
			}
		}()
		return simplify.DouglasPeucker(tolerance).Simplify(orb.Clone(f.Geometry))
	}()
	if simplified == nil {
		return f
	}
	out := geojson.NewFeature(simplified)
	out.ID = f.ID
	out.Properties = f.Properties
	return out
}

// BoundingBox returns [minX, minY, maxX, maxY] over all features, or
// ok=false for empty or geometry-less input.
func (e *Engine) BoundingBox(features []*geojson.Feature) (model.BBox, bool) {
	var bound orb.Bound
	found := false
	for _, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		if !found {
			bound = b
			found = true
			continue
		}
		bound = bound.Union(b)
	}
	if !found {
		return model.BBox{}, false
	}
	return model.BBoxFromBound(bound), true
}

// Centroid returns a Point feature at the geometric centroid, or the
// original feature when no centroid can be computed.
func (e *Engine) Centroid(f *geojson.Feature) *geojson.Feature {
	c, ok := featureCentroid(f)
	if !ok {
		e.logger.Warn("centroid: feature has no usable geometry")
		return f
	}
	out := geojson.NewFeature(c)
	out.ID = f.ID
	out.Properties = f.Properties
	return out
}

// FeatureCenter exposes the representative point used by distance and
// clustering.
func FeatureCenter(f *geojson.Feature) (orb.Point, bool) {
	return center(f)
}

func featureCentroid(f *geojson.Feature) (orb.Point, bool) {
	if f == nil || f.Geometry == nil {
		return orb.Point{}, false
	}
	if p, ok := f.Geometry.(orb.Point); ok {
		return p, true
	}
	c, _ := planar.CentroidArea(f.Geometry)
	if math.IsNaN(c[0]) || math.IsNaN(c[1]) {
		return orb.Point{}, false
	}
	return c, true
}

func center(f *geojson.Feature) (orb.Point, bool) {
	return featureCentroid(f)
}

func toMeters(distance float64, units model.BufferUnits) (float64, bool) {
	switch units {
	case model.UnitsKilometers:
		return distance * metersPerKilometer, true
	case model.UnitsMiles:
		return distance * metersPerMile, true
	case model.UnitsMeters:
		return distance, true
	default:
		return 0, false
	}
}

// Andrew's monotone chain. Returns the hull counterclockwise without the
// closing point.
func convexHull(pts []orb.Point) []orb.Point {
	if len(pts) < 3 {
		return pts
	}
	sorted := make([]orb.Point, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	var lower []orb.Point
	for _, p := range sorted {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	var upper []orb.Point
	for i := len(sorted) - 1; i >= 0; i-- {
		p := sorted[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

func less(a, b orb.Point) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}
