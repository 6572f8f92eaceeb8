// Package geomutil provides pure helpers over orb geometries: the
// editable-feature predicate and flat coordinate extraction/replacement.
package geomutil

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var ErrCoordinateCount = errors.New("replacement coordinate count mismatch")

// Editable reports whether a feature's geometry can be vertex-edited.
// Cluster placeholders and empty geometries are not editable.
func Editable(f *geojson.Feature) bool {
	if f == nil || f.Geometry == nil {
		return false
	}
	if f.Properties != nil {
		if c, ok := f.Properties["cluster"].(bool); ok && c {
			return false
		}
	}
	switch g := f.Geometry.(type) {
	case orb.Point:
		return true
	case orb.LineString:
		return len(g) > 0
	case orb.Polygon:
		return len(g) > 0 && len(g[0]) > 0
	case orb.MultiPoint:
		return len(g) > 0
	case orb.MultiLineString:
		return len(g) > 0
	case orb.MultiPolygon:
		return len(g) > 0
	default:
		return false
	}
}

// Coordinates flattens a geometry into its ordered vertex list.
func Coordinates(g orb.Geometry) []orb.Point {
	var out []orb.Point
	appendGeom(&out, g)
	return out
}

func appendGeom(out *[]orb.Point, g orb.Geometry) {
	switch v := g.(type) {
	case orb.Point:
		*out = append(*out, v)
	case orb.MultiPoint:
		*out = append(*out, v...)
	case orb.LineString:
		*out = append(*out, v...)
	case orb.MultiLineString:
		for _, ls := range v {
			*out = append(*out, ls...)
		}
	case orb.Ring:
		*out = append(*out, v...)
	case orb.Polygon:
		for _, r := range v {
			*out = append(*out, r...)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			for _, r := range p {
				*out = append(*out, r...)
			}
		}
	case orb.Collection:
		for _, sub := range v {
			appendGeom(out, sub)
		}
	}
}

// ReplaceCoordinates rebuilds a geometry with the same structure but new
// vertices. The vertex count must match what Coordinates would return.
func ReplaceCoordinates(g orb.Geometry, pts []orb.Point) (orb.Geometry, error) {
	need := len(Coordinates(g))
	if need != len(pts) {
		return nil, fmt.Errorf("%w: geometry has %d vertices, got %d", ErrCoordinateCount, need, len(pts))
	}
	out, rest := rebuild(g, pts)
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d unconsumed vertices", ErrCoordinateCount, len(rest))
	}
	return out, nil
}

func rebuild(g orb.Geometry, pts []orb.Point) (orb.Geometry, []orb.Point) {
	switch v := g.(type) {
	case orb.Point:
		return pts[0], pts[1:]
	case orb.MultiPoint:
		n := len(v)
		mp := make(orb.MultiPoint, n)
		copy(mp, pts[:n])
		return mp, pts[n:]
	case orb.LineString:
		n := len(v)
		ls := make(orb.LineString, n)
		copy(ls, pts[:n])
		return ls, pts[n:]
	case orb.MultiLineString:
		mls := make(orb.MultiLineString, 0, len(v))
		for _, part := range v {
			n := len(part)
			ls := make(orb.LineString, n)
			copy(ls, pts[:n])
			pts = pts[n:]
			mls = append(mls, ls)
		}
		return mls, pts
	case orb.Ring:
		n := len(v)
		r := make(orb.Ring, n)
		copy(r, pts[:n])
		return r, pts[n:]
	case orb.Polygon:
		poly := make(orb.Polygon, 0, len(v))
		for _, ring := range v {
			n := len(ring)
			r := make(orb.Ring, n)
			copy(r, pts[:n])
			pts = pts[n:]
			poly = append(poly, r)
		}
		return poly, pts
	case orb.MultiPolygon:
		mp := make(orb.MultiPolygon, 0, len(v))
		for _, poly := range v {
			sub, rest := rebuild(poly, pts)
			pts = rest
			mp = append(mp, sub.(orb.Polygon))
		}
		return mp, pts
	case orb.Collection:
		col := make(orb.Collection, 0, len(v))
		for _, sub := range v {
			g2, rest := rebuild(sub, pts)
			pts = rest
			col = append(col, g2)
		}
		return col, pts
	default:
		return g, pts
	}
}
