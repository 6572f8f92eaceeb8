// Package model defines the domain types shared across maptalk: layers,
// layer groups, map state and the parsed command variant.
package model

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type LayerType string

const (
	LayerFeature LayerType = "feature"
	LayerMarker  LayerType = "marker"
	LayerVector  LayerType = "vector"
)

// Style carries the subset of rendering options commands may set.
type Style struct {
	Color     string  `json:"color,omitempty"`
	FillColor string  `json:"fillColor,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
	Opacity   float64 `json:"opacity,omitempty"`
}

type Layer struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Type     LayerType          `json:"type"`
	Visible  bool               `json:"visible"`
	Style    *Style             `json:"style,omitempty"`
	Features []*geojson.Feature `json:"features"`
}

type LayerGroup struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Visible bool     `json:"visible"`
	Layers  []*Layer `json:"layers"`
}

// Coordinates is a lat/lon pair as it appears on the wire ([lat, lon]).
type Coordinates [2]float64

func (c Coordinates) Lat() float64 { return c[0] }
func (c Coordinates) Lon() float64 { return c[1] }

func (c Coordinates) Point() orb.Point { return orb.Point{c[1], c[0]} }

// HistoryState is the serialized slice of the undo/redo stacks kept inside a
// persisted snapshot.
type HistoryState struct {
	Undo []HistoryOperation `json:"undo,omitempty"`
	Redo []HistoryOperation `json:"redo,omitempty"`
}

type HistoryOperation struct {
	Kind      string           `json:"kind"`
	LayerID   string           `json:"layerId"`
	FeatureID string           `json:"featureId,omitempty"`
	Before    *geojson.Feature `json:"before,omitempty"`
	After     *geojson.Feature `json:"after,omitempty"`
	At        int64            `json:"at"`
}

// MapState is the externally observable snapshot of the whole map.
type MapState struct {
	Center            Coordinates   `json:"center"`
	Zoom              int           `json:"zoom"`
	Layers            []*LayerGroup `json:"layers"`
	ActiveLayerID     string        `json:"activeLayerId,omitempty"`
	SelectedFeatureID string        `json:"selectedFeatureId,omitempty"`
	History           *HistoryState `json:"history,omitempty"`
}

// BBox is [minX, minY, maxX, maxY] in lon/lat order.
type BBox [4]float64

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b[0], b[1], b[2], b[3])
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
}

func BBoxFromBound(bd orb.Bound) BBox {
	return BBox{bd.Min[0], bd.Min[1], bd.Max[0], bd.Max[1]}
}

// FeatureID renders a GeoJSON feature id (string or number) in its canonical
// string form so that 7 and "7" address the same feature.
func FeatureID(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// NormalizeFeature guarantees the invariants callers rely on: a non-nil
// properties map, always.
func NormalizeFeature(f *geojson.Feature) *geojson.Feature {
	if f == nil {
		return nil
	}
	if f.Properties == nil {
		f.Properties = geojson.Properties{}
	}
	return f
}
