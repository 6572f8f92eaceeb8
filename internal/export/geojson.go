// Package export serializes the map contents to interchange formats.
package export

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/maptalk/maptalk/internal/model"
)

// GeoJSON flattens every layer into a single FeatureCollection. Layer and
// group identity is kept in per-feature properties so a re-import can
// rebuild the layer structure.
func GeoJSON(state model.MapState) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, g := range state.Layers {
		for _, l := range g.Layers {
			for _, f := range l.Features {
				cp := geojson.NewFeature(f.Geometry)
				cp.ID = f.ID
				cp.Properties = geojson.Properties{}
				for k, v := range f.Properties {
					cp.Properties[k] = v
				}
				cp.Properties["_layer"] = l.Name
				cp.Properties["_layerId"] = l.ID
				cp.Properties["_group"] = g.Name
				fc.Append(cp)
			}
		}
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export: marshal feature collection: %w", err)
	}
	return data, nil
}

// ParseGeoJSON validates and decodes an uploaded FeatureCollection. Only
// top-level FeatureCollection payloads are accepted.
func ParseGeoJSON(data []byte) (*geojson.FeatureCollection, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("export: invalid json: %w", err)
	}
	if head.Type != "FeatureCollection" {
		return nil, fmt.Errorf("export: expected FeatureCollection, got %q", head.Type)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("export: decode feature collection: %w", err)
	}
	return fc, nil
}
