package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/maptalk/maptalk/internal/geomutil"
	"github.com/maptalk/maptalk/internal/model"
	"github.com/maptalk/maptalk/internal/spatial"
	"github.com/maptalk/maptalk/internal/store"
)

// StoreSurface is the built-in MapSurface backed by the feature/layer store
// and the spatial engine. A rendering frontend consumes the store state; the
// surface itself has no drawing side effects.
type StoreSurface struct {
	store   *store.Store
	engine  *spatial.Engine
	logger  *slog.Logger
	mu      sync.Mutex
	byName  map[string]string // resolved layer name to id shortcuts
	defType model.LayerType
}

func NewStoreSurface(st *store.Store, engine *spatial.Engine, logger *slog.Logger) *StoreSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSurface{
		store:   st,
		engine:  engine,
		logger:  logger,
		byName:  map[string]string{},
		defType: model.LayerFeature,
	}
}

func (s *StoreSurface) ZoomTo(_ context.Context, coords model.Coordinates, zoom int) error {
	s.store.SetView(coords, zoom)
	return nil
}

// AddFeature resolves layerID as a store layer id first, then as a layer
// name (creating the layer on first use). AI output frequently addresses
// layers by name before any create_layer directive ran.
func (s *StoreSurface) AddFeature(_ context.Context, f *geojson.Feature, layerID string, style *model.Style) error {
	id := s.resolveLayer(layerID)
	if !s.store.AddFeatureToLayer(id, f) {
		return fmt.Errorf("layer %q not found", layerID)
	}
	if style != nil {
		s.store.SetLayerStyle(id, style)
	}
	return nil
}

// ModifyFeature merges properties. A "coordinates" entry is special: it
// moves the feature's vertices in place instead of landing in the property
// map. Cluster placeholders refuse geometry edits.
func (s *StoreSurface) ModifyFeature(_ context.Context, featureID string, props map[string]interface{}) error {
	f, layerID := s.store.GetFeatureByID(featureID)
	if layerID == "" {
		return fmt.Errorf("feature %q not found", featureID)
	}

	if raw, ok := props["coordinates"]; ok {
		if !geomutil.Editable(f) {
			return fmt.Errorf("feature %q geometry is not editable", featureID)
		}
		pts, err := coordList(raw)
		if err != nil {
			return err
		}
		g, err := geomutil.ReplaceCoordinates(f.Geometry, pts)
		if err != nil {
			return err
		}
		if !s.store.SetFeatureGeometry(layerID, featureID, g) {
			return fmt.Errorf("feature %q not found", featureID)
		}
		rest := make(map[string]interface{}, len(props))
		for k, v := range props {
			if k != "coordinates" {
				rest[k] = v
			}
		}
		props = rest
	}

	if len(props) == 0 {
		return nil
	}
	if !s.store.ModifyFeature(layerID, featureID, props) {
		return fmt.Errorf("feature %q not found", featureID)
	}
	return nil
}

// coordList decodes a JSON-shaped [[lon,lat],...] value into orb points.
func coordList(raw interface{}) ([]orb.Point, error) {
	pairs, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("coordinates must be an array of [lon,lat] pairs")
	}
	out := make([]orb.Point, 0, len(pairs))
	for i, p := range pairs {
		pair, ok := p.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("coordinate %d is not a [lon,lat] pair", i)
		}
		lon, okX := pair[0].(float64)
		lat, okY := pair[1].(float64)
		if !okX || !okY {
			return nil, fmt.Errorf("coordinate %d is not numeric", i)
		}
		out = append(out, orb.Point{lon, lat})
	}
	return out, nil
}

func (s *StoreSurface) RemoveFeature(_ context.Context, featureID, layerID string) error {
	if layerID == "" {
		_, layerID = s.store.GetFeatureByID(featureID)
		if layerID == "" {
			return fmt.Errorf("feature %q not found", featureID)
		}
	}
	if !s.store.RemoveFeature(layerID, featureID) {
		return fmt.Errorf("feature %q not found in layer %q", featureID, layerID)
	}
	return nil
}

// StyleFeature writes style options into the feature's properties, which is
// where the rendering frontend reads per-feature overrides from.
func (s *StoreSurface) StyleFeature(_ context.Context, featureID string, style *model.Style) error {
	_, layerID := s.store.GetFeatureByID(featureID)
	if layerID == "" {
		return fmt.Errorf("feature %q not found", featureID)
	}
	props := map[string]interface{}{}
	if style != nil {
		if style.Color != "" {
			props["color"] = style.Color
		}
		if style.FillColor != "" {
			props["fillColor"] = style.FillColor
		}
		if style.Weight != 0 {
			props["weight"] = style.Weight
		}
		if style.Opacity != 0 {
			props["opacity"] = style.Opacity
		}
	}
	if !s.store.ModifyFeature(layerID, featureID, props) {
		return fmt.Errorf("feature %q not found", featureID)
	}
	return nil
}

func (s *StoreSurface) Measure(_ context.Context, typ model.MeasureType, features []*geojson.Feature) (float64, error) {
	switch typ {
	case model.MeasureDistance:
		return s.engine.Distance(features), nil
	case model.MeasureArea:
		return s.engine.Area(features), nil
	default:
		return 0, fmt.Errorf("unknown measure type %q", typ)
	}
}

func (s *StoreSurface) Buffer(_ context.Context, f *geojson.Feature, distance float64, units model.BufferUnits) (*geojson.Feature, error) {
	return s.engine.Buffer(f, distance, units), nil
}

// resolveLayer maps a directive layer argument to a store layer id. An
// empty argument and unknown names both resolve to a named layer created on
// demand, so add_feature never fails on addressing.
func (s *StoreSurface) resolveLayer(layerID string) string {
	if layerID == "" {
		layerID = "default"
	}
	if l := s.store.GetLayerByID(layerID); l != nil {
		return layerID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[layerID]; ok {
		if s.store.GetLayerByID(id) != nil {
			return id
		}
		delete(s.byName, layerID)
	}
	id := s.store.EnsureLayer(layerID, s.defType)
	s.byName[layerID] = id
	return id
}
