// Package store holds the authoritative in-memory feature/layer model.
//
// Identifiers for groups, layers and features are unique store-wide; layer
// names are not. Lookup misses return false/nil with a structured log entry,
// never an error. All mutation goes through the exported operations.
package store

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/maptalk/maptalk/internal/model"
)

// MutationKind tags store change notifications.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationModify MutationKind = "modify"
	MutationDelete MutationKind = "delete"
	MutationStyle  MutationKind = "style"
)

// Mutation describes a single store change for listeners (history tracker,
// event publisher, autosave dirty marking).
type Mutation struct {
	Kind      MutationKind
	LayerID   string
	FeatureID string
	Before    *geojson.Feature
	After     *geojson.Feature
}

type Listener func(Mutation)

type Store struct {
	mu        sync.RWMutex
	groups    []*model.LayerGroup
	center    model.Coordinates
	zoom      int
	activeID  string
	selected  string
	listeners []Listener
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger: logger,
		center: model.Coordinates{0, 0},
		zoom:   2,
	}
}

// OnMutation registers a listener invoked synchronously after every store
// change, outside the store lock.
func (s *Store) OnMutation(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(m Mutation) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(m)
	}
}

func (s *Store) CreateLayerGroup(name string) *model.LayerGroup {
	g := &model.LayerGroup{
		ID:      uuid.NewString(),
		Name:    name,
		Visible: true,
	}
	s.mu.Lock()
	s.groups = append(s.groups, g)
	s.mu.Unlock()
	return g
}

// CreateLayer appends a new layer to the named group, or returns nil when
// the group does not resolve.
func (s *Store) CreateLayer(groupID, name string, typ model.LayerType) *model.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.ID == groupID {
			l := &model.Layer{
				ID:      uuid.NewString(),
				Name:    name,
				Type:    typ,
				Visible: true,
			}
			g.Layers = append(g.Layers, l)
			return l
		}
	}
	s.logger.Warn("create layer: group not found", "group_id", groupID)
	return nil
}

// EnsureLayer returns the id of a layer with the given name, creating the
// layer (and a default group when none exists) if necessary. Used by the
// executor for the fixed "buffers" destination.
func (s *Store) EnsureLayer(name string, typ model.LayerType) string {
	s.mu.Lock()
	for _, g := range s.groups {
		for _, l := range g.Layers {
			if l.Name == name {
				id := l.ID
				s.mu.Unlock()
				return id
			}
		}
	}
	var group *model.LayerGroup
	if len(s.groups) > 0 {
		group = s.groups[0]
	} else {
		group = &model.LayerGroup{ID: uuid.NewString(), Name: "default", Visible: true}
		s.groups = append(s.groups, group)
	}
	l := &model.Layer{ID: uuid.NewString(), Name: name, Type: typ, Visible: true}
	group.Layers = append(group.Layers, l)
	s.mu.Unlock()
	return l.ID
}

// AddFeatureToLayer appends a feature, assigning a fresh id when absent.
// After a successful insert the feature id is never empty.
func (s *Store) AddFeatureToLayer(layerID string, f *geojson.Feature) bool {
	if f == nil {
		s.logger.Warn("add feature: nil feature", "layer_id", layerID)
		return false
	}
	model.NormalizeFeature(f)
	if model.FeatureID(f.ID) == "" {
		f.ID = uuid.NewString()
	}

	s.mu.Lock()
	layer := s.layerLocked(layerID)
	if layer == nil {
		s.mu.Unlock()
		s.logger.Warn("add feature: layer not found", "layer_id", layerID)
		return false
	}
	layer.Features = append(layer.Features, f)
	s.mu.Unlock()

	s.notify(Mutation{
		Kind:      MutationCreate,
		LayerID:   layerID,
		FeatureID: model.FeatureID(f.ID),
		After:     cloneFeature(f),
	})
	return true
}

// RemoveFeature removes the first feature in the layer whose id matches.
func (s *Store) RemoveFeature(layerID, featureID string) bool {
	s.mu.Lock()
	layer := s.layerLocked(layerID)
	if layer == nil {
		s.mu.Unlock()
		s.logger.Warn("remove feature: layer not found", "layer_id", layerID)
		return false
	}
	for i, f := range layer.Features {
		if model.FeatureID(f.ID) == featureID {
			removed := f
			layer.Features = append(layer.Features[:i], layer.Features[i+1:]...)
			s.mu.Unlock()
			s.notify(Mutation{
				Kind:      MutationDelete,
				LayerID:   layerID,
				FeatureID: featureID,
				Before:    cloneFeature(removed),
			})
			return true
		}
	}
	s.mu.Unlock()
	s.logger.Warn("remove feature: feature not found", "layer_id", layerID, "feature_id", featureID)
	return false
}

// ModifyFeature shallow-merges properties into the feature's property map.
func (s *Store) ModifyFeature(layerID, featureID string, props map[string]interface{}) bool {
	s.mu.Lock()
	layer := s.layerLocked(layerID)
	if layer == nil {
		s.mu.Unlock()
		s.logger.Warn("modify feature: layer not found", "layer_id", layerID)
		return false
	}
	for _, f := range layer.Features {
		if model.FeatureID(f.ID) == featureID {
			before := cloneFeature(f)
			model.NormalizeFeature(f)
			for k, v := range props {
				f.Properties[k] = v
			}
			after := cloneFeature(f)
			s.mu.Unlock()
			s.notify(Mutation{
				Kind:      MutationModify,
				LayerID:   layerID,
				FeatureID: featureID,
				Before:    before,
				After:     after,
			})
			return true
		}
	}
	s.mu.Unlock()
	s.logger.Warn("modify feature: feature not found", "layer_id", layerID, "feature_id", featureID)
	return false
}

// SetFeatureGeometry swaps the feature's geometry, keeping id and
// properties. Emits a modify mutation.
func (s *Store) SetFeatureGeometry(layerID, featureID string, g orb.Geometry) bool {
	s.mu.Lock()
	layer := s.layerLocked(layerID)
	if layer == nil {
		s.mu.Unlock()
		s.logger.Warn("set geometry: layer not found", "layer_id", layerID)
		return false
	}
	for _, f := range layer.Features {
		if model.FeatureID(f.ID) == featureID {
			before := cloneFeature(f)
			f.Geometry = g
			after := cloneFeature(f)
			s.mu.Unlock()
			s.notify(Mutation{
				Kind:      MutationModify,
				LayerID:   layerID,
				FeatureID: featureID,
				Before:    before,
				After:     after,
			})
			return true
		}
	}
	s.mu.Unlock()
	s.logger.Warn("set geometry: feature not found", "layer_id", layerID, "feature_id", featureID)
	return false
}

func (s *Store) SetLayerVisibility(layerID string, visible bool) bool {
	s.mu.Lock()
	layer := s.layerLocked(layerID)
	if layer == nil {
		s.mu.Unlock()
		s.logger.Warn("set visibility: layer not found", "layer_id", layerID)
		return false
	}
	layer.Visible = visible
	s.mu.Unlock()
	return true
}

func (s *Store) SetLayerStyle(layerID string, style *model.Style) bool {
	s.mu.Lock()
	layer := s.layerLocked(layerID)
	if layer == nil {
		s.mu.Unlock()
		s.logger.Warn("set style: layer not found", "layer_id", layerID)
		return false
	}
	layer.Style = style
	s.mu.Unlock()

	s.notify(Mutation{Kind: MutationStyle, LayerID: layerID})
	return true
}

// GetFeatureByID scans all groups and layers; returns the feature and its
// owning layer id, or nil.
func (s *Store) GetFeatureByID(featureID string) (*geojson.Feature, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		for _, l := range g.Layers {
			for _, f := range l.Features {
				if model.FeatureID(f.ID) == featureID {
					return f, l.ID
				}
			}
		}
	}
	return nil, ""
}

func (s *Store) GetLayerByID(layerID string) *model.Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layerLocked(layerID)
}

// AllFeatures returns a flat snapshot of every feature in every visible
// layer, used by the clustering engine and exports.
func (s *Store) AllFeatures() []*geojson.Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*geojson.Feature
	for _, g := range s.groups {
		for _, l := range g.Layers {
			out = append(out, l.Features...)
		}
	}
	return out
}

func (s *Store) SetView(center model.Coordinates, zoom int) {
	s.mu.Lock()
	s.center = center
	if zoom > 0 {
		s.zoom = zoom
	}
	s.mu.Unlock()
}

func (s *Store) SetActiveLayer(layerID string) { s.mu.Lock(); s.activeID = layerID; s.mu.Unlock() }

func (s *Store) SelectFeature(featureID string) { s.mu.Lock(); s.selected = featureID; s.mu.Unlock() }

// Snapshot returns a deep copy of the observable map state.
func (s *Store) Snapshot() model.MapState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := make([]*model.LayerGroup, 0, len(s.groups))
	for _, g := range s.groups {
		cg := &model.LayerGroup{ID: g.ID, Name: g.Name, Visible: g.Visible}
		for _, l := range g.Layers {
			cl := &model.Layer{ID: l.ID, Name: l.Name, Type: l.Type, Visible: l.Visible}
			if l.Style != nil {
				st := *l.Style
				cl.Style = &st
			}
			cl.Features = make([]*geojson.Feature, 0, len(l.Features))
			for _, f := range l.Features {
				cl.Features = append(cl.Features, cloneFeature(f))
			}
			cg.Layers = append(cg.Layers, cl)
		}
		groups = append(groups, cg)
	}
	return model.MapState{
		Center:            s.center,
		Zoom:              s.zoom,
		Layers:            groups,
		ActiveLayerID:     s.activeID,
		SelectedFeatureID: s.selected,
	}
}

// Restore replaces the store contents from a persisted snapshot.
func (s *Store) Restore(state model.MapState) {
	s.mu.Lock()
	s.center = state.Center
	if state.Zoom > 0 {
		s.zoom = state.Zoom
	}
	s.groups = state.Layers
	s.activeID = state.ActiveLayerID
	s.selected = state.SelectedFeatureID
	for _, g := range s.groups {
		for _, l := range g.Layers {
			for _, f := range l.Features {
				model.NormalizeFeature(f)
			}
		}
	}
	s.mu.Unlock()
}

func (s *Store) layerLocked(layerID string) *model.Layer {
	for _, g := range s.groups {
		for _, l := range g.Layers {
			if l.ID == layerID {
				return l
			}
		}
	}
	return nil
}

func cloneFeature(f *geojson.Feature) *geojson.Feature {
	if f == nil {
		return nil
	}
	cp := geojson.NewFeature(f.Geometry)
	if f.Geometry != nil {
		cp.Geometry = orb.Clone(f.Geometry)
	}
	cp.ID = f.ID
	cp.Properties = geojson.Properties{}
	for k, v := range f.Properties {
		cp.Properties[k] = v
	}
	return cp
}
