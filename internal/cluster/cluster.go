// Package cluster buckets point-reducible features into zoom-dependent
// clusters over the H3 grid.
//
// Unlike package spatial, failures here are returned to the caller: a
// corrupted index must not silently serve subsequent queries.
package cluster

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	h3 "github.com/uber/h3-go/v4"

	"github.com/maptalk/maptalk/internal/model"
	"github.com/maptalk/maptalk/internal/spatial"
)

var (
	ErrBadGeometry    = errors.New("cluster: feature has no usable geometry")
	ErrUnknownCluster = errors.New("cluster: unknown cluster id")
	ErrNotLoaded      = errors.New("cluster: no features loaded")
)

type Config struct {
	MinPoints int
	MaxZoom   int
}

type point struct {
	pos     orb.Point
	feature *geojson.Feature
}

type Engine struct {
	mu      sync.Mutex
	cfg     Config
	points  []point
	cellIDs map[h3.Cell]int64
	idCells map[int64]h3.Cell
	nextID  int64
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = 3
	}
	if cfg.MaxZoom <= 0 {
		cfg.MaxZoom = 20
	}
	return &Engine{
		cfg:     cfg,
		cellIDs: map[h3.Cell]int64{},
		idCells: map[int64]h3.Cell{},
		logger:  logger,
	}
}

// LoadFeatures converts every feature to its representative point and
// rebuilds the index. The index is not incremental: call again whenever the
// feature set changes. Cluster ids from before the reload are invalidated.
func (e *Engine) LoadFeatures(features []*geojson.Feature) error {
	pts := make([]point, 0, len(features))
	for i, f := range features {
		c, ok := spatial.FeatureCenter(f)
		if !ok {
			e.logger.Error("cluster load failed", "index", i)
			return fmt.Errorf("%w (feature %d)", ErrBadGeometry, i)
		}
		pts = append(pts, point{pos: c, feature: f})
	}

	e.mu.Lock()
	e.points = pts
	e.cellIDs = map[h3.Cell]int64{}
	e.idCells = map[int64]h3.Cell{}
	e.mu.Unlock()
	return nil
}

// GetClusters returns cluster points and/or raw features for the bbox at
// the given zoom. Cluster features carry cluster:true, cluster_id and
// point_count properties; raw features pass through untouched.
func (e *Engine) GetClusters(bbox model.BBox, zoom int) ([]*geojson.Feature, error) {
	res := ResolutionForZoom(zoom)
	if err := validateRes(res); err != nil {
		return nil, err
	}
	bound := bbox.Bound()

	e.mu.Lock()
	defer e.mu.Unlock()

	type bucket struct {
		members []point
	}
	buckets := map[h3.Cell]*bucket{}
	order := []h3.Cell{}
	for _, p := range e.points {
		if !bound.Contains(p.pos) {
			continue
		}
		cell, err := h3.LatLngToCell(h3.LatLng{Lat: p.pos.Lat(), Lng: p.pos.Lon()}, res)
		if err != nil {
			e.logger.Error("h3 bucket failed", "lat", p.pos.Lat(), "lon", p.pos.Lon(), "err", err)
			return nil, fmt.Errorf("cluster: h3 indexing: %w", err)
		}
		b, ok := buckets[cell]
		if !ok {
			b = &bucket{}
			buckets[cell] = b
			order = append(order, cell)
		}
		b.members = append(b.members, p)
	}

	out := make([]*geojson.Feature, 0, len(order))
	for _, cell := range order {
		b := buckets[cell]
		if len(b.members) < e.cfg.MinPoints {
			for _, p := range b.members {
				out = append(out, p.feature)
			}
			continue
		}
		out = append(out, e.clusterFeatureLocked(cell, b.members))
	}
	return out, nil
}

// GetClusterExpansionZoom returns the minimum zoom at which the cluster
// splits into smaller clusters or singletons.
func (e *Engine) GetClusterExpansionZoom(clusterID int64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cell, ok := e.idCells[clusterID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownCluster, clusterID)
	}
	members, err := e.membersLocked(cell)
	if err != nil {
		return 0, err
	}

	start := zoomForResolution(cell.Resolution()) + 1
	for z := start; z <= e.cfg.MaxZoom; z++ {
		res := ResolutionForZoom(z)
		counts := map[h3.Cell]int{}
		for _, p := range members {
			c, err := h3.LatLngToCell(h3.LatLng{Lat: p.pos.Lat(), Lng: p.pos.Lon()}, res)
			if err != nil {
				return 0, fmt.Errorf("cluster: h3 indexing: %w", err)
			}
			counts[c]++
		}
		if len(counts) > 1 {
			return z, nil
		}
		for _, n := range counts {
			if n < e.cfg.MinPoints {
				return z, nil
			}
		}
	}
	return e.cfg.MaxZoom, nil
}

// GetClusterLeaves pages through the original features behind a cluster.
func (e *Engine) GetClusterLeaves(clusterID int64, limit, offset int) ([]*geojson.Feature, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cell, ok := e.idCells[clusterID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCluster, clusterID)
	}
	members, err := e.membersLocked(cell)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(members) {
		return []*geojson.Feature{}, nil
	}
	end := offset + limit
	if end > len(members) {
		end = len(members)
	}
	out := make([]*geojson.Feature, 0, end-offset)
	for _, p := range members[offset:end] {
		out = append(out, p.feature)
	}
	return out, nil
}

// GetClusterBounds returns the bounding box over all leaf coordinates.
func (e *Engine) GetClusterBounds(clusterID int64) (model.BBox, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cell, ok := e.idCells[clusterID]
	if !ok {
		return model.BBox{}, fmt.Errorf("%w: %d", ErrUnknownCluster, clusterID)
	}
	members, err := e.membersLocked(cell)
	if err != nil {
		return model.BBox{}, err
	}
	if len(members) == 0 {
		return model.BBox{}, ErrNotLoaded
	}
	bound := orb.Bound{Min: members[0].pos, Max: members[0].pos}
	for _, p := range members[1:] {
		bound = bound.Extend(p.pos)
	}
	return model.BBoxFromBound(bound), nil
}

func (e *Engine) clusterFeatureLocked(cell h3.Cell, members []point) *geojson.Feature {
	id, ok := e.cellIDs[cell]
	if !ok {
		e.nextID++
		id = e.nextID
		e.cellIDs[cell] = id
		e.idCells[id] = cell
	}

	var sumX, sumY float64
	for _, p := range members {
		sumX += p.pos[0]
		sumY += p.pos[1]
	}
	n := float64(len(members))
	f := geojson.NewFeature(orb.Point{sumX / n, sumY / n})
	f.Properties = geojson.Properties{
		"cluster":     true,
		"cluster_id":  id,
		"point_count": len(members),
	}
	return f
}

// membersLocked recomputes the loaded points that fall in cell at the
// cell's own resolution.
func (e *Engine) membersLocked(cell h3.Cell) ([]point, error) {
	res := cell.Resolution()
	var out []point
	for _, p := range e.points {
		c, err := h3.LatLngToCell(h3.LatLng{Lat: p.pos.Lat(), Lng: p.pos.Lon()}, res)
		if err != nil {
			return nil, fmt.Errorf("cluster: h3 indexing: %w", err)
		}
		if c == cell {
			out = append(out, p)
		}
	}
	return out, nil
}
