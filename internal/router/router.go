// Package router validates and normalizes query parameters for the HTTP
// surface.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/maptalk/maptalk/internal/model"
)

// ClusterQuery is the normalized form of /map/clusters parameters.
type ClusterQuery struct {
	BBox model.BBox
	Zoom int
}

func ParseClusterQuery(r *http.Request) (ClusterQuery, error) {
	bbox, err := ParseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		return ClusterQuery{}, err
	}
	rawZoom := strings.TrimSpace(r.URL.Query().Get("zoom"))
	if rawZoom == "" {
		return ClusterQuery{}, errors.New("missing required parameter: zoom")
	}
	zoom, err := strconv.Atoi(rawZoom)
	if err != nil {
		return ClusterQuery{}, fmt.Errorf("invalid zoom: %q", rawZoom)
	}
	if zoom < 0 || zoom > 24 {
		return ClusterQuery{}, fmt.Errorf("zoom %d out of range [0,24]", zoom)
	}
	return ClusterQuery{BBox: bbox, Zoom: zoom}, nil
}

// ParseBBox reads "minLon,minLat,maxLon,maxLat" in EPSG:4326.
func ParseBBox(raw string) (model.BBox, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 4 {
		return model.BBox{}, errors.New("bbox: expected 4 comma-separated values: minLon,minLat,maxLon,maxLat")
	}
	var b model.BBox
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("bbox value %d: %w", i+1, err)
		}
		b[i] = v
	}
	if b[0] < -180 || b[0] > 180 || b[2] < -180 || b[2] > 180 {
		return model.BBox{}, errors.New("bbox: longitude must be in [-180,180]")
	}
	if b[1] < -90 || b[1] > 90 || b[3] < -90 || b[3] > 90 {
		return model.BBox{}, errors.New("bbox: latitude must be in [-90,90]")
	}
	if b[2] <= b[0] || b[3] <= b[1] {
		return model.BBox{}, errors.New("bbox: max must exceed min on both axes")
	}
	return b, nil
}

// ParsePage reads limit/offset with defaults, clamping negatives.
func ParsePage(r *http.Request, defaultLimit int) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
