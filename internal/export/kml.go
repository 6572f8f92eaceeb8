package export

import (
	"encoding/xml"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/maptalk/maptalk/internal/model"
)

type kmlRoot struct {
	XMLName  xml.Name    `xml:"kml"`
	NS       string      `xml:"xmlns,attr"`
	Document kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Name       string         `xml:"name,omitempty"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name       string         `xml:"name,omitempty"`
	Point      *kmlPoint      `xml:"Point,omitempty"`
	LineString *kmlLineString `xml:"LineString,omitempty"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlLineString struct {
	Coordinates string `xml:"coordinates"`
}

// KML renders Point and LineString features as placemarks. Other geometry
// types are skipped; KML is a lossy convenience export, GeoJSON is the
// faithful one.
func KML(state model.MapState) ([]byte, error) {
	doc := kmlDocument{Name: "maptalk export"}
	for _, g := range state.Layers {
		for _, l := range g.Layers {
			for _, f := range l.Features {
				if pm, ok := placemark(f); ok {
					doc.Placemarks = append(doc.Placemarks, pm)
				}
			}
		}
	}
	root := kmlRoot{NS: "http://www.opengis.net/kml/2.2", Document: doc}
	data, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal kml: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

func placemark(f *geojson.Feature) (kmlPlacemark, bool) {
	pm := kmlPlacemark{Name: placemarkName(f)}
	switch geom := f.Geometry.(type) {
	case orb.Point:
		pm.Point = &kmlPoint{Coordinates: coordString([]orb.Point{geom})}
	case orb.LineString:
		pm.LineString = &kmlLineString{Coordinates: coordString(geom)}
	default:
		return kmlPlacemark{}, false
	}
	return pm, true
}

func placemarkName(f *geojson.Feature) string {
	if name, ok := f.Properties["name"].(string); ok {
		return name
	}
	return model.FeatureID(f.ID)
}

func coordString(pts []orb.Point) string {
	out := ""
	for i, p := range pts {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%g,%g", p.Lon(), p.Lat())
	}
	return out
}
