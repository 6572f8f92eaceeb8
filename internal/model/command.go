package model

import "github.com/paulmach/orb/geojson"

type CommandType string

const (
	CmdZoomTo        CommandType = "zoom_to"
	CmdAddFeature    CommandType = "add_feature"
	CmdModifyFeature CommandType = "modify_feature"
	CmdRemoveFeature CommandType = "remove_feature"
	CmdStyleFeature  CommandType = "style_feature"
	CmdMeasure       CommandType = "measure"
	CmdBuffer        CommandType = "buffer"
)

// KnownCommand reports whether name is one of the seven recognized
// directive types.
func KnownCommand(name string) bool {
	switch CommandType(name) {
	case CmdZoomTo, CmdAddFeature, CmdModifyFeature, CmdRemoveFeature,
		CmdStyleFeature, CmdMeasure, CmdBuffer:
		return true
	}
	return false
}

type MeasureType string

const (
	MeasureDistance MeasureType = "distance"
	MeasureArea     MeasureType = "area"
)

type BufferUnits string

const (
	UnitsKilometers BufferUnits = "kilometers"
	UnitsMiles      BufferUnits = "miles"
	UnitsMeters     BufferUnits = "meters"
)

// Command is the tagged variant produced by the parser. Only the fields
// relevant to Type are populated; commands are transient and never persisted.
type Command struct {
	Type CommandType

	// zoom_to
	Coordinates Coordinates
	Zoom        int // 0 means "not supplied"

	// add_feature / buffer
	Feature *geojson.Feature
	LayerID string

	// modify_feature / remove_feature / style_feature
	FeatureID  string
	Properties map[string]interface{}
	Style      *Style

	// measure
	MeasureType MeasureType
	Features    []*geojson.Feature

	// buffer
	Distance float64
	Units    BufferUnits
}
