// Package executor dispatches parsed commands against a map surface.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb/geojson"

	"github.com/maptalk/maptalk/internal/model"
	"github.com/maptalk/maptalk/internal/observability"
	"github.com/maptalk/maptalk/internal/parser"
)

// BuffersLayer is the fixed destination for buffer command results. The
// chaining of buffer output into add_feature is a protocol rule, not
// configuration.
const BuffersLayer = "buffers"

// MapSurface is the sole seam between the command core and whatever draws
// the map. Implementations must tolerate repeated calls with the same
// arguments.
type MapSurface interface {
	ZoomTo(ctx context.Context, coords model.Coordinates, zoom int) error
	AddFeature(ctx context.Context, f *geojson.Feature, layerID string, style *model.Style) error
	ModifyFeature(ctx context.Context, featureID string, props map[string]interface{}) error
	RemoveFeature(ctx context.Context, featureID, layerID string) error
	StyleFeature(ctx context.Context, featureID string, style *model.Style) error
	Measure(ctx context.Context, typ model.MeasureType, features []*geojson.Feature) (float64, error)
	Buffer(ctx context.Context, f *geojson.Feature, distance float64, units model.BufferUnits) (*geojson.Feature, error)
}

type Service struct {
	parser  *parser.Parser
	surface MapSurface
	logger  *slog.Logger
}

func New(p *parser.Parser, surface MapSurface, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{parser: p, surface: surface, logger: logger}
}

// Apply extracts the commands embedded in text and executes them in order.
// Each command runs inside its own failure boundary: an error or panic in
// one command is logged with its payload and does not stop the rest. The
// input text is returned unchanged; commands act only on the surface.
func (s *Service) Apply(ctx context.Context, text string) (string, int) {
	commands := s.parser.Parse(text)
	observability.AddCommandsParsed(len(commands))
	executed := 0
	for _, cmd := range commands {
		if err := s.executeOne(ctx, cmd); err != nil {
			s.logger.Error("command failed",
				"command", string(cmd.Type),
				"feature_id", cmd.FeatureID,
				"layer_id", cmd.LayerID,
				"err", err)
			observability.IncCommandExecuted(string(cmd.Type), "error")
			continue
		}
		observability.IncCommandExecuted(string(cmd.Type), "ok")
		executed++
	}
	return text, executed
}

func (s *Service) executeOne(ctx context.Context, cmd model.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch cmd.Type {
	case model.CmdZoomTo:
		return s.surface.ZoomTo(ctx, cmd.Coordinates, cmd.Zoom)
	case model.CmdAddFeature:
		return s.surface.AddFeature(ctx, cmd.Feature, cmd.LayerID, nil)
	case model.CmdModifyFeature:
		return s.surface.ModifyFeature(ctx, cmd.FeatureID, cmd.Properties)
	case model.CmdRemoveFeature:
		return s.surface.RemoveFeature(ctx, cmd.FeatureID, cmd.LayerID)
	case model.CmdStyleFeature:
		return s.surface.StyleFeature(ctx, cmd.FeatureID, cmd.Style)
	case model.CmdMeasure:
		result, err := s.surface.Measure(ctx, cmd.MeasureType, cmd.Features)
		if err != nil {
			return err
		}
		s.logger.Info("measure result", "type", string(cmd.MeasureType), "value", result)
		return nil
	case model.CmdBuffer:
		buffered, err := s.surface.Buffer(ctx, cmd.Feature, cmd.Distance, cmd.Units)
		if err != nil {
			return err
		}
		// protocol rule: buffer output lands on the "buffers" layer
		return s.surface.AddFeature(ctx, buffered, BuffersLayer, nil)
	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}
