// Package parser extracts inline map directives from free-form AI text.
//
// A directive is a bracketed span like
//
//	[zoom_to 51.5007 -0.1246 15]
//	[add_feature {"type":"Feature",...} layer-3]
//
// The grammar is deliberately lenient: bracketed spans whose leading word is
// not one of the seven command types, and directives whose arguments fail to
// parse, are dropped without error. Prose brackets in AI output must never
// break the pipeline.
package parser

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/maptalk/maptalk/internal/model"
)

type Parser struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse returns the commands found in text, left to right. It never fails;
// malformed spans simply do not contribute a command.
func (p *Parser) Parse(text string) []model.Command {
	var out []model.Command
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		inner, end, ok := matchBracket(text, i)
		if !ok {
			break // unterminated span; nothing further can match
		}
		if cmd, ok := p.parseDirective(inner); ok {
			out = append(out, cmd)
		}
		i = end
	}
	return out
}

// matchBracket returns the content between text[open] and its matching close
// bracket, tracking nesting so JSON arrays inside arguments survive.
func matchBracket(text string, open int) (string, int, bool) {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[open+1 : i], i, true
			}
		}
	}
	return "", 0, false
}

func (p *Parser) parseDirective(body string) (model.Command, bool) {
	name, rest := splitName(body)
	if !model.KnownCommand(name) {
		return model.Command{}, false
	}

	args := []string{}
	if rest != "" {
		args = strings.Split(rest, " ")
	}

	cmd, err := bind(model.CommandType(name), args)
	if err != nil {
		p.logger.Debug("directive dropped", "command", name, "err", err)
		return model.Command{}, false
	}
	return cmd, true
}

// splitName peels the command name (letters/digits/underscore) off the body.
func splitName(body string) (string, string) {
	i := 0
	for i < len(body) {
		c := body[i]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			i++
			continue
		}
		break
	}
	name := body[:i]
	rest := strings.TrimLeft(body[i:], " \t\n")
	return name, rest
}

type bindError struct{ msg string }

func (e *bindError) Error() string { return e.msg }

func errf(msg string) error { return &bindError{msg: msg} }

func bind(typ model.CommandType, args []string) (model.Command, error) {
	switch typ {
	case model.CmdZoomTo:
		return bindZoomTo(args)
	case model.CmdAddFeature:
		return bindAddFeature(args)
	case model.CmdModifyFeature:
		return bindModifyFeature(args)
	case model.CmdRemoveFeature:
		return bindRemoveFeature(args)
	case model.CmdStyleFeature:
		return bindStyleFeature(args)
	case model.CmdMeasure:
		return bindMeasure(args)
	case model.CmdBuffer:
		return bindBuffer(args)
	}
	return model.Command{}, errf("unknown command")
}

func bindZoomTo(args []string) (model.Command, error) {
	if len(args) < 2 {
		return model.Command{}, errf("zoom_to needs lat lon")
	}
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return model.Command{}, errf("bad latitude: " + args[0])
	}
	lon, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return model.Command{}, errf("bad longitude: " + args[1])
	}
	cmd := model.Command{Type: model.CmdZoomTo, Coordinates: model.Coordinates{lat, lon}}
	if len(args) >= 3 {
		zoom, err := strconv.Atoi(args[2])
		if err != nil {
			return model.Command{}, errf("bad zoom: " + args[2])
		}
		cmd.Zoom = zoom
	}
	return cmd, nil
}

func bindAddFeature(args []string) (model.Command, error) {
	if len(args) < 1 {
		return model.Command{}, errf("add_feature needs a feature")
	}
	f, err := parseFeature(args[0])
	if err != nil {
		return model.Command{}, err
	}
	cmd := model.Command{Type: model.CmdAddFeature, Feature: f}
	if len(args) >= 2 {
		cmd.LayerID = args[1]
	}
	return cmd, nil
}

func bindModifyFeature(args []string) (model.Command, error) {
	if len(args) < 2 {
		return model.Command{}, errf("modify_feature needs id and properties")
	}
	var props map[string]interface{}
	if err := json.Unmarshal([]byte(args[1]), &props); err != nil {
		return model.Command{}, errf("bad properties json")
	}
	return model.Command{Type: model.CmdModifyFeature, FeatureID: args[0], Properties: props}, nil
}

func bindRemoveFeature(args []string) (model.Command, error) {
	if len(args) < 1 {
		return model.Command{}, errf("remove_feature needs an id")
	}
	cmd := model.Command{Type: model.CmdRemoveFeature, FeatureID: args[0]}
	if len(args) >= 2 {
		cmd.LayerID = args[1]
	}
	return cmd, nil
}

func bindStyleFeature(args []string) (model.Command, error) {
	if len(args) < 2 {
		return model.Command{}, errf("style_feature needs id and style")
	}
	var style model.Style
	if err := json.Unmarshal([]byte(args[1]), &style); err != nil {
		return model.Command{}, errf("bad style json")
	}
	return model.Command{Type: model.CmdStyleFeature, FeatureID: args[0], Style: &style}, nil
}

func bindMeasure(args []string) (model.Command, error) {
	if len(args) < 2 {
		return model.Command{}, errf("measure needs a type and features")
	}
	mt := model.MeasureType(args[0])
	if mt != model.MeasureDistance && mt != model.MeasureArea {
		return model.Command{}, errf("bad measure type: " + args[0])
	}
	features := make([]*geojson.Feature, 0, len(args)-1)
	for _, raw := range args[1:] {
		f, err := parseFeature(raw)
		if err != nil {
			return model.Command{}, err
		}
		features = append(features, f)
	}
	return model.Command{Type: model.CmdMeasure, MeasureType: mt, Features: features}, nil
}

func bindBuffer(args []string) (model.Command, error) {
	if len(args) < 3 {
		return model.Command{}, errf("buffer needs feature, distance and units")
	}
	f, err := parseFeature(args[0])
	if err != nil {
		return model.Command{}, err
	}
	dist, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return model.Command{}, errf("bad distance: " + args[1])
	}
	units := model.BufferUnits(args[2])
	switch units {
	case model.UnitsKilometers, model.UnitsMiles, model.UnitsMeters:
	default:
		return model.Command{}, errf("bad units: " + args[2])
	}
	return model.Command{Type: model.CmdBuffer, Feature: f, Distance: dist, Units: units}, nil
}

func parseFeature(raw string) (*geojson.Feature, error) {
	f, err := geojson.UnmarshalFeature([]byte(raw))
	if err != nil {
		return nil, errf("bad feature json")
	}
	return model.NormalizeFeature(f), nil
}
