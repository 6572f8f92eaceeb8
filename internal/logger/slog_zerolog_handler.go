package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// bridge adapts zerolog to slog.Handler so internal packages can take a
// *slog.Logger without knowing the backing logger. Groups flatten into
// dot-qualified keys, which keeps the JSON output a single level deep.
type bridge struct {
	zl     *zerolog.Logger
	attrs  []slog.Attr
	prefix string
}

func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&bridge{zl: zl})
}

func (b *bridge) Enabled(context.Context, slog.Level) bool { return true }

func (b *bridge) Handle(ctx context.Context, r slog.Record) error {
	base := FromContext(ctx, b.zl)

	var ev *zerolog.Event
	switch {
	case r.Level >= slog.LevelError:
		ev = base.Error()
	case r.Level >= slog.LevelWarn:
		ev = base.Warn()
	case r.Level >= slog.LevelInfo:
		ev = base.Info()
	default:
		ev = base.Debug()
	}

	for _, a := range b.attrs {
		ev = field(ev, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = field(ev, a, b.prefix)
		return true
	})

	ev.Msg(r.Message)
	return nil
}

// WithAttrs bakes the current prefix into the keys so a later WithGroup
// cannot retroactively qualify them. The three-index append keeps siblings
// derived from the same parent from sharing a backing array.
func (b *bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *b
	qualified := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		a.Key = cp.prefix + a.Key
		qualified[i] = a
	}
	cp.attrs = append(cp.attrs[:len(cp.attrs):len(cp.attrs)], qualified...)
	return &cp
}

func (b *bridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	cp := *b
	cp.prefix = cp.prefix + name + "."
	return &cp
}

func field(ev *zerolog.Event, a slog.Attr, prefix string) *zerolog.Event {
	a.Value = a.Value.Resolve()
	key := prefix + a.Key
	switch a.Value.Kind() {
	case slog.KindString:
		return ev.Str(key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(key, a.Value.Duration())
	default:
		return ev.Interface(key, a.Value.Any())
	}
}
