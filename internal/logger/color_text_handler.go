package logger

import (
	"context"
	"io"
	"log/slog"
)

// ColorTextHandler wraps slog.TextHandler and prefixes the message with a
// colored level, for interactive terminals.
type ColorTextHandler struct {
	*slog.TextHandler
}

// NewColorTextHandler creates a new ColorTextHandler. The level attribute is
// folded into the message; showTime=false drops the timestamp as well.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	o := slog.HandlerOptions{}
	if opts != nil {
		o = *opts
	}
	prev := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 {
			if a.Key == slog.LevelKey || (!showTime && a.Key == slog.TimeKey) {
				return slog.Attr{}
			}
		}
		if prev != nil {
			return prev(groups, a)
		}
		return a
	}
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(w, &o)}
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // red
	case l >= slog.LevelWarn:
		return "\033[33m" // yellow
	case l >= slog.LevelInfo:
		return "\033[32m" // green
	default:
		return "\033[36m" // cyan
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Message = levelColor(r.Level) + r.Level.String() + "\033[0m  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

// WithAttrs keeps the coloring for derived loggers.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithAttrs(attrs).(*slog.TextHandler)}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithGroup(name).(*slog.TextHandler)}
}
