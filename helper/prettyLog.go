package helper

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"

	"github.com/fatih/color"
)

// PrettyHandlerOptions wraps the standard slog.HandlerOptions for
// NewPrettyHandler.
type PrettyHandlerOptions struct {
	SlogOpts slog.HandlerOptions
}

// PrettyHandler renders log records as
// "[HH:MM:SS.mmm] LEVEL: message {attrs as JSON}" with the level
// colorized for a terminal.
type PrettyHandler struct {
	slog.Handler
	l *log.Logger
}

// NewPrettyHandler builds a PrettyHandler writing to w.
func NewPrettyHandler(w io.Writer, opts PrettyHandlerOptions) *PrettyHandler {
	return &PrettyHandler{
		Handler: slog.NewJSONHandler(w, &opts.SlogOpts),
		l:       log.New(w, "", 0),
	}
}

// Handle renders one record.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	level := levelColor(r.Level).Sprintf("%s:", r.Level.String())

	attrs := make(map[string]any, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	fields, err := json.Marshal(attrs)
	if err != nil {
		return err
	}

	timestamp := color.WhiteString("[%s]", r.Time.Format("15:04:05.000"))

	h.l.Println(timestamp, level, r.Message, string(fields))
	return nil
}

func levelColor(level slog.Level) *color.Color {
	switch {
	case level <= slog.LevelDebug:
		return color.New(color.FgMagenta)
	case level <= slog.LevelInfo:
		return color.New(color.FgCyan)
	case level <= slog.LevelWarn:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// NewLogger builds the process-wide structured logger threaded through
// every component. When debug is true the handler also honors
// slog.LevelDebug regardless of SlogOpts.
func NewLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := NewPrettyHandler(w, PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: level},
	})
	return slog.New(handler)
}
