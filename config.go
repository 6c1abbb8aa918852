package skydb

import (
	"context"
	"log/slog"
)

// Config parameterizes a Table at construction time, rather than reading
// it from process-wide environment state.
type Config struct {
	// Path is the table's root directory on disk.
	Path string
	// Level is the pixelization level used when creating a new table; it
	// is ignored when opening an existing one (the value from schema.cfg
	// wins).
	Level int
	// T0 and Dt describe the temporal axis; Dt <= 0 disables it.
	T0, Dt float64
	// DefaultFilter is the file-group compression filter new file groups
	// inherit unless overridden ("", "gzip", or "bzip2").
	DefaultFilter string
	// Logger receives slow-path diagnostics (lock contention, cell-tree
	// rebuilds). A nil Logger disables logging; library code never logs
	// without one explicitly supplied.
	Logger *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(discardHandler{})
}

// discardHandler is a slog.Handler that drops every record, used as the
// zero-cost default when a caller supplies no Logger.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }
