// Package diagnostics is the explicit, non-singleton "diagnostic sink" a
// corruption check or a panic-on-corruption path dumps through, so
// swapping the destination (stderr, a file, a test buffer) never means
// touching the checking code itself.
package diagnostics

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// PageDumper is anything that can render a page-shaped diagnostic of
// itself, matching storage.Page's Debug/DebugString helpers.
type PageDumper interface {
	Debug(w io.Writer)
}

// Sink receives diagnostic output produced while validating or recovering
// an index: a human-readable page dump plus the condition that triggered
// it.
type Sink interface {
	DumpPage(reason string, p PageDumper)
	Corruption(format string, args ...any)
}

// SlogSink is the default Sink: corruption reports and the reason for a
// page dump go through log/slog, matching the rest of the engine's logging
// idiom; the page dump itself is written to Writer.
type SlogSink struct {
	Logger *slog.Logger
	Writer io.Writer // defaults to os.Stderr if nil
}

// NewSlogSink returns a Sink writing page dumps to os.Stderr and logging
// through slog.Default().
func NewSlogSink() *SlogSink {
	return &SlogSink{Logger: slog.Default(), Writer: os.Stderr}
}

func (s *SlogSink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *SlogSink) writer() io.Writer {
	if s.Writer != nil {
		return s.Writer
	}
	return os.Stderr
}

func (s *SlogSink) DumpPage(reason string, p PageDumper) {
	s.logger().Warn("diagnostics.DumpPage", "reason", reason)
	if p == nil {
		return
	}
	fmt.Fprintf(s.writer(), "-- diagnostic dump (%s) --\n", reason)
	p.Debug(s.writer())
}

func (s *SlogSink) Corruption(format string, args ...any) {
	s.logger().Error("diagnostics.Corruption", "detail", fmt.Sprintf(format, args...))
}

// NopSink discards everything; useful in tests that don't care about
// diagnostic output but still need a Sink to satisfy an interface.
type NopSink struct{}

func (NopSink) DumpPage(string, PageDumper) {}
func (NopSink) Corruption(string, ...any)   {}
