package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// TextSink writes one plain line per entry.
type TextSink struct {
	mu     sync.Mutex
	w      io.Writer
	prefix bool
}

// NewTextSink writes entries to w. With levels set, each line starts with
// the entry's level name.
func NewTextSink(w io.Writer, levels bool) *TextSink {
	return &TextSink{w: w, prefix: levels}
}

// WriteEntry implements Sink.
func (s *TextSink) WriteEntry(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.prefix {
		_, err = fmt.Fprintf(s.w, "%s: %s\n", e.Level, e.Text)
	} else {
		_, err = fmt.Fprintln(s.w, e.Text)
	}
	return err
}

// SlogSink writes entries through a slog.Logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink writes to logger, or to slog.Default when logger is nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// WriteEntry implements Sink.
func (s *SlogSink) WriteEntry(e Entry) error {
	s.logger.Log(context.Background(), e.Level.SlogLevel(), e.Text, "logger", e.Logger, "level", e.Level.String())
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Entry) error

// WriteEntry implements Sink.
func (f SinkFunc) WriteEntry(e Entry) error { return f(e) }
