package logging

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/roach88/homevent/internal/engine"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

// Hub fans log entries out to every registered Logger.
//
// The Hub is also a failure sink (failures are logged at ERROR), a
// teardown step (loggers are drained and closed) and the "log" collection.
type Hub struct {
	mu      sync.RWMutex
	loggers []*Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Add registers l. Names must be unique.
func (h *Hub) Add(l *Logger) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, o := range h.loggers {
		if o.name == l.name {
			return fmt.Errorf("logger %q already exists", l.name)
		}
	}
	h.loggers = append(h.loggers, l)
	return nil
}

// Get returns the logger called name.
func (h *Hub) Get(name string) (*Logger, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, l := range h.loggers {
		if l.name == name {
			return l, true
		}
	}
	return nil, false
}

// Remove closes and unregisters the logger called name.
func (h *Hub) Remove(ctx context.Context, name string) error {
	h.mu.Lock()
	idx := slices.IndexFunc(h.loggers, func(l *Logger) bool { return l.name == name })
	if idx < 0 {
		h.mu.Unlock()
		return fmt.Errorf("no logger %q", name)
	}
	l := h.loggers[idx]
	h.loggers = slices.Delete(h.loggers, idx, idx+1)
	h.mu.Unlock()
	return l.Close(ctx)
}

// Loggers returns the registered loggers in registration order.
func (h *Hub) Loggers() []*Logger {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.loggers)
}

// Log sends text at lv to every logger.
func (h *Hub) Log(lv ir.Level, text string) {
	for _, l := range h.Loggers() {
		l.Log(lv, text)
	}
}

// Logf is Log with formatting.
func (h *Hub) Logf(lv ir.Level, format string, args ...any) {
	h.Log(lv, fmt.Sprintf(format, args...))
}

// Flush waits for every logger to drain its queue.
func (h *Hub) Flush(ctx context.Context) error {
	var errs []error
	for _, l := range h.Loggers() {
		errs = append(errs, l.Flush(ctx))
	}
	return errors.Join(errs...)
}

// Close drains and closes every logger.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	loggers := h.loggers
	h.loggers = nil
	h.mu.Unlock()

	var errs []error
	for _, l := range loggers {
		errs = append(errs, l.Close(ctx))
	}
	return errors.Join(errs...)
}

// ProcessFailure implements engine.FailureSink.
func (h *Hub) ProcessFailure(err error) {
	h.Log(ir.LevelError, "ERROR: "+err.Error())
}

// CollectionName implements engine.Collection.
func (h *Hub) CollectionName() string { return "log" }

// Items implements engine.Collection.
func (h *Hub) Items() iter.Seq2[string, any] {
	loggers := h.Loggers()
	return func(yield func(string, any) bool) {
		for _, l := range loggers {
			if !yield(l.name, l) {
				return
			}
		}
	}
}

// Worker names.
var (
	LogWorkerName     = ir.NewName("log", "event")
	LogDoneWorkerName = ir.NewName("log", "end")
)

// Attach registers the hub's workers, failure sink, teardown step and
// collection with e.
//
// The log worker runs first in every pass (SysPrio) and the done worker
// after all user workers (MaxPrio+1).
func (h *Hub) Attach(e *engine.Engine) error {
	logEv := engine.NewWorker(LogWorkerName, engine.SysPrio, nil,
		func(_ context.Context, ev *event.Event) error {
			for _, l := range h.Loggers() {
				l.LogEvent(ev)
			}
			return nil
		}).WithDoc("log every event")
	logEnd := engine.NewWorker(LogDoneWorkerName, engine.MaxPrio+1, nil,
		func(_ context.Context, ev *event.Event) error {
			for _, l := range h.Loggers() {
				l.LogEnd(ev)
			}
			return nil
		}).WithDoc("log the end of every event")

	if err := e.RegisterSystemWorker(logEv); err != nil {
		return err
	}
	if err := e.RegisterSystemWorker(logEnd); err != nil {
		return err
	}
	if err := e.RegisterCollection(h); err != nil {
		return err
	}
	e.AddFailureSink(h)
	e.OnTeardown("close loggers", h.Close)
	return nil
}
