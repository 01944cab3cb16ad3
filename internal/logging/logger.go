// Package logging is the event logger: a Hub of asynchronous Loggers, fed
// by two system workers that see every event.
//
// Each Logger owns a bounded queue drained by its own goroutine. Enqueueing
// never blocks the dispatcher; when a queue is full the entry is dropped
// and counted.
package logging

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

// QueueSize is the capacity of each Logger's queue.
const QueueSize = 100

// Entry is one line handed to a sink.
type Entry struct {
	Level  ir.Level
	Time   time.Time
	Logger string
	Text   string

	flushed chan struct{}
}

// Sink receives entries on the Logger's goroutine.
type Sink interface {
	WriteEntry(e Entry) error
}

// Logger forwards entries at or above its level to a sink.
//
// Thread-safety: all methods are safe for concurrent use.
type Logger struct {
	name  string
	sink  Sink
	level atomic.Int64

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewLogger starts a logger named name.
func NewLogger(name string, level ir.Level, sink Sink) *Logger {
	l := &Logger{
		name:  name,
		sink:  sink,
		queue: make(chan Entry, QueueSize),
		done:  make(chan struct{}),
	}
	l.level.Store(int64(level))
	go l.drain()
	return l
}

func (l *Logger) drain() {
	defer close(l.done)
	for e := range l.queue {
		if e.flushed != nil {
			close(e.flushed)
			continue
		}
		if err := l.sink.WriteEntry(e); err != nil {
			l.failed.Add(1)
			slog.Warn("log sink failed", "logger", l.name, "error", err)
			continue
		}
		l.written.Add(1)
	}
}

// Name returns the logger name.
func (l *Logger) Name() string { return l.name }

// Level returns the minimum level logged.
func (l *Logger) Level() ir.Level { return ir.Level(l.level.Load()) }

// SetLevel changes the minimum level.
func (l *Logger) SetLevel(lv ir.Level) { l.level.Store(int64(lv)) }

// Enabled reports whether an entry at lv would be queued.
func (l *Logger) Enabled(lv ir.Level) bool { return l.Level().Enabled(lv) }

// Log queues text at lv. It returns false if the entry was filtered,
// dropped or the logger is closed.
func (l *Logger) Log(lv ir.Level, text string) bool {
	if !l.Enabled(lv) {
		return false
	}
	return l.enqueue(Entry{Level: lv, Time: time.Now(), Logger: l.name, Text: text})
}

func (l *Logger) enqueue(e Entry) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.queue <- e:
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

// LogEvent queues the report of ev at the event's level. TRACE loggers get
// the verbose report.
func (l *Logger) LogEvent(ev *event.Event) {
	if !l.Enabled(ev.Level()) {
		return
	}
	for line := range ev.Report(l.Level() == ir.LevelTrace) {
		l.Log(ev.Level(), line)
	}
}

// LogEnd queues the line marking the end of ev's dispatch.
func (l *Logger) LogEnd(ev *event.Event) {
	l.Log(ev.Level(), "END: "+ev.Name().Words())
}

// Flush waits until everything queued before the call has reached the sink.
func (l *Logger) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil
	}
	select {
	case l.queue <- Entry{flushed: marker}:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("logger %s: %w", l.name, ctx.Err())
	}
}

// Dropped returns how many entries were lost to a full queue.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Written returns how many entries reached the sink.
func (l *Logger) Written() int64 { return l.written.Load() }

// List implements event.Listable.
func (l *Logger) List() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		rows := [][2]string{
			{"name", l.name},
			{"type", fmt.Sprintf("%T", l.sink)},
			{"level", l.Level().String()},
			{"written", strconv.FormatInt(l.Written(), 10)},
			{"dropped", strconv.FormatInt(l.Dropped(), 10)},
		}
		for _, r := range rows {
			if !yield(r[0], r[1]) {
				return
			}
		}
	}
}
