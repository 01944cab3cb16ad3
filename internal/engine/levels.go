package engine

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/homevent/internal/ir"
)

// Levels is the per-subsystem log level table. A subsystem without an
// entry logs at the table's default, which is LevelNone unless configured.
//
// Thread-safety: safe for concurrent use. Statements change levels while
// workers read them.
type Levels struct {
	mu  sync.RWMutex
	m   map[string]ir.Level
	def ir.Level
}

// NewLevels creates a table whose unset subsystems use def.
func NewLevels(def ir.Level) *Levels {
	return &Levels{m: make(map[string]ir.Level), def: def}
}

// Get returns the level set for subsys.
func (l *Levels) Get(subsys string) (ir.Level, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lv, ok := l.m[subsys]
	return lv, ok
}

// Level returns the effective level for subsys.
func (l *Levels) Level(subsys string) ir.Level {
	if lv, ok := l.Get(subsys); ok {
		return lv
	}
	return l.def
}

// Set stores a level and returns the previous effective one.
func (l *Levels) Set(subsys string, lv ir.Level) ir.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, ok := l.m[subsys]
	if !ok {
		prev = l.def
	}
	l.m[subsys] = lv
	return prev
}

// Enabled reports whether subsys logs messages at lv.
func (l *Levels) Enabled(subsys string, lv ir.Level) bool {
	return l.Level(subsys).Enabled(lv)
}

// Subsystems returns the subsystems with an explicit level, sorted.
func (l *Levels) Subsystems() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Sorted(maps.Keys(l.m))
}

// Log writes a subsystem message through slog when the table enables it.
func (l *Levels) Log(ctx context.Context, subsys string, lv ir.Level, msg string, args ...any) {
	if !l.Enabled(subsys, lv) {
		return
	}
	slog.Log(ctx, lv.SlogLevel(), msg, append([]any{"subsys", subsys}, args...)...)
}
