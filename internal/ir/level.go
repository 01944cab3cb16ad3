package ir

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level is a log severity. Lower values are more verbose.
type Level int

const (
	LevelTrace Level = 0
	LevelDebug Level = 1
	LevelInfo  Level = 2
	LevelWarn  Level = 3
	LevelError Level = 4
	LevelPanic Level = 5
	LevelNone  Level = 9
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelPanic: "PANIC",
	LevelNone:  "NONE",
}

// String returns the upper-case level name.
func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == u {
			return l, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown log level %q", s)
}

// Enabled reports whether a message at msg passes a threshold of l.
// LevelNone disables everything.
func (l Level) Enabled(msg Level) bool {
	return l != LevelNone && msg != LevelNone && msg >= l
}

// SlogLevel maps l onto the slog scale. TRACE sits below slog's Debug.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelTrace:
		return slog.LevelDebug - 4
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
