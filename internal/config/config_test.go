package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homevent/internal/ir"
)

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`
		engine: {
			log_level: "info"
			levels: {
				parser: "DEBUG"
				event:  "trace"
			}
			journal: "/var/lib/homevent.db"
			interactive_prompt: false
		}
		scripts: ["a.hev", "b.hev"]
	`), "homevent.cue")
	require.NoError(t, err)

	assert.Equal(t, ir.LevelInfo, cfg.LogLevel)
	assert.Equal(t, map[string]ir.Level{"parser": ir.LevelDebug, "event": ir.LevelTrace}, cfg.Levels)
	assert.Equal(t, "/var/lib/homevent.db", cfg.Journal)
	require.NotNil(t, cfg.InteractivePrompt)
	assert.False(t, *cfg.InteractivePrompt)
	assert.Equal(t, []string{"a.hev", "b.hev"}, cfg.Scripts)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil, "empty.cue")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Nil(t, cfg.InteractivePrompt)
}

func TestParse_BadLevelHasPosition(t *testing.T) {
	_, err := Parse([]byte("engine: {\n\tlog_level: \"LOUD\"\n}\n"), "bad.cue")
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "engine.log_level", cerr.Field)
	assert.Equal(t, 2, cerr.Pos.Line())
	assert.Contains(t, err.Error(), "bad.cue:2:")
}

func TestParse_BadSubsystemLevel(t *testing.T) {
	_, err := Parse([]byte(`engine: levels: parser: "chatty"`), "bad.cue")
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "engine.levels.parser", cerr.Field)
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte(`engine: colour: "blue"`), "bad.cue")
	assert.Error(t, err)
}

func TestParse_WrongType(t *testing.T) {
	_, err := Parse([]byte(`engine: interactive_prompt: "yes"`), "bad.cue")
	assert.Error(t, err)

	_, err = Parse([]byte(`scripts: "init.hev"`), "bad.cue")
	assert.Error(t, err)
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse([]byte(`engine: {`), "broken.cue")
	assert.Error(t, err)
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homevent.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
		engine: journal: "journal.db"
		scripts: ["init.hev", "/abs/other.hev"]
	`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "journal.db"), cfg.Journal)
	assert.Equal(t, []string{filepath.Join(dir, "init.hev"), "/abs/other.hev"}, cfg.Scripts)
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ir.LevelNone, cfg.LogLevel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	assert.Error(t, err)
}

func TestClone_IsDeep(t *testing.T) {
	on := true
	cfg := &Config{
		LogLevel:          ir.LevelInfo,
		Levels:            map[string]ir.Level{"parser": ir.LevelDebug},
		Scripts:           []string{"a"},
		InteractivePrompt: &on,
	}
	cp := cfg.Clone()
	cp.Levels["parser"] = ir.LevelTrace
	cp.Scripts[0] = "b"
	*cp.InteractivePrompt = false

	assert.Equal(t, ir.LevelDebug, cfg.Levels["parser"])
	assert.Equal(t, "a", cfg.Scripts[0])
	assert.True(t, *cfg.InteractivePrompt)
}
