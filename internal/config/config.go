// Package config loads the optional CUE configuration file.
//
// A file looks like:
//
//	engine: {
//		log_level: "INFO"
//		levels: parser: "DEBUG"
//		journal: "homevent.db"
//		interactive_prompt: true
//	}
//	scripts: ["init.hev"]
//
// Relative journal and script paths are resolved against the file's
// directory. Command-line flags override what the file says.
package config

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/homevent/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// Config is the loaded configuration.
type Config struct {
	// LogLevel is the level of the default logger. LevelNone attaches none.
	LogLevel ir.Level
	// Levels seeds the per-subsystem trace level table.
	Levels map[string]ir.Level
	// Journal is the SQLite journal path; empty disables the journal.
	Journal string
	// InteractivePrompt forces prompts on or off. Nil means "ask the terminal".
	InteractivePrompt *bool
	// Scripts run, in order, before the main input.
	Scripts []string
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		LogLevel: ir.LevelNone,
		Levels:   map[string]ir.Level{},
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Levels = maps.Clone(c.Levels)
	cp.Scripts = append([]string(nil), c.Scripts...)
	if c.InteractivePrompt != nil {
		v := *c.InteractivePrompt
		cp.InteractivePrompt = &v
	}
	return &cp
}

// Error is a configuration error with its CUE source position.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and parses the file at path. An empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse parses CUE source. filename is only used in error positions.
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	// fields are read from v itself so positions point into the file
	checked := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := checked.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := Default()
	if lv := v.LookupPath(cue.ParsePath("engine.log_level")); lv.Exists() {
		l, err := parseLevel(lv, "engine.log_level")
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = l
	}

	if levels := v.LookupPath(cue.ParsePath("engine.levels")); levels.Exists() {
		iter, err := levels.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			sub := iter.Selector().Unquoted()
			l, err := parseLevel(iter.Value(), "engine.levels."+sub)
			if err != nil {
				return nil, err
			}
			cfg.Levels[sub] = l
		}
	}

	if j := v.LookupPath(cue.ParsePath("engine.journal")); j.Exists() {
		s, err := j.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		cfg.Journal = s
	}

	if p := v.LookupPath(cue.ParsePath("engine.interactive_prompt")); p.Exists() {
		b, err := p.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		cfg.InteractivePrompt = &b
	}

	if scripts := v.LookupPath(cue.ParsePath("scripts")); scripts.Exists() {
		iter, err := scripts.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			cfg.Scripts = append(cfg.Scripts, s)
		}
	}
	return cfg, nil
}

func parseLevel(v cue.Value, field string) (ir.Level, error) {
	s, err := v.String()
	if err != nil {
		return ir.LevelNone, formatCUEError(err)
	}
	l, err := ir.ParseLevel(s)
	if err != nil {
		return ir.LevelNone, &Error{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return l, nil
}

// resolve makes relative paths relative to dir.
func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Journal = abs(c.Journal)
	for i, s := range c.Scripts {
		c.Scripts[i] = abs(s)
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &Error{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
