package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/homevent/internal/engine"
)

// Scenario is one harness run: a script, the test workers it talks to and
// the assertions on the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Script is the control script fed to the parser.
	Script string `yaml:"script,omitempty"`

	// ScriptFile names a script file, relative to the scenario file.
	// It is read into Script at load time.
	ScriptFile string `yaml:"script_file,omitempty"`

	// Workers are registered before the script runs.
	Workers []WorkerSpec `yaml:"workers,omitempty"`

	// Assertions validate the final trace and output.
	Assertions []Assertion `yaml:"assertions"`

	// Timeout bounds the run, in seconds. Zero means DefaultTimeout.
	Timeout float64 `yaml:"timeout,omitempty"`
}

// WorkerSpec describes a test worker.
type WorkerSpec struct {
	// Name of the worker; appears in worker and failure entries.
	Name string `yaml:"name"`

	// Prio must be in the user range [0, 100).
	Prio int `yaml:"prio"`

	// Match is an event name pattern; "*" matches any single word.
	Match string `yaml:"match"`

	// Fail makes the worker return an error with this message.
	Fail string `yaml:"fail,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertOutputContains = "output_contains"
)

// Entry kinds.
var entryKinds = []string{"simple", "complex", "done", "error", "event", "worker", "failure"}

// Assertion is one check against a Result.
type Assertion struct {
	Type  string   `yaml:"type"`
	Kind  string   `yaml:"kind,omitempty"`
	Args  string   `yaml:"args,omitempty"`
	Order []string `yaml:"order,omitempty"`
	Count int      `yaml:"count,omitempty"`
	Text  string   `yaml:"text,omitempty"`
}

// LoadScenario loads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos)
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.ScriptFile != "" {
		scriptPath := scenario.ScriptFile
		if !filepath.IsAbs(scriptPath) {
			scriptPath = filepath.Join(filepath.Dir(path), scriptPath)
		}
		script, err := os.ReadFile(scriptPath)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario: script_file: %w", err)
		}
		scenario.Script = string(script)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, m...)
	}
	slices.Sort(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Script == "" {
		return fmt.Errorf("script or script_file is required")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	seen := make(map[string]bool)
	for i, w := range s.Workers {
		if w.Name == "" {
			return fmt.Errorf("workers[%d]: name is required", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("workers[%d]: duplicate name %q", i, w.Name)
		}
		seen[w.Name] = true
		if w.Match == "" {
			return fmt.Errorf("workers[%d]: match is required", i)
		}
		if w.Prio < engine.MinPrio || w.Prio >= engine.MaxPrio {
			return fmt.Errorf("workers[%d]: prio must be in [%d, %d)", i, engine.MinPrio, engine.MaxPrio)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Kind != "" && !slices.Contains(entryKinds, a.Kind) {
		return fmt.Errorf("assertions[%d]: unknown entry kind %q", index, a.Kind)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" || a.Args == "" {
			return fmt.Errorf("assertions[%d]: kind and args are required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Order) == 0 {
			return fmt.Errorf("assertions[%d]: order list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertOutputContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for output_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
