package harness

import (
	"strings"
	"sync"
)

// TraceEntry is one thing that happened during a run.
type TraceEntry struct {
	Kind  string `json:"kind"`
	Args  string `json:"args,omitempty"`
	Depth int    `json:"depth"`
}

// String renders the entry as "kind args", the form trace_order uses.
func (e TraceEntry) String() string {
	if e.Args == "" {
		return e.Kind
	}
	return e.Kind + " " + e.Args
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds the entries in the order they were recorded.
	Trace []TraceEntry `json:"trace"`

	// Output is what the script wrote to its output.
	Output string `json:"output,omitempty"`

	// Errors contains the assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// recorder collects entries from the parser goroutine, the engine loop and
// handler chains.
type recorder struct {
	mu      sync.Mutex
	entries []TraceEntry
}

func (r *recorder) add(kind, args string, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, TraceEntry{Kind: kind, Args: args, Depth: depth})
}

func (r *recorder) snapshot() []TraceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEntry{}, r.entries...)
}

// syncBuffer is the script's output.
type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
