package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEntry // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, entry := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s%s\n", i+1, strings.Repeat("  ", entry.Depth), entry)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against r and returns the
// failure messages.
func EvaluateAssertions(r *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(r, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(r.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(r.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(r.Trace, a)
	case AssertOutputContains:
		return assertOutputContains(r.Output, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// matches reports whether entry has kind and, if args is set, that text.
func matches(entry TraceEntry, kind, args string) bool {
	return entry.Kind == kind && (args == "" || entry.Args == args)
}

// assertTraceContains checks that an entry of the given kind and text exists.
func assertTraceContains(trace []TraceEntry, a Assertion) error {
	for _, entry := range trace {
		if matches(entry, a.Kind, a.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s %s", a.Kind, a.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the entries appear in the given order.
// They don't need to be consecutive; each is searched for after the
// previous one.
func assertTraceOrder(trace []TraceEntry, a Assertion) error {
	pos := 0
	last := -1
	for _, want := range a.Order {
		found := -1
		for i := pos; i < len(trace); i++ {
			if trace[i].String() == want {
				found = i
				break
			}
		}
		if found < 0 {
			actual := fmt.Sprintf("missing %q", want)
			if last >= 0 {
				actual = fmt.Sprintf("missing %q after position %d", want, last+1)
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("entries in order: %v", a.Order),
				Actual:   actual,
				Trace:    trace,
			}
		}
		last = found
		pos = found + 1
	}
	return nil
}

// assertTraceCount checks that the entry appears exactly Count times.
func assertTraceCount(trace []TraceEntry, a Assertion) error {
	count := 0
	for _, entry := range trace {
		if matches(entry, a.Kind, a.Args) {
			count++
		}
	}
	if count != a.Count {
		what := a.Kind
		if a.Args != "" {
			what += " " + a.Args
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertOutputContains checks the script's output.
func assertOutputContains(output string, a Assertion) error {
	if strings.Contains(output, a.Text) {
		return nil
	}
	return &AssertionError{
		Type:     AssertOutputContains,
		Expected: fmt.Sprintf("output containing %q", a.Text),
		Actual:   fmt.Sprintf("%q", output),
	}
}
