package event

import "iter"

// Reportable is implemented by anything that can describe itself in
// human-readable lines: events, workers, loggers.
type Reportable interface {
	Report(verbose bool) iter.Seq[string]
}

// Listable is implemented by objects that expose key/value details to the
// "list" statement.
type Listable interface {
	List() iter.Seq2[string, string]
}

// ReportLines collects the report of r. A nil r yields nothing.
func ReportLines(r Reportable, verbose bool) []string {
	if r == nil {
		return nil
	}
	var out []string
	for line := range r.Report(verbose) {
		out = append(out, line)
	}
	return out
}
