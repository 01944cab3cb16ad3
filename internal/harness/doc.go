// Package harness runs scenario files against a live engine.
//
// A scenario feeds a control script through the parser and the built-in
// statements, with extra test workers registered, and records everything
// that happens as a trace.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	script: |
//	  on door open:
//	  	trigger light on
//	  sync trigger door open
//	workers:
//	  - name: lamp
//	    prio: 5
//	    match: light *
//	assertions:
//	  - type: trace_contains
//	    kind: worker
//	    args: "lamp: light on"
//	  - type: trace_order
//	    order: ["event door open", "event light on"]
//	  - type: trace_count
//	    kind: event
//	    count: 2
//
// script_file may name a script next to the scenario instead of script.
//
// # Trace
//
// Entries have a kind and text:
//
//   - simple, complex, done: statements as the parser delivers them
//   - error: statement and syntax errors reported to the script
//   - event: every dispatched event (not the engine's own startup and
//     shutdown events)
//   - worker: a scenario worker processing an event, as "name: event"
//   - failure: a worker failure, as "name: message"
//
// # Assertion Types
//
//   - trace_contains: an entry of kind with text args exists
//   - trace_order: the entries, written "kind text", appear in that order
//   - trace_count: exactly count entries of kind (and args, if given)
//   - output_contains: the script's output contains text
//
// # Deterministic Testing
//
// Statements run one at a time and events are dispatched from a single
// FIFO queue, so a script using "sync trigger" produces the same trace on
// every run. Traces are compared with golden files via RunWithGolden.
package harness
