package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/engine"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
	"github.com/roach88/homevent/internal/lexer"
	"github.com/roach88/homevent/internal/logging"
	"github.com/roach88/homevent/internal/parser"
	"github.com/roach88/homevent/internal/statements"
)

// DefaultTimeout bounds a scenario without its own timeout.
const DefaultTimeout = 10 * time.Second

// Session is the session id every scenario script runs under.
const Session = "harness"

// TraceWorkerName names the worker recording event entries.
var TraceWorkerName = ir.NewName("trace")

// Harness is one scenario execution: an engine with the built-in
// statements, the scenario workers and the trace recorder.
type Harness struct {
	scenario *Scenario
	engine   *engine.Engine
	env      *statements.Env
	rec      *recorder
	out      *syncBuffer
	logger   *slog.Logger
}

// Run executes a scenario and returns the result. The returned error is
// non-nil only when the scenario could not be run at all; failed
// assertions are reported in the Result.
//
// Execution flow:
//  1. Create a fresh engine with the built-in statements
//  2. Register the trace worker and the scenario workers
//  3. Parse the script, recording every statement
//  4. Shut the engine down and wait until every chain has finished
//  5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	timeout := DefaultTimeout
	if scenario.Timeout > 0 {
		timeout = time.Duration(scenario.Timeout * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return RunContext(ctx, scenario)
}

// RunContext is Run with a caller-supplied deadline.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- h.engine.Run(ctx) }()

	ectx := event.NewContext(map[string]any{
		event.AttrOut:      h.out,
		event.AttrFilename: scenario.Name,
		event.AttrSession:  Session,
		event.AttrLogger:   h.logger,
	})
	top := &tracer{
		inner: interp.NewMain(ectx, h.env.Words),
		rec:   h.rec,
	}
	src := lexer.FromReader(strings.NewReader(scenario.Script))
	if err := parser.Parse(ctx, top, src, scenario.Name); err != nil {
		h.engine.ShutdownNow()
		<-runErr
		return nil, fmt.Errorf("run script: %w", err)
	}

	if err := h.engine.Shutdown(ctx); err != nil {
		h.logger.Warn("shutdown event failed", "error", err)
	}
	select {
	case err := <-runErr:
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	case <-ctx.Done():
		h.engine.ShutdownNow()
		<-runErr
		return nil, fmt.Errorf("scenario %s did not finish: %w", scenario.Name, ctx.Err())
	}

	result := NewResult()
	result.Trace = h.rec.snapshot()
	result.Output = h.out.String()
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	h := &Harness{
		scenario: scenario,
		engine:   engine.New(engine.WithSessions(engine.NewFixedGenerator(Session))),
		rec:      &recorder{},
		out:      &syncBuffer{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // scenario runs stay quiet
	}

	hub := logging.NewHub()
	if err := hub.Attach(h.engine); err != nil {
		return nil, err
	}
	_, env, err := statements.NewRegistry(h.engine, hub)
	if err != nil {
		return nil, err
	}
	h.env = env

	traceWorker := engine.NewWorker(TraceWorkerName, engine.MinPrio-1, isUserEvent,
		func(_ context.Context, ev *event.Event) error {
			h.rec.add("event", ev.Name().Words(), 0)
			return nil
		}).WithDoc("record every event in the trace")
	if err := h.engine.RegisterSystemWorker(traceWorker); err != nil {
		return nil, err
	}

	for _, spec := range scenario.Workers {
		if err := h.engine.RegisterWorker(h.newWorker(spec)); err != nil {
			return nil, fmt.Errorf("worker %s: %w", spec.Name, err)
		}
	}

	h.engine.AddFailureSink(engine.FailureFunc(func(err error) {
		var wf *engine.WorkerFailure
		if errors.As(err, &wf) {
			h.rec.add("failure", wf.Worker.Words()+": "+wf.Err.Error(), 0)
			return
		}
		h.rec.add("failure", err.Error(), 0)
	}))
	return h, nil
}

// isUserEvent leaves out the engine's own startup and shutdown events.
func isUserEvent(ev *event.Event) bool {
	ctx := ev.Context()
	return !ctx.Has("startup") && !ctx.Has("shutdown")
}

func (h *Harness) newWorker(spec WorkerSpec) *engine.FuncWorker {
	pattern := ir.ParseName(spec.Match)
	name := ir.ParseName(spec.Name)
	return engine.NewWorker(name, spec.Prio,
		func(ev *event.Event) bool { return statements.Match(pattern, ev.Name()) },
		func(_ context.Context, ev *event.Event) error {
			h.rec.add("worker", spec.Name+": "+ev.Name().Words(), 0)
			if spec.Fail != "" {
				return errors.New(spec.Fail)
			}
			return nil
		})
}

// tracer records what the parser delivers before handing it on.
type tracer struct {
	inner interp.Interpreter
	rec   *recorder
	name  string
	depth int
}

func (t *tracer) SimpleStatement(args ir.Name) *async.Future {
	t.rec.add("simple", args.Words(), t.depth)
	return t.inner.SimpleStatement(args)
}

func (t *tracer) ComplexStatement(args ir.Name) *async.Future {
	t.rec.add("complex", args.Words(), t.depth)
	return t.inner.ComplexStatement(args).Then(func(v any, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		sub, ok := v.(interp.Interpreter)
		if !ok {
			return v, nil
		}
		return &tracer{inner: sub, rec: t.rec, name: args.Words(), depth: t.depth + 1}, nil
	})
}

func (t *tracer) Done() *async.Future {
	if t.depth > 0 {
		t.rec.add("done", t.name, t.depth-1)
	}
	return t.inner.Done()
}

func (t *tracer) Error(err error) {
	t.rec.add("error", err.Error(), 0)
	t.inner.Error(err)
}

func (t *tracer) Prompt() bool { return t.inner.Prompt() }
