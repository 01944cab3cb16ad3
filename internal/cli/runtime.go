package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/homevent/internal/config"
	"github.com/roach88/homevent/internal/engine"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
	"github.com/roach88/homevent/internal/lexer"
	"github.com/roach88/homevent/internal/logging"
	"github.com/roach88/homevent/internal/parser"
	"github.com/roach88/homevent/internal/statements"
	"github.com/roach88/homevent/internal/store"
)

// DefaultLoggerName names the logger created from engine.log_level.
const DefaultLoggerName = "default"

// Runtime is a running engine with the built-in statements, the
// configured loggers and, optionally, the event journal. The run and
// shell commands feed scripts into it.
type Runtime struct {
	Engine  *engine.Engine
	Hub     *logging.Hub
	Env     *statements.Env
	Parsers *parser.Parsers
	Journal *store.Journal

	store   *store.Store
	out     io.Writer
	logger  *slog.Logger
	stopped chan struct{}
	runErr  error
}

// RuntimeOption configures StartRuntime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	sessions engine.SessionGenerator
	logOut   io.Writer
}

// WithSessionGenerator overrides the UUIDv7 session ids (for testing).
func WithSessionGenerator(g engine.SessionGenerator) RuntimeOption {
	return func(o *runtimeOptions) {
		o.sessions = g
	}
}

// WithLogOutput sets where the default logger writes. Defaults to stderr.
func WithLogOutput(w io.Writer) RuntimeOption {
	return func(o *runtimeOptions) {
		o.logOut = w
	}
}

// StartRuntime builds the engine described by cfg and starts its loop.
// Script output goes to out; diagnostics go to logger.
func StartRuntime(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger, opts ...RuntimeOption) (*Runtime, error) {
	o := runtimeOptions{sessions: engine.UUIDv7Generator{}, logOut: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	levels := engine.NewLevels(ir.LevelNone)
	for subsys, lv := range cfg.Levels {
		levels.Set(subsys, lv)
	}

	rt := &Runtime{
		Engine:  engine.New(engine.WithLevels(levels), engine.WithSessions(o.sessions)),
		Hub:     logging.NewHub(),
		Parsers: parser.NewParsers(),
		out:     out,
		logger:  logger,
		stopped: make(chan struct{}),
	}

	if err := rt.Hub.Attach(rt.Engine); err != nil {
		return nil, err
	}
	if cfg.LogLevel != ir.LevelNone {
		handler := slog.NewTextHandler(o.logOut, &slog.HandlerOptions{Level: cfg.LogLevel.SlogLevel()})
		sink := logging.NewSlogSink(slog.New(handler))
		if err := rt.Hub.Add(logging.NewLogger(DefaultLoggerName, cfg.LogLevel, sink)); err != nil {
			return nil, err
		}
	}

	_, env, err := statements.NewRegistry(rt.Engine, rt.Hub)
	if err != nil {
		return nil, err
	}
	rt.Env = env
	if err := rt.Engine.RegisterCollection(rt.Parsers); err != nil {
		return nil, err
	}

	if cfg.Journal != "" {
		if err := rt.openJournal(ctx, cfg.Journal); err != nil {
			return nil, err
		}
	}

	go func() {
		rt.runErr = rt.Engine.Run(ctx)
		if rt.store != nil {
			if err := rt.store.Close(); err != nil {
				logger.Error("error closing journal", "error", err)
			}
		}
		close(rt.stopped)
	}()
	return rt, nil
}

func (rt *Runtime) openJournal(ctx context.Context, path string) error {
	rt.logger.Info("opening journal", "path", path)
	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	j, err := store.NewJournal(ctx, st, "")
	if err == nil {
		err = j.Attach(rt.Engine)
	}
	if err != nil {
		_ = st.Close()
		return WrapExitError(ExitCommandError, "failed to start journal", err)
	}
	rt.store = st
	rt.Journal = j
	rt.logger.Info("journal ready", "run", j.Run())
	return nil
}

// Exec parses src to the end under a fresh session. A non-nil prompt makes
// the input interactive: it receives the prompt for each line the parser
// wants. Exec returns the number of statements that failed; err is non-nil
// only when the input itself could not be read.
func (rt *Runtime) Exec(ctx context.Context, filename string, src lexer.LineSource, prompt func(string)) (int, error) {
	ectx := event.NewContext(map[string]any{
		event.AttrOut:      rt.out,
		event.AttrFilename: filename,
		event.AttrSession:  rt.Engine.NewSession(),
		event.AttrLogger:   rt.logger,
		event.AttrTask:     ctx,
	})

	popts := []parser.Option{parser.WithContext(ectx), parser.WithLevels(rt.Engine.Levels())}
	var main *interp.Main
	if prompt != nil {
		main = interp.NewInteractive(ectx, rt.Env.Words)
		popts = append(popts, parser.WithPromptFunc(prompt))
	} else {
		main = interp.NewMain(ectx, rt.Env.Words)
	}

	conn := parser.NewConn(parser.New(main, popts...), src, filename)
	rt.Engine.AddConnection(conn)
	defer rt.Engine.RemoveConnection(conn)
	untrack := rt.Parsers.Track(conn)
	defer untrack()

	rt.logger.Debug("parsing", "file", filename, "session", ectx.Session())
	err := conn.Run(ctx)
	return main.Errors(), err
}

// ExecFile runs the script at path.
func (rt *Runtime) ExecFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "failed to open script", err)
	}
	defer f.Close()
	return rt.Exec(ctx, path, lexer.FromReader(f), nil)
}

// Stopped is closed once the engine loop has returned and the journal is
// closed.
func (rt *Runtime) Stopped() <-chan struct{} { return rt.stopped }

// Wait blocks until the engine stops or ctx ends.
func (rt *Runtime) Wait(ctx context.Context) error {
	select {
	case <-rt.stopped:
		return rt.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the engine gracefully and waits for the loop to return.
// If ctx ends first the remaining chains are abandoned.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if err := rt.Engine.Shutdown(ctx); err != nil {
		rt.logger.Warn("shutdown event failed", "error", err)
	}
	select {
	case <-rt.stopped:
	case <-ctx.Done():
		rt.logger.Warn("shutdown timed out, stopping now", "chains", len(rt.Engine.Chains()))
		rt.Engine.ShutdownNow()
		<-rt.stopped
	}
	return rt.err()
}

// err is the loop's result with cancellation treated as a normal stop.
func (rt *Runtime) err() error {
	if rt.runErr == nil || errors.Is(rt.runErr, context.Canceled) || errors.Is(rt.runErr, context.DeadlineExceeded) {
		return nil
	}
	return fmt.Errorf("engine: %w", rt.runErr)
}
