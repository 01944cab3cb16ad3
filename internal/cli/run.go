package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/homevent/internal/config"
	"github.com/roach88/homevent/internal/engine"
	"github.com/roach88/homevent/internal/ir"
)

// ShutdownTimeout bounds a graceful stop before remaining chains are
// abandoned.
const ShutdownTimeout = 30 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Config   string
	LogLevel string
	Wait     bool

	// Sessions allows overriding the session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Sessions engine.SessionGenerator
}

// ScriptResult is the outcome of one script.
type ScriptResult struct {
	File   string `json:"file"`
	Errors int    `json:"errors"`
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Run     string         `json:"run,omitempty"`
	Scripts []ScriptResult `json:"scripts"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [script...]",
		Short: "Run control scripts",
		Long: `Start the engine and run control scripts in order.

Scripts listed in the configuration file run first. Each script gets its
own session. Without --wait the engine shuts down gracefully once the last
script has been read; handlers and waits still running delay the stop.
With --wait it keeps running until a "shutdown" statement or a signal.

Example:
  homevent run init.hev rules.hev
  homevent run --db ./homevent.db --wait rules.hev
  homevent run --config homevent.cue --log-level DEBUG`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScripts(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite event journal (overrides engine.journal)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to a CUE configuration file")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "level of the default logger (overrides engine.log_level)")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "keep running after the last script")

	return cmd
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(path, database, logLevel string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if database != "" {
		cfg.Journal = database
	}
	if logLevel != "" {
		lv, err := ir.ParseLevel(logLevel)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --log-level", err)
		}
		cfg.LogLevel = lv
	}
	return cfg, nil
}

func runScripts(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := formatter.Logger()

	cfg, err := loadConfig(opts.Config, opts.Database, opts.LogLevel)
	if err != nil {
		return err
	}
	scripts := slices.Concat(cfg.Scripts, args)
	if len(scripts) == 0 && !opts.Wait {
		return NewExitError(ExitCommandError, "no scripts to run (pass a script or --wait)")
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	// script output must not corrupt the JSON summary
	var out io.Writer = cmd.OutOrStdout()
	if opts.Format == "json" {
		out = cmd.ErrOrStderr()
	}

	var rtOpts []RuntimeOption
	if opts.Sessions != nil {
		rtOpts = append(rtOpts, WithSessionGenerator(opts.Sessions))
	}
	rtOpts = append(rtOpts, WithLogOutput(cmd.ErrOrStderr()))
	rt, err := StartRuntime(ctx, cfg, out, logger, rtOpts...)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	result := RunResult{Scripts: make([]ScriptResult, 0, len(scripts))}
	if rt.Journal != nil {
		result.Run = rt.Journal.Run()
	}
	failed := 0
	for _, path := range scripts {
		formatter.VerboseLog("Running %s", path)
		n, err := rt.ExecFile(ctx, path)
		if err != nil {
			rt.Engine.ShutdownNow()
			<-rt.Stopped()
			return err
		}
		result.Scripts = append(result.Scripts, ScriptResult{File: path, Errors: n})
		failed += n
		if rt.Engine.State() != engine.StateRunning {
			break
		}
	}

	if opts.Wait {
		formatter.VerboseLog("Waiting for shutdown")
		_ = rt.Wait(ctx)
	}

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer stopCancel()
	if err := rt.Shutdown(stopCtx); err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	msg := fmt.Sprintf("%d statement(s) failed", failed)
	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeScript, Message: msg}
		}
		if err := formatter.encode(resp); err != nil {
			return err
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure, msg)
	}
	return nil
}
