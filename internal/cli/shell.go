package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/roach88/homevent/internal/lexer"
	"github.com/roach88/homevent/internal/parser"
)

// HistoryFile is the shell history, relative to the home directory.
const HistoryFile = ".homevent_history"

// ShellOptions holds flags for the shell command.
type ShellOptions struct {
	*RootOptions
	Database string
	Config   string
	LogLevel string
	History  bool
}

// NewShellCommand creates the shell command.
func NewShellCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShellOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive control session",
		Long: `Start the engine and read statements interactively.

The prompt is ">> " for a new statement and ".. " inside a block. Tab
completes statement names. Ctrl-D ends the session and shuts the engine
down; "shutdown now" stops at once. When standard input is not a terminal
it is read as a script, without prompts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite event journal (overrides engine.journal)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to a CUE configuration file")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "level of the default logger (overrides engine.log_level)")
	cmd.Flags().BoolVar(&opts.History, "history", true, "load and save ~/"+HistoryFile)

	return cmd
}

func runShell(opts *ShellOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := formatter.Logger()

	cfg, err := loadConfig(opts.Config, opts.Database, opts.LogLevel)
	if err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if cfg.InteractivePrompt != nil {
		interactive = *cfg.InteractivePrompt
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := StartRuntime(ctx, cfg, cmd.OutOrStdout(), logger, WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	for _, path := range cfg.Scripts {
		if _, err := rt.ExecFile(ctx, path); err != nil {
			rt.Engine.ShutdownNow()
			<-rt.Stopped()
			return err
		}
	}

	if interactive {
		err = interactiveSession(ctx, rt, opts.History)
	} else {
		_, err = rt.Exec(ctx, "<stdin>", lexer.FromReader(cmd.InOrStdin()), nil)
	}
	if err != nil {
		rt.Engine.ShutdownNow()
		<-rt.Stopped()
		return WrapExitError(ExitFailure, "input error", err)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := rt.Shutdown(stopCtx); err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	return nil
}

func interactiveSession(ctx context.Context, rt *Runtime, history bool) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(completer(rt))

	histPath := ""
	if home, err := os.UserHomeDir(); err == nil && history {
		histPath = filepath.Join(home, HistoryFile)
		if f, err := os.Open(histPath); err == nil {
			_, _ = ln.ReadHistory(f)
			f.Close()
		}
	}

	src := newShellSource(ln, rt.Engine.Stopped())
	_, err := rt.Exec(ctx, "<shell>", src, src.SetPrompt)

	if histPath != "" {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			f.Close()
		}
	}
	return err
}

// completer offers the registered statement names.
func completer(rt *Runtime) liner.Completer {
	return func(line string) []string {
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		var out []string
		for _, w := range rt.Env.Words.Words() {
			name := w.Name().Words()
			if strings.HasPrefix(name, strings.TrimLeft(line, " \t")) {
				out = append(out, indent+name)
			}
		}
		return out
	}
}

// lineReader is the part of liner the shell uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// shellSource is a lexer.LineSource that prompts for each line. The
// parser sets the prompt text before it asks for the next line.
type shellSource struct {
	r       lineReader
	stopped <-chan struct{}

	mu     sync.Mutex
	prompt string
}

func newShellSource(r lineReader, stopped <-chan struct{}) *shellSource {
	return &shellSource{r: r, stopped: stopped, prompt: parser.PromptStatement}
}

// SetPrompt is the parser's prompt function.
func (s *shellSource) SetPrompt(p string) {
	s.mu.Lock()
	s.prompt = p
	s.mu.Unlock()
}

// ReadLine implements lexer.LineSource. Ctrl-C, Ctrl-D and a stopped
// engine all end the input.
func (s *shellSource) ReadLine() (string, error) {
	select {
	case <-s.stopped:
		return "", io.EOF
	default:
	}

	s.mu.Lock()
	p := s.prompt
	s.mu.Unlock()

	line, err := s.r.Prompt(p)
	if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
		return "", io.EOF
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	if strings.TrimSpace(line) != "" {
		s.r.AppendHistory(line)
	}
	return line, nil
}
