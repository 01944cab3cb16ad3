package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
	"github.com/roach88/homevent/internal/lexer"
	"github.com/roach88/homevent/internal/parser"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Tree bool
}

// CheckResult is the outcome for one script.
type CheckResult struct {
	File       string   `json:"file"`
	Valid      bool     `json:"valid"`
	Statements int      `json:"statements"`
	Errors     []string `json:"errors,omitempty"`
	Tree       []string `json:"tree,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <script>...",
		Short: "Check script syntax without running it",
		Long: `Parse control scripts without an engine and report syntax errors.

Nothing is executed and statement names are not resolved, so a script
that passes can still fail at run time on an unknown statement. With
--tree the parsed statements are printed, one tab per block level.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Tree, "tree", false, "print the parsed statement tree")

	return cmd
}

func runCheck(opts *CheckOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]CheckResult, 0, len(paths))
	invalid := 0
	for _, path := range paths {
		formatter.VerboseLog("Checking %s", path)
		res, err := checkFile(ctx, path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read script", err)
		}
		if !opts.Tree {
			res.Tree = nil
		}
		if !res.Valid {
			invalid++
		}
		results = append(results, res)
	}

	if opts.Format == "json" {
		if invalid > 0 {
			if err := formatter.Error(ErrCodeSyntax, fmt.Sprintf("%d script(s) invalid", invalid), results); err != nil {
				return err
			}
		} else if err := formatter.Success(results); err != nil {
			return err
		}
	} else {
		outputCheckText(cmd, results)
	}

	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d script(s) invalid", invalid))
	}
	return nil
}

func checkFile(ctx context.Context, path string) (CheckResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return CheckResult{}, err
	}
	defer f.Close()

	tb := newTreeBuilder()
	if err := parser.Parse(ctx, tb, lexer.FromReader(f), path); err != nil {
		return CheckResult{}, err
	}
	return CheckResult{
		File:       path,
		Valid:      len(*tb.errs) == 0,
		Statements: *tb.count,
		Errors:     *tb.errs,
		Tree:       tb.block.Lines(),
	}, nil
}

func outputCheckText(cmd *cobra.Command, results []CheckResult) {
	w := cmd.OutOrStdout()
	for _, r := range results {
		if r.Valid {
			fmt.Fprintf(w, "✓ %s (%d statements)\n", r.File, r.Statements)
		} else {
			fmt.Fprintf(w, "✗ %s\n", r.File)
			for _, e := range r.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		for _, line := range r.Tree {
			fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(line, "\t", "    "))
		}
	}
}

// treeBuilder is an interpreter that accepts every statement and records
// the block structure the parser produced.
type treeBuilder struct {
	block *interp.Block
	count *int
	errs  *[]string
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{block: &interp.Block{}, count: new(int), errs: &[]string{}}
}

func (t *treeBuilder) SimpleStatement(args ir.Name) *async.Future {
	t.block.Statements = append(t.block.Statements, &interp.Statement{Args: args})
	*t.count++
	return async.Resolved(nil)
}

func (t *treeBuilder) ComplexStatement(args ir.Name) *async.Future {
	st := &interp.Statement{Args: args, Block: &interp.Block{}}
	t.block.Statements = append(t.block.Statements, st)
	*t.count++
	return async.Resolved(&treeBuilder{block: st.Block, count: t.count, errs: t.errs})
}

func (t *treeBuilder) Done() *async.Future { return async.Resolved(nil) }

func (t *treeBuilder) Error(err error) { *t.errs = append(*t.errs, err.Error()) }

func (t *treeBuilder) Prompt() bool { return false }
