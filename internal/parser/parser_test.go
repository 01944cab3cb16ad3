package parser

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/engine"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
	"github.com/roach88/homevent/internal/lexer"
	"github.com/roach88/homevent/internal/testutil"
)

func parseString(t *testing.T, src string, rec *testutil.RecordingInterpreter, opts ...Option) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Parse(ctx, rec, lexer.FromReader(strings.NewReader(src)), "test", opts...)
	require.NoError(t, err)
}

func trace(t *testing.T, src string, opts ...testutil.RecordingOption) []string {
	t.Helper()
	rec := testutil.NewRecordingInterpreter(opts...)
	parseString(t, src, rec)
	return rec.Trace()
}

func TestParser_SimpleStatement(t *testing.T) {
	assert.Equal(t, []string{
		"simple say hello",
		"done",
	}, trace(t, "say hello\n"))
}

func TestParser_NestedBlocks(t *testing.T) {
	got := trace(t, "block:\n\twait x:\n\t\tfor 0.1\n")

	want := []string{
		"complex block",
		"  complex wait x",
		"    simple for 0.1",
		"    done wait x",
		"  done block",
		"done",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestParser_OneLineBodyEqualsBlock(t *testing.T) {
	oneLine := trace(t, "block: say hi\nsay after\n")
	block := trace(t, "block:\n\tsay hi\nsay after\n")

	assert.Equal(t, block, oneLine)
	assert.Equal(t, "  simple say hi", oneLine[1])
	assert.Equal(t, "  done block", oneLine[2])
}

// blockBuilder collects statements into an interp.Block without running them.
type blockBuilder struct {
	b    *interp.Block
	errs *[]error
}

func (bb *blockBuilder) SimpleStatement(args ir.Name) *async.Future {
	bb.b.Statements = append(bb.b.Statements, &interp.Statement{Args: args})
	return async.Resolved(nil)
}

func (bb *blockBuilder) ComplexStatement(args ir.Name) *async.Future {
	st := &interp.Statement{Args: args, Block: &interp.Block{}}
	bb.b.Statements = append(bb.b.Statements, st)
	return async.Resolved(&blockBuilder{b: st.Block, errs: bb.errs})
}

func (bb *blockBuilder) Done() *async.Future { return async.Resolved(nil) }
func (bb *blockBuilder) Error(err error)     { *bb.errs = append(*bb.errs, err) }
func (bb *blockBuilder) Prompt() bool        { return false }

func buildBlock(t *testing.T, src string) *interp.Block {
	t.Helper()
	var errs []error
	bb := &blockBuilder{b: &interp.Block{}, errs: &errs}
	require.NoError(t, Parse(context.Background(), bb, lexer.FromReader(strings.NewReader(src)), "test"))
	require.Empty(t, errs)
	return bb.b
}

// invocations lists every statement with its depth and typed atoms.
func invocations(t *testing.T, b *interp.Block, depth int) []string {
	t.Helper()
	var out []string
	for _, st := range b.Statements {
		atoms, err := ir.MarshalCanonical(st.Args)
		require.NoError(t, err)
		line := strings.Repeat(">", depth) + string(atoms)
		if st.Block != nil {
			out = append(out, line+":")
			out = append(out, invocations(t, st.Block, depth+1)...)
			continue
		}
		out = append(out, line)
	}
	return out
}

func TestParser_ReparseIsIdentical(t *testing.T) {
	src := "on door open:\n" +
		"\tprio 5\n" +
		"\ttrigger light on\n" +
		"\tif $level:\n" +
		"\t\tsay \"two words\" \"5\" 5 2.0 -1.5 1e21\n" +
		"# done\n" +
		"set a.b.c $x * + - 0x10 \"tab\\there\" 'say \"hi\"' \"\" \"a.b\"\n"
	first := buildBlock(t, src)
	lines := first.Lines()
	second := buildBlock(t, strings.Join(lines, "\n")+"\n")

	want := invocations(t, first, 0)
	require.Len(t, want, 6)
	if diff := cmp.Diff(want, invocations(t, second, 0)); diff != "" {
		t.Errorf("re-parsed statements differ (-want +got):\n%s\nrendered:\n%s", diff, strings.Join(lines, "\n"))
	}
	assert.Equal(t, `say "two words" "5" 5 2.0 - 1.5 1e+21`, strings.TrimLeft(lines[4], "\t"))
}

func TestParser_ArgumentKinds(t *testing.T) {
	got := trace(t, "set a.b.c 1 \"two words\" $x * - 0x10\n")
	assert.Equal(t, "simple set a.b.c 1 two words $x * - 16", got[0])
}

func TestParser_CommentsIgnored(t *testing.T) {
	assert.Equal(t, []string{
		"simple say a",
		"done",
	}, trace(t, "# leading\nsay a # trailing\n\n   # indented comment\n"))
}

func TestParser_DotEndsInput(t *testing.T) {
	assert.Equal(t, []string{
		"simple say a",
		"done",
	}, trace(t, "say a\n.\nsay b\n"))
}

func TestParser_EndMarkerClosesOpenBlocks(t *testing.T) {
	assert.Equal(t, []string{
		"complex a",
		"  complex b",
		"    simple c",
		"    done b",
		"  done a",
		"done",
	}, trace(t, "a:\n\tb:\n\t\tc"))
}

func TestParser_SyntaxErrorRecoversAtNextLine(t *testing.T) {
	got := trace(t, "say ) x\nsay ok\n")
	assert.Equal(t, []string{
		`error Unknown token ")" (OP, state 1) in test:1`,
		"simple say ok",
		"done",
	}, got)
}

func TestParser_MissingBlockIsSyntaxError(t *testing.T) {
	got := trace(t, "block:\nsay x\nsay y\n")
	assert.Equal(t, []string{
		"complex block",
		`error Unknown token "say" (NAME, state 4) in test:2`,
		"simple say y",
		"done",
	}, got, "the abandoned block never sees done")
}

func TestParser_FailedStatementAbandonsBlock(t *testing.T) {
	got := trace(t, "block:\n\tbad\n\tsay a\nsay b\n", testutil.FailOn("bad", errors.New("boom")))
	assert.Equal(t, []string{
		"complex block",
		"  simple bad",
		"error boom",
		"simple say b",
		"done",
	}, got)
}

func TestParser_FailedBlockSkipsBody(t *testing.T) {
	got := trace(t, "bad:\n\tsay a\nsay b\n", testutil.FailOn("bad", errors.New("boom")))
	assert.Equal(t, []string{
		"complex bad",
		"error boom",
		"simple say b",
		"done",
	}, got)
}

func TestParser_UnexpectedIndent(t *testing.T) {
	got := trace(t, "say a\n\tsay b\nsay c\n")
	require.Len(t, got, 4)
	assert.Equal(t, "simple say a", got[0])
	assert.Contains(t, got[1], "(INDENT, state 0)")
	assert.Equal(t, "simple say c", got[2])
	assert.Equal(t, "done", got[3])
}

func TestParser_LexerErrorSkipsLine(t *testing.T) {
	got := trace(t, "say \"\\q\"\nsay b\n")
	require.Len(t, got, 3)
	assert.True(t, strings.HasPrefix(got[0], "error test:1:"), got[0])
	assert.Equal(t, "simple say b", got[1])
}

func TestParser_ExitStopsWithoutDone(t *testing.T) {
	got := trace(t, "block:\n\tsay a\nexit\nsay b\n", testutil.FailOn("exit", interp.ErrExit))
	assert.Equal(t, []string{
		"complex block",
		"  simple say a",
		"  done block",
		"simple exit",
	}, got)
}

func TestParser_AsyncInterpreterGivesSameTrace(t *testing.T) {
	src := "block:\n\twait x:\n\t\tfor 0.1\nblock: say hi\n"
	assert.Equal(t, trace(t, src), trace(t, src, testutil.Async()))
}

// manualInterpreter hands out Futures the test settles itself.
type manualInterpreter struct {
	pending *async.Future
}

func (m *manualInterpreter) SimpleStatement(ir.Name) *async.Future {
	m.pending = async.New()
	return m.pending
}
func (m *manualInterpreter) ComplexStatement(ir.Name) *async.Future { return async.Resolved(m) }
func (m *manualInterpreter) Done() *async.Future                    { return async.Resolved(nil) }
func (m *manualInterpreter) Error(error)                            {}
func (m *manualInterpreter) Prompt() bool                           { return false }

func TestParser_FeedSuspendsUntilResumed(t *testing.T) {
	mi := &manualInterpreter{}
	p := New(mi)

	step := p.Feed(lexer.Token{Kind: lexer.KindName, Text: "say"})
	assert.Equal(t, Consumed, step.Outcome)

	step = p.Feed(lexer.Token{Kind: lexer.KindNewline, Text: "\n"})
	require.Equal(t, Suspended, step.Outcome)
	require.Same(t, mi.pending, step.Pending)
	assert.True(t, p.Suspended())

	busy := p.Feed(lexer.Token{Kind: lexer.KindName, Text: "x"})
	assert.ErrorIs(t, busy.Err, ErrBusy)

	mi.pending.Resolve(nil)
	step = p.Resume(step.Pending.Result())
	assert.Equal(t, Consumed, step.Outcome)
	assert.False(t, p.Suspended())
	assert.Equal(t, 0, p.State())

	step = p.Feed(lexer.Token{Kind: lexer.KindEndMarker})
	assert.Equal(t, Finished, step.Outcome)
	assert.Equal(t, Finished, p.Feed(lexer.Token{Kind: lexer.KindName, Text: "late"}).Outcome)
}

func TestParser_Prompts(t *testing.T) {
	var prompts []string
	rec := testutil.NewRecordingInterpreter(testutil.Interactive())
	parseString(t, "block:\n\tsay a\n", rec, WithPromptFunc(func(s string) {
		prompts = append(prompts, s)
	}))

	assert.Equal(t, []string{PromptStatement, PromptContinuation, PromptContinuation}, prompts)
}

func TestParser_NoPromptsForScripts(t *testing.T) {
	called := false
	rec := testutil.NewRecordingInterpreter()
	parseString(t, "say a\n", rec, WithPromptFunc(func(string) { called = true }))
	assert.False(t, called)
}

func TestParser_TracesTokensToContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := event.NewContext(map[string]any{event.AttrLogger: logger})

	rec := testutil.NewRecordingInterpreter()
	parseString(t, "say a\n", rec, WithContext(ctx))

	assert.Contains(t, buf.String(), "msg=token")
	assert.Contains(t, buf.String(), "kind=NAME")
}

func TestParser_TraceFollowsLevels(t *testing.T) {
	levels := engine.NewLevels(ir.LevelNone)
	levels.Set(Subsystem, ir.LevelTrace)

	rec := testutil.NewRecordingInterpreter()
	parseString(t, "say a\n", rec, WithLevels(levels))
	assert.Equal(t, []string{"simple say a", "done"}, rec.Trace())
}

func TestSyntaxError_Message(t *testing.T) {
	err := &SyntaxError{
		Token:    lexer.Token{Kind: lexer.KindOperator, Text: ":", Start: lexer.Pos{Line: 7, Col: 2}},
		State:    3,
		Filename: "rules.he",
	}
	assert.Equal(t, `Unknown token ":" (OP, state 3) in rules.he:7`, err.Error())
	assert.True(t, IsSyntaxError(err))
	assert.Equal(t, "suspended", Suspended.String())
}
