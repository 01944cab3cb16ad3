package lexer

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []Kind {
	out := make([]Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func lexAll(t *testing.T, src string) []Token {
	t.Helper()
	toks, errs := NewString(src, "test").All()
	require.Empty(t, errs)
	return toks
}

func TestLexer_SimpleStatement(t *testing.T) {
	toks := lexAll(t, "say hello\n")

	assert.Equal(t, []Kind{KindName, KindName, KindNewline, KindEndMarker}, kinds(toks))
	assert.Equal(t, "say", toks[0].Text)
	assert.Equal(t, Pos{Line: 1, Col: 4}, toks[1].Start)
	assert.Equal(t, "say hello", toks[1].Line)
}

func TestLexer_IndentDedent(t *testing.T) {
	src := "block:\n\twait x:\n\t\tfor 0.1\n"
	toks := lexAll(t, src)

	assert.Equal(t, []Kind{
		KindName, KindOperator, KindNewline,
		KindIndent, KindName, KindName, KindOperator, KindNewline,
		KindIndent, KindName, KindNumber, KindNewline,
		KindDedent, KindDedent, KindEndMarker,
	}, kinds(toks))
	assert.Equal(t, 0.1, toks[10].Value)
}

func TestLexer_BlankAndCommentLinesKeepIndent(t *testing.T) {
	src := "a:\n  b\n\n# note\n  c\nd\n"
	toks := lexAll(t, src)

	assert.Equal(t, []Kind{
		KindName, KindOperator, KindNewline,
		KindIndent, KindName, KindNewline,
		KindNewline,
		KindComment, KindNewline,
		KindName, KindNewline,
		KindDedent, KindName, KindNewline,
		KindEndMarker,
	}, kinds(toks))
}

func TestLexer_TabsAdvanceToMultipleOfEight(t *testing.T) {
	// a tab and eight spaces are the same level
	toks := lexAll(t, "a:\n\tb\n        c\n")
	assert.Equal(t, []Kind{
		KindName, KindOperator, KindNewline,
		KindIndent, KindName, KindNewline,
		KindName, KindNewline,
		KindDedent, KindEndMarker,
	}, kinds(toks))
}

func TestLexer_BadDedent(t *testing.T) {
	lx := NewString("a:\n    b\n  c\nd\n", "bad.hev")
	toks, errs := lx.All()

	require.Len(t, errs, 1)
	var lexErr *Error
	require.ErrorAs(t, errs[0], &lexErr)
	assert.Equal(t, "bad.hev", lexErr.Filename)
	assert.Equal(t, 3, lexErr.Pos.Line)
	assert.Contains(t, lexErr.Error(), "bad.hev:3:2")
	assert.Equal(t, KindEndMarker, toks[len(toks)-1].Kind)
}

func TestLexer_Literals(t *testing.T) {
	tests := []struct {
		src  string
		kind Kind
		want any
	}{
		{"42", KindNumber, int64(42)},
		{"007", KindNumber, int64(7)},
		{"0x1F", KindNumber, int64(31)},
		{"1.5", KindNumber, 1.5},
		{"2e3", KindNumber, 2000.0},
		{"1.5E-1", KindNumber, 0.15},
		{`"a b"`, KindString, "a b"},
		{`'it\'s'`, KindString, "it's"},
		{`"tab\there"`, KindString, "tab\there"},
		{`"\x41\u00e9"`, KindString, "Aé"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			toks := lexAll(t, tt.src+"\n")
			require.GreaterOrEqual(t, len(toks), 1)
			assert.Equal(t, tt.kind, toks[0].Kind)
			assert.Equal(t, tt.want, toks[0].Value)
			assert.Equal(t, tt.src, toks[0].Text)
		})
	}
}

func TestLexer_MalformedLiterals(t *testing.T) {
	for _, src := range []string{"12ab", `"open`, `"\q"`, "0x", "a ¦ b"} {
		t.Run(src, func(t *testing.T) {
			lx := NewString(src+"\nok\n", "t")
			_, err := lx.Next()
			var lexErr *Error
			require.ErrorAs(t, err, &lexErr)

			// the failed line still ends with a Newline, then lexing resumes
			tok, err := lx.Next()
			require.NoError(t, err)
			assert.Equal(t, KindNewline, tok.Kind)
			tok, err = lx.Next()
			require.NoError(t, err)
			assert.Equal(t, "ok", tok.Text)
		})
	}
}

func TestLexer_Operators(t *testing.T) {
	toks := lexAll(t, "on $event * *x a.b >= - $\n")

	var texts []string
	for _, tok := range toks {
		if tok.Kind == KindOperator {
			texts = append(texts, tok.Text)
		}
	}
	assert.Equal(t, []string{"$event", "*", "*x", ".", ">=", "-", "$"}, texts)
}

func TestLexer_NumberThenDot(t *testing.T) {
	toks := lexAll(t, "1.x\n")
	assert.Equal(t, []Kind{KindNumber, KindOperator, KindName, KindNewline, KindEndMarker}, kinds(toks))
	assert.Equal(t, int64(1), toks[0].Value)
}

func TestLexer_MissingFinalNewline(t *testing.T) {
	toks := lexAll(t, "a:\n  b")
	assert.Equal(t, []Kind{
		KindName, KindOperator, KindNewline,
		KindIndent, KindName, KindNewline,
		KindDedent, KindEndMarker,
	}, kinds(toks))
}

func TestLexer_EndMarkerRepeats(t *testing.T) {
	lx := NewString("", "t")
	for i := 0; i < 3; i++ {
		tok, err := lx.Next()
		require.NoError(t, err)
		assert.Equal(t, KindEndMarker, tok.Kind)
	}
}

func TestLexer_SourceError(t *testing.T) {
	boom := errors.New("read failed")
	calls := 0
	src := LineSourceFunc(func() (string, error) {
		calls++
		if calls == 1 {
			return "a\n", nil
		}
		return "", boom
	})
	lx := New(src, "t")
	_, err := lx.Next()
	require.NoError(t, err)
	_, err = lx.Next()
	require.NoError(t, err)
	_, err = lx.Next()
	assert.ErrorIs(t, err, boom)
}

func TestLexer_NFC(t *testing.T) {
	toks := lexAll(t, "cafe\u0301\n")
	assert.Equal(t, "caf\u00e9", toks[0].Text)
}

func TestFromReader_PartialLastLine(t *testing.T) {
	src := FromReader(strings.NewReader("x\ny"))
	l1, err := src.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "x\n", l1)
	l2, err := src.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "y", l2)
	_, err = src.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}


func TestQuote_ScansBack(t *testing.T) {
	for _, s := range []string{"", "two words", "5", `say "hi"`, `back\slash`, "it's", "a\tb\nc\rd", "nul\x00", "bell\x07del\x7f", "café"} {
		t.Run(s, func(t *testing.T) {
			toks := lexAll(t, Quote(s)+"\n")
			require.GreaterOrEqual(t, len(toks), 1)
			assert.Equal(t, KindString, toks[0].Kind)
			assert.Equal(t, s, toks[0].Value)
		})
	}
	assert.Equal(t, `"a \"b\"\n"`, Quote("a \"b\"\n"))
}

func TestIsName(t *testing.T) {
	for _, s := range []string{"a", "_x", "temp21", "été"} {
		assert.True(t, IsName(s), s)
	}
	for _, s := range []string{"", "5", "two words", "a.b", "$x", "*", "a-b"} {
		assert.False(t, IsName(s), s)
	}
}

func TestIsPlaceholder(t *testing.T) {
	for _, s := range []string{"$x", "$2", "*rest"} {
		assert.True(t, IsPlaceholder(s), s)
	}
	for _, s := range []string{"$", "*", "x", "$a b", "$-"} {
		assert.False(t, IsPlaceholder(s), s)
	}
}
