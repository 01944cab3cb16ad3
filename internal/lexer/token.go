// Package lexer turns statement text into classified tokens.
//
// Indentation is significant. A line indented deeper than the enclosing
// block yields an Indent token; returning to a shallower level yields one
// Dedent per level given up. Blank and comment-only lines never affect
// indentation.
//
// Numbers and strings are evaluated here: Token.Value holds an int64, a
// float64 or a string. See literal.go for the accepted literal grammar.
package lexer

import "fmt"

// Kind classifies a token.
type Kind int

const (
	KindName Kind = iota + 1
	KindNumber
	KindString
	KindOperator
	KindNewline
	KindIndent
	KindDedent
	KindComment
	KindEndMarker
)

var kindNames = map[Kind]string{
	KindName:      "NAME",
	KindNumber:    "NUMBER",
	KindString:    "STRING",
	KindOperator:  "OP",
	KindNewline:   "NEWLINE",
	KindIndent:    "INDENT",
	KindDedent:    "DEDENT",
	KindComment:   "COMMENT",
	KindEndMarker: "ENDMARKER",
}

// String returns the upper-case kind name.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// Pos is a 1-based line and 0-based column.
type Pos struct {
	Line int
	Col  int
}

// String renders the position as line:col.
func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Token is one lexical unit. Text is the raw source text; Value is the
// evaluated literal for Number and String tokens and the text otherwise.
type Token struct {
	Kind  Kind
	Text  string
	Value any
	Start Pos
	End   Pos
	Line  string
}

// String renders the token for diagnostics.
func (t Token) String() string {
	return fmt.Sprintf("%s %q at %s", t.Kind, t.Text, t.Start)
}

// IsOp reports whether t is the operator op.
func (t Token) IsOp(op string) bool {
	return t.Kind == KindOperator && t.Text == op
}

// Error is a token that could not be classified.
type Error struct {
	Filename string
	Pos      Pos
	Msg      string
	Line     string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Filename, e.Pos.Line, e.Pos.Col, e.Msg)
}
