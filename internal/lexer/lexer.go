package lexer

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// TabWidth is the column multiple a tab advances to.
const TabWidth = 8

// LineSource supplies input one line at a time. ReadLine returns io.EOF
// once no more input will arrive. A returned line may omit its trailing
// newline.
type LineSource interface {
	ReadLine() (string, error)
}

// LineSourceFunc adapts a function to LineSource.
type LineSourceFunc func() (string, error)

// ReadLine implements LineSource.
func (f LineSourceFunc) ReadLine() (string, error) { return f() }

// readerSource reads lines from an io.Reader.
type readerSource struct {
	r *bufio.Reader
}

// FromReader adapts r to a LineSource.
func FromReader(r io.Reader) LineSource {
	return &readerSource{r: bufio.NewReader(r)}
}

func (s *readerSource) ReadLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err == io.EOF && line != "" {
		return line, nil
	}
	return line, err
}

// item is one queued lexer result: a token or an error in its place.
type item struct {
	tok Token
	err error
}

// Lexer produces tokens lazily, one input line at a time.
//
// Not safe for concurrent use; the parser driver owns it.
type Lexer struct {
	src      LineSource
	filename string
	indents  []int
	pending  []item
	lineNo   int
	done     bool
}

// New creates a Lexer reading from src. filename appears in errors.
func New(src LineSource, filename string) *Lexer {
	return &Lexer{
		src:      src,
		filename: filename,
		indents:  []int{0},
	}
}

// NewString lexes a fixed string.
func NewString(s, filename string) *Lexer {
	return New(FromReader(strings.NewReader(s)), filename)
}

// Filename returns the name used in error messages.
func (l *Lexer) Filename() string { return l.filename }

// Line returns the number of the last line read.
func (l *Lexer) Line() int { return l.lineNo }

// Depth returns the current indentation depth (0 at top level).
func (l *Lexer) Depth() int { return len(l.indents) - 1 }

// Next returns the next token. A *Error is returned in place of a line
// that cannot be tokenized; the next call then yields that line's Newline.
// After EndMarker every call returns EndMarker again. Any other error comes
// from the LineSource.
func (l *Lexer) Next() (Token, error) {
	for len(l.pending) == 0 {
		if l.done {
			return Token{Kind: KindEndMarker, Start: Pos{Line: l.lineNo + 1}}, nil
		}
		if err := l.readLine(); err != nil {
			return Token{}, err
		}
	}
	it := l.pending[0]
	l.pending = l.pending[1:]
	if it.tok.Kind == KindEndMarker {
		l.done = true
	}
	return it.tok, it.err
}

// All lexes the rest of the input, stopping at EndMarker or a source
// error. Token errors are collected and lexing continues.
func (l *Lexer) All() ([]Token, []error) {
	var toks []Token
	var errs []error
	for {
		tok, err := l.Next()
		if err != nil {
			var lexErr *Error
			if errors.As(err, &lexErr) {
				errs = append(errs, err)
				continue
			}
			errs = append(errs, err)
			return toks, errs
		}
		toks = append(toks, tok)
		if tok.Kind == KindEndMarker {
			return toks, errs
		}
	}
}

func (l *Lexer) readLine() error {
	raw, err := l.src.ReadLine()
	if errors.Is(err, io.EOF) {
		l.finish()
		return nil
	}
	if err != nil {
		return err
	}
	l.lineNo++
	l.lexLine(norm.NFC.String(strings.TrimRight(raw, "\r\n")))
	return nil
}

// finish queues the closing Dedents and the EndMarker.
func (l *Lexer) finish() {
	pos := Pos{Line: l.lineNo + 1}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.push(Token{Kind: KindDedent, Start: pos, End: pos})
	}
	l.push(Token{Kind: KindEndMarker, Start: pos, End: pos})
}

func (l *Lexer) push(t Token) {
	l.pending = append(l.pending, item{tok: t})
}

func (l *Lexer) lexLine(line string) {
	col, i := 0, 0
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		if line[i] == '\t' {
			col = (col/TabWidth + 1) * TabWidth
		} else {
			col++
		}
		i++
	}
	rest := line[i:]

	// blank and comment-only lines keep the current indentation
	if rest == "" || rest[0] == '#' {
		if rest != "" {
			l.push(l.token(KindComment, rest, rest, i, len(line), line))
		}
		l.push(l.token(KindNewline, "\n", "\n", len(line), len(line)+1, line))
		return
	}

	if err := l.indent(col, line); err != nil {
		l.fail(err, line)
		return
	}

	var toks []Token
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '#':
			toks = append(toks, l.token(KindComment, line[i:], line[i:], i, len(line), line))
			i = len(line)
		case c == '"' || c == '\'':
			n, val, err := scanString(line[i:])
			if err != nil {
				l.fail(l.errorAt(i+n, err.Error(), line), line)
				return
			}
			toks = append(toks, l.token(KindString, line[i:i+n], val, i, i+n, line))
			i += n
		case isDigit(c):
			n, val, err := scanNumber(line[i:])
			if err != nil {
				l.fail(l.errorAt(i, err.Error(), line), line)
				return
			}
			toks = append(toks, l.token(KindNumber, line[i:i+n], val, i, i+n, line))
			i += n
		default:
			r, size := utf8.DecodeRuneInString(line[i:])
			if isNameStart(r) {
				j := i + size
				j += nameLen(line[j:])
				toks = append(toks, l.token(KindName, line[i:j], line[i:j], i, j, line))
				i = j
				continue
			}
			n := operatorLen(line[i:])
			if n == 0 {
				l.fail(l.errorAt(i, "unexpected character "+quoteRune(r), line), line)
				return
			}
			toks = append(toks, l.token(KindOperator, line[i:i+n], line[i:i+n], i, i+n, line))
			i += n
		}
	}
	for _, t := range toks {
		l.push(t)
	}
	l.push(l.token(KindNewline, "\n", "\n", len(line), len(line)+1, line))
}

// indent compares col against the indentation stack and queues Indent or
// Dedent tokens.
func (l *Lexer) indent(col int, line string) error {
	top := l.indents[len(l.indents)-1]
	switch {
	case col > top:
		l.indents = append(l.indents, col)
		l.push(l.token(KindIndent, line[:col2byte(line, col)], nil, 0, col, line))
	case col < top:
		for col < l.indents[len(l.indents)-1] {
			l.indents = l.indents[:len(l.indents)-1]
			l.push(l.token(KindDedent, "", nil, col, col, line))
		}
		if col != l.indents[len(l.indents)-1] {
			return l.errorAt(col, "unindent does not match any outer indentation level", line)
		}
	}
	return nil
}

// fail queues err in place of the current line's tokens, followed by a
// Newline. Indent and Dedent tokens already queued for the line stay.
func (l *Lexer) fail(err error, line string) {
	l.pending = append(l.pending, item{err: err})
	l.push(l.token(KindNewline, "\n", "\n", len(line), len(line)+1, line))
}

func (l *Lexer) token(kind Kind, text string, val any, start, end int, line string) Token {
	if val == nil {
		val = text
	}
	return Token{
		Kind:  kind,
		Text:  text,
		Value: val,
		Start: Pos{Line: l.lineNo, Col: start},
		End:   Pos{Line: l.lineNo, Col: end},
		Line:  line,
	}
}

func (l *Lexer) errorAt(col int, msg, line string) *Error {
	return &Error{
		Filename: l.filename,
		Pos:      Pos{Line: l.lineNo, Col: col},
		Msg:      msg,
		Line:     line,
	}
}

// col2byte maps an indentation column back to a byte offset in line.
func col2byte(line string, col int) int {
	c := 0
	for i := 0; i < len(line); i++ {
		if c >= col {
			return i
		}
		if line[i] == '\t' {
			c = (c/TabWidth + 1) * TabWidth
		} else {
			c++
		}
	}
	return len(line)
}

var twoCharOps = []string{"==", "!=", "<=", ">="}

const oneCharOps = ":.+-*/%=<>!@,()[]{}&|^~$"

// operatorLen returns the length of the operator at s[0], or 0.
// "$name" and "*name" are single placeholder tokens.
func operatorLen(s string) int {
	if s[0] == '$' || s[0] == '*' {
		if n := nameLen(s[1:]); n > 0 {
			return 1 + n
		}
	}
	for _, op := range twoCharOps {
		if strings.HasPrefix(s, op) {
			return 2
		}
	}
	if strings.IndexByte(oneCharOps, s[0]) >= 0 {
		return 1
	}
	return 0
}

// nameLen returns the byte length of the run of name characters at s[0].
func nameLen(s string) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if !isNameChar(r) {
			break
		}
		n += size
	}
	return n
}

func isNameStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func quoteRune(r rune) string {
	if r == utf8.RuneError {
		return "(invalid UTF-8)"
	}
	return "'" + string(r) + "'"
}
