package lexer

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Literal grammar:
//
//	integer  = digit {digit} | "0x" hexdigit {hexdigit}
//	float    = digit {digit} "." digit {digit} [exponent]
//	         | digit {digit} exponent
//	exponent = ("e" | "E") ["+" | "-"] digit {digit}
//	string   = '"' {char} '"' | "'" {char} "'"
//
// Leading zeros are decimal. Escapes inside strings:
// \\ \" \' \n \t \r \0 \xHH \uHHHH. Any other escape is an error.

// scanNumber reads a number literal starting at s[0]. It returns the
// literal's length and value.
func scanNumber(s string) (int, any, error) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		i := 2
		for i < len(s) && isHex(s[i]) {
			i++
		}
		if i == 2 {
			return i, nil, fmt.Errorf("malformed hex literal %q", s[:i])
		}
		if i < len(s) && isNameChar(rune(s[i])) {
			return i, nil, fmt.Errorf("malformed number %q", s[:i+1])
		}
		v, err := strconv.ParseInt(s[2:i], 16, 64)
		if err != nil {
			return i, nil, fmt.Errorf("hex literal %q: %w", s[:i], err)
		}
		return i, v, nil
	}

	i := scanDigits(s, 0)
	isFloat := false
	if i+1 < len(s) && s[i] == '.' && isDigit(s[i+1]) {
		i = scanDigits(s, i+1)
		isFloat = true
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			i = scanDigits(s, j)
			isFloat = true
		}
	}
	if i < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[i:]); isNameChar(r) {
			return i, nil, fmt.Errorf("malformed number %q", s[:i+1])
		}
	}

	text := s[:i]
	if isFloat {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return i, nil, fmt.Errorf("float literal %q: %w", text, err)
		}
		return i, v, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return i, nil, fmt.Errorf("integer literal %q: %w", text, err)
	}
	return i, v, nil
}

// scanString reads a quoted string starting at s[0]. It returns the
// literal's length including quotes and the unescaped value.
func scanString(s string) (int, string, error) {
	quote := s[0]
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		switch {
		case c == quote:
			return i + 1, b.String(), nil
		case c == '\\':
			n, err := unescape(&b, s[i:])
			if err != nil {
				return i, "", err
			}
			i += n
		default:
			b.WriteByte(c)
			i++
		}
	}
	return i, "", fmt.Errorf("unterminated string")
}

// unescape decodes the escape sequence at s[0] == '\\' into b and returns
// its length.
func unescape(b *strings.Builder, s string) (int, error) {
	if len(s) < 2 {
		return len(s), fmt.Errorf("unterminated escape")
	}
	switch s[1] {
	case '\\', '"', '\'':
		b.WriteByte(s[1])
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case '0':
		b.WriteByte(0)
	case 'x':
		return hexEscape(b, s, 2)
	case 'u':
		return hexEscape(b, s, 4)
	default:
		return 2, fmt.Errorf("unknown escape \\%c", s[1])
	}
	return 2, nil
}

func hexEscape(b *strings.Builder, s string, digits int) (int, error) {
	end := 2 + digits
	if len(s) < end {
		return len(s), fmt.Errorf("short \\%c escape", s[1])
	}
	v, err := strconv.ParseUint(s[2:end], 16, 32)
	if err != nil {
		return end, fmt.Errorf("bad \\%c escape %q", s[1], s[:end])
	}
	b.WriteRune(rune(v))
	return end, nil
}

func scanDigits(s string, i int) int {
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Quote renders s as a double-quoted string literal that scans back to s.
// Control characters use the escapes scanString accepts.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case 0:
			b.WriteString(`\0`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\x%02x`, c)
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// IsName reports whether s lexes as a single Name token.
func IsName(s string) bool {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || !isNameStart(r) {
		return false
	}
	return size+nameLen(s[size:]) == len(s)
}

// IsPlaceholder reports whether s lexes as a single $name or *name token.
func IsPlaceholder(s string) bool {
	if len(s) < 2 || (s[0] != '$' && s[0] != '*') {
		return false
	}
	return nameLen(s[1:]) == len(s)-1
}
