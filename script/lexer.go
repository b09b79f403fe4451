// Package script implements the linker-script engine (C9): a parser
// for the GNU ld scripting sublanguage (SECTIONS, MEMORY, PHDRS,
// assignments, wildcards) producing the rule list C10 matches input
// sections against.
package script

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord   // identifier, wildcard, section/file name, bare number, "."
	tokString // "quoted" or 'quoted'
	tokPunct  // any of ( ) { } , ; : = += -= *= /= == != <= >= < > + - * / & | ^ ~ !
)

type token struct {
	kind tokenKind
	text string
	line int
}

// lexer splits GNU-ld script source into tokens. Comments use C style
// (/* ... */); there is no line-comment form in ld scripts.
type lexer struct {
	src  string
	pos  int
	line int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

const wordChars = "_./*?[]\\$~+-:@" // chars that may appear inside a bare word/wildcard

func isWordChar(c byte, first bool) bool {
	if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
		return true
	}
	if strings.IndexByte(wordChars, c) >= 0 {
		// '-' and '+' and ':' double as operators; only treat them as
		// word chars mid-word, never as the first character, so
		// "foo-bar" lexes as one word but "a - b" still lexes the
		// subtraction operator.
		if first && (c == '-' || c == '+' || c == ':') {
			return false
		}
		return true
	}
	return false
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '*':
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				l.pos = len(l.src)
				return
			}
			l.line += strings.Count(l.src[l.pos:l.pos+2+end], "\n")
			l.pos += 2 + end + 2
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line}, nil
	}
	c := l.src[l.pos]
	line := l.line

	if c == '"' || c == '\'' {
		quote := c
		start := l.pos + 1
		end := strings.IndexByte(l.src[start:], quote)
		if end < 0 {
			return token{}, fmt.Errorf("script:%d: unterminated string", line)
		}
		text := l.src[start : start+end]
		l.pos = start + end + 1
		return token{kind: tokString, text: text, line: line}, nil
	}

	// '*' and '/' also start wildcards and paths ("*(.text)",
	// "/DISCARD/"); standing alone before whitespace or the end of
	// input they lex as the multiply/divide operators.
	spacedOp := (c == '*' || c == '/') && (l.pos+1 >= len(l.src) || strings.IndexByte(" \t\r\n", l.src[l.pos+1]) >= 0)
	if !spacedOp && isWordChar(c, true) {
		start := l.pos
		l.pos++
		for l.pos < len(l.src) && isWordChar(l.src[l.pos], false) {
			l.pos++
		}
		return token{kind: tokWord, text: l.src[start:l.pos], line: line}, nil
	}

	// Two-character operators.
	if l.pos+1 < len(l.src) {
		two := l.src[l.pos : l.pos+2]
		switch two {
		case "+=", "-=", "*=", "/=", "==", "!=", "<=", ">=", "<<", ">>", "&&", "||":
			l.pos += 2
			return token{kind: tokPunct, text: two, line: line}, nil
		}
	}

	switch c {
	case '(', ')', '{', '}', ',', ';', ':', '=', '+', '-', '*', '/', '&', '|', '^', '~', '!', '<', '>':
		l.pos++
		return token{kind: tokPunct, text: string(c), line: line}, nil
	}

	return token{}, fmt.Errorf("script:%d: unexpected character %q", line, c)
}

// parseNumber parses text as an integer literal in any of the bases ld
// scripts accept (decimal, 0x hex, trailing K/M scale), reporting
// whether it parsed.
func parseNumber(text string) (uint64, bool) {
	s := text
	var scale uint64 = 1
	if len(s) > 0 {
		switch s[len(s)-1] {
		case 'K', 'k':
			scale = 1024
			s = s[:len(s)-1]
		case 'M', 'm':
			scale = 1024 * 1024
			s = s[:len(s)-1]
		}
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, false
	}
	return v * scale, true
}
