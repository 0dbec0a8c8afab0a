package config

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokQuoted
	tokOpen
	tokClose
	tokNewline
	tokComment
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of file"
	case tokWord, tokQuoted:
		return "value"
	case tokOpen:
		return "'{'"
	case tokClose:
		return "'}'"
	case tokNewline:
		return "end of line"
	case tokComment:
		return "comment"
	default:
		return "token"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  position
}

type position struct {
	line int
	col  int
}

func (p position) String() string {
	return fmt.Sprintf("%d:%d", p.line, p.col)
}

// lexer splits a Brokerfile into words, quoted strings, braces, comments
// and line ends. Placeholders like {env.NAME} or {$NAME:default} are kept
// inside the surrounding word.
type lexer struct {
	src string
	off int
	pos position
}

func newLexer(src string) *lexer {
	return &lexer{src: src, pos: position{line: 1, col: 1}}
}

func (l *lexer) peekRune() (rune, int, error) {
	r, size := utf8.DecodeRuneInString(l.src[l.off:])
	if r == utf8.RuneError && size == 1 {
		return 0, 0, fmt.Errorf("invalid utf-8 at %s", l.pos)
	}
	return r, size, nil
}

func (l *lexer) advance(r rune, size int) {
	l.off += size
	if r == '\n' {
		l.pos.line++
		l.pos.col = 1
		return
	}
	l.pos.col++
}

func (l *lexer) next() (token, error) {
	for l.off < len(l.src) {
		r, size, err := l.peekRune()
		if err != nil {
			return token{}, err
		}
		start := l.pos
		switch {
		case r == ' ' || r == '\t' || r == '\r':
			l.advance(r, size)
		case r == '\n':
			l.advance(r, size)
			return token{kind: tokNewline, pos: start}, nil
		case r == '#':
			begin := l.off
			for l.off < len(l.src) && l.src[l.off] != '\n' {
				r2, size2, err := l.peekRune()
				if err != nil {
					return token{}, err
				}
				l.advance(r2, size2)
			}
			return token{kind: tokComment, text: l.src[begin:l.off], pos: start}, nil
		case r == '{' && !l.atPlaceholder():
			l.advance(r, size)
			return token{kind: tokOpen, text: "{", pos: start}, nil
		case r == '}':
			l.advance(r, size)
			return token{kind: tokClose, text: "}", pos: start}, nil
		case r == '"':
			s, err := l.quoted()
			if err != nil {
				return token{}, err
			}
			return token{kind: tokQuoted, text: s, pos: start}, nil
		default:
			w, err := l.word()
			if err != nil {
				return token{}, err
			}
			return token{kind: tokWord, text: w, pos: start}, nil
		}
	}
	return token{kind: tokEOF, pos: l.pos}, nil
}

// atPlaceholder reports whether the '{' at the current offset opens a
// placeholder closed on the same line.
func (l *lexer) atPlaceholder() bool {
	rest := l.src[l.off:]
	if !strings.HasPrefix(rest, "{env.") && !strings.HasPrefix(rest, "{$") {
		return false
	}
	end := strings.IndexAny(rest, "}\n \t")
	return end > 0 && rest[end] == '}'
}

func (l *lexer) word() (string, error) {
	var b strings.Builder
	for l.off < len(l.src) {
		r, size, err := l.peekRune()
		if err != nil {
			return "", err
		}
		if r == '{' && l.atPlaceholder() {
			for {
				r2, size2, err := l.peekRune()
				if err != nil {
					return "", err
				}
				b.WriteRune(r2)
				l.advance(r2, size2)
				if r2 == '}' {
					break
				}
			}
			continue
		}
		if strings.ContainsRune(" \t\r\n{}\"#", r) {
			break
		}
		b.WriteRune(r)
		l.advance(r, size)
	}
	return b.String(), nil
}

func (l *lexer) quoted() (string, error) {
	open := l.pos
	l.advance('"', 1)
	var b strings.Builder
	for {
		if l.off >= len(l.src) {
			return "", fmt.Errorf("unterminated string starting at %s", open)
		}
		r, size, err := l.peekRune()
		if err != nil {
			return "", err
		}
		switch r {
		case '\n':
			return "", fmt.Errorf("unterminated string starting at %s", open)
		case '"':
			l.advance(r, size)
			return b.String(), nil
		case '\\':
			l.advance(r, size)
			if l.off >= len(l.src) {
				return "", fmt.Errorf("unterminated escape at %s", l.pos)
			}
			esc, escSize, err := l.peekRune()
			if err != nil {
				return "", err
			}
			l.advance(esc, escSize)
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteRune(esc)
			}
		default:
			b.WriteRune(r)
			l.advance(r, size)
		}
	}
}
