package rustsrc

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokLifetime
	tokLiteral
	tokPunct
	tokOpen
	tokClose
	tokDoc
)

type token struct {
	kind  tokenKind
	text  string
	pos   int
	end   int
	inner bool // //! and /*! doc comments
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

// ParseError reports source that is not valid Rust at the token or item
// level.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
}

func position(src string, off int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < off && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

func errorAt(src string, off int, format string, args ...any) error {
	line, col := position(src, off)
	return &ParseError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

type lexer struct {
	src  string
	pos  int
	toks []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	if strings.HasPrefix(src, "#!") && !strings.HasPrefix(src, "#![") {
		// shebang line
		for l.pos < len(src) && src[l.pos] != '\n' {
			l.pos++
		}
	}
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			return l.toks, nil
		}
		if err := l.next(); err != nil {
			return nil, err
		}
	}
}

func (l *lexer) peekAt(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *lexer) rest() string { return l.src[l.pos:] }

func (l *lexer) emit(kind tokenKind, start int) {
	l.toks = append(l.toks, token{kind: kind, text: l.src[start:l.pos], pos: start, end: l.pos})
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.rest())
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentContinue(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (l *lexer) next() error {
	start := l.pos
	rest := l.rest()
	c := rest[0]

	switch {
	case strings.HasPrefix(rest, "//"):
		return l.lineComment()
	case strings.HasPrefix(rest, "/*"):
		return l.blockComment()
	case c == '"':
		if err := l.quoted('"'); err != nil {
			return err
		}
		l.suffix()
		l.emit(tokLiteral, start)
		return nil
	case c == '\'':
		return l.quote()
	case '0' <= c && c <= '9':
		l.number()
		l.emit(tokLiteral, start)
		return nil
	case c == '(' || c == '[' || c == '{':
		l.pos++
		l.emit(tokOpen, start)
		return nil
	case c == ')' || c == ']' || c == '}':
		l.pos++
		l.emit(tokClose, start)
		return nil
	}

	if ok, err := l.prefixedLiteral(); ok || err != nil {
		return err
	}

	r, size := utf8.DecodeRuneInString(rest)
	if isIdentStart(r) {
		l.pos += size
		l.identRest()
		l.emit(tokIdent, start)
		return nil
	}

	for _, p := range []string{"::", "->", "=>"} {
		if strings.HasPrefix(rest, p) {
			l.pos += len(p)
			l.emit(tokPunct, start)
			return nil
		}
	}
	if strings.ContainsRune("+-*/%^!&|=<>@.,;:#$?~", r) {
		l.pos++
		l.emit(tokPunct, start)
		return nil
	}
	return errorAt(l.src, start, "unexpected character %q", r)
}

func (l *lexer) identRest() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.rest())
		if !isIdentContinue(r) {
			return
		}
		l.pos += size
	}
}

// suffix consumes a literal suffix such as the u8 in 1u8 or "x"suffix.
func (l *lexer) suffix() {
	if l.pos < len(l.src) {
		if r, _ := utf8.DecodeRuneInString(l.rest()); isIdentStart(r) {
			l.identRest()
		}
	}
}

func (l *lexer) lineComment() error {
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.pos++
	}
	text := l.src[start:l.pos]
	switch {
	case strings.HasPrefix(text, "//!"):
		l.toks = append(l.toks, token{kind: tokDoc, text: text, pos: start, end: l.pos, inner: true})
	case strings.HasPrefix(text, "///") && !strings.HasPrefix(text, "////"):
		l.emit(tokDoc, start)
	}
	return nil
}

func (l *lexer) blockComment() error {
	start := l.pos
	depth := 0
	for l.pos < len(l.src) {
		switch {
		case strings.HasPrefix(l.rest(), "/*"):
			depth++
			l.pos += 2
		case strings.HasPrefix(l.rest(), "*/"):
			depth--
			l.pos += 2
			if depth == 0 {
				text := l.src[start:l.pos]
				switch {
				case strings.HasPrefix(text, "/*!"):
					l.toks = append(l.toks, token{kind: tokDoc, text: text, pos: start, end: l.pos, inner: true})
				case strings.HasPrefix(text, "/**") && !strings.HasPrefix(text, "/***") && text != "/**/":
					l.emit(tokDoc, start)
				}
				return nil
			}
		default:
			l.pos++
		}
	}
	return errorAt(l.src, start, "unterminated block comment")
}

// quoted scans a "..." or '...' body with escapes, starting at the quote.
func (l *lexer) quoted(q byte) error {
	start := l.pos
	l.pos++
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '\\':
			l.pos += 2
		case q:
			l.pos++
			return nil
		default:
			l.pos++
		}
	}
	return errorAt(l.src, start, "unterminated literal")
}

// raw scans r#"..."# starting at the first '#' or quote.
func (l *lexer) raw() error {
	start := l.pos
	hashes := 0
	for l.peekAt(0) == '#' {
		hashes++
		l.pos++
	}
	if l.peekAt(0) != '"' {
		return errorAt(l.src, start, "malformed raw string")
	}
	l.pos++
	closing := "\"" + strings.Repeat("#", hashes)
	i := strings.Index(l.rest(), closing)
	if i < 0 {
		return errorAt(l.src, start, "unterminated raw string")
	}
	l.pos += i + len(closing)
	return nil
}

// prefixedLiteral handles b"", b'', br"", r"", r#""#, c"", cr"" and raw
// identifiers r#ident.
func (l *lexer) prefixedLiteral() (bool, error) {
	start := l.pos
	rest := l.rest()
	var err error
	switch {
	case strings.HasPrefix(rest, "br\"") || strings.HasPrefix(rest, "br#") ||
		strings.HasPrefix(rest, "cr\"") || strings.HasPrefix(rest, "cr#"):
		l.pos += 2
		err = l.raw()
	case strings.HasPrefix(rest, "r#") && len(rest) > 2 && rest[2] != '"' && rest[2] != '#':
		// raw identifier
		l.pos += 2
		l.identRest()
		l.emit(tokIdent, start)
		return true, nil
	case strings.HasPrefix(rest, "r\"") || strings.HasPrefix(rest, "r#"):
		l.pos++
		err = l.raw()
	case strings.HasPrefix(rest, "b\"") || strings.HasPrefix(rest, "c\""):
		l.pos++
		err = l.quoted('"')
	case strings.HasPrefix(rest, "b'"):
		l.pos++
		err = l.quoted('\'')
	default:
		return false, nil
	}
	if err != nil {
		return true, err
	}
	l.suffix()
	l.emit(tokLiteral, start)
	return true, nil
}

// quote tells lifetimes from character literals.
func (l *lexer) quote() error {
	start := l.pos
	if l.peekAt(1) == '\\' {
		if err := l.quoted('\''); err != nil {
			return err
		}
		l.emit(tokLiteral, start)
		return nil
	}
	r, size := utf8.DecodeRuneInString(l.src[l.pos+1:])
	if r == utf8.RuneError && size <= 1 {
		return errorAt(l.src, start, "malformed character literal")
	}
	if l.peekAt(1+size) == '\'' {
		l.pos += 2 + size
		l.emit(tokLiteral, start)
		return nil
	}
	if isIdentStart(r) {
		l.pos += 1 + size
		l.identRest()
		l.emit(tokLifetime, start)
		return nil
	}
	return errorAt(l.src, start, "malformed character literal")
}

func (l *lexer) number() {
	hex := strings.HasPrefix(l.rest(), "0x")
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z'):
			l.pos++
			if !hex && (c == 'e' || c == 'E') && (l.peekAt(0) == '+' || l.peekAt(0) == '-') {
				l.pos++
			}
		case c == '.' && '0' <= l.peekAt(1) && l.peekAt(1) <= '9':
			l.pos++
		default:
			return
		}
	}
}
