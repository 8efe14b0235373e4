package manifest

import (
	"errors"
	"strings"

	"github.com/pelletier/go-toml/v2/unstable"
)

type entryKind int

const (
	entryTrivia entryKind = iota // blank line or comment
	entryHeader
	entryArrayHeader
	entryKeyValue
)

// entry is one statement of the document. raw is always the exact text that
// Bytes writes back; the other fields are views into it.
type entry struct {
	kind  entryKind
	raw   string
	table []string // header path, or the table a key/value belongs to
	key   []string // dotted key relative to table

	indent  string
	keyText string
	sep     string // text between key and value, usually " = "
	value   string
	trailer string // whitespace, comment and line break after the value
}

func (e *entry) path() []string {
	p := make([]string, 0, len(e.table)+len(e.key))
	p = append(p, e.table...)
	return append(p, e.key...)
}

func (e *entry) rebuild() {
	e.raw = e.indent + e.keyText + e.sep + e.value + e.trailer
}

func (e *entry) endsLine() bool {
	return strings.HasSuffix(e.raw, "\n")
}

// statement is a top-level expression reported by the parser. start is the
// beginning of its line.
type statement struct {
	start   int
	kind    entryKind
	keys    []string
	keyFrom int
	keyTo   int
	comment int // offset of a trailing comment, or -1
}

func parseEntries(filename, src string) ([]*entry, error) {
	stmts, err := statements(filename, src)
	if err != nil {
		return nil, err
	}

	var entries []*entry
	trivia := func(text string) {
		for _, line := range lines(text) {
			entries = append(entries, &entry{kind: entryTrivia, raw: line})
		}
	}

	if len(stmts) == 0 {
		trivia(src)
		return entries, nil
	}
	trivia(src[:stmts[0].start])

	var table []string
	for i, st := range stmts {
		end := len(src)
		if i+1 < len(stmts) {
			end = stmts[i+1].start
		}
		// blank lines after the statement belong to nobody
		body, tail := splitTail(src[st.start:end])
		stop := st.start + len(body)

		switch st.kind {
		case entryTrivia:
			entries = append(entries, &entry{kind: entryTrivia, raw: body})
		case entryHeader, entryArrayHeader:
			table = st.keys
			entries = append(entries, &entry{kind: st.kind, raw: body, table: st.keys})
		case entryKeyValue:
			valueFrom := st.keyTo
			for valueFrom < stop && (src[valueFrom] == ' ' || src[valueFrom] == '\t' || src[valueFrom] == '=') {
				valueFrom++
			}
			valueTo := stop
			if st.comment >= 0 {
				valueTo = st.comment
			}
			valueTo = valueFrom + len(strings.TrimRight(src[valueFrom:valueTo], " \t\r\n"))
			entries = append(entries, &entry{
				kind:    entryKeyValue,
				raw:     body,
				table:   append([]string(nil), table...),
				key:     st.keys,
				indent:  src[st.start:st.keyFrom],
				keyText: src[st.keyFrom:st.keyTo],
				sep:     src[st.keyTo:valueFrom],
				value:   src[valueFrom:valueTo],
				trailer: src[valueTo:stop],
			})
		}
		trivia(tail)
	}
	return entries, nil
}

// statements runs the go-toml parser over src and records where each
// top-level expression sits.
func statements(filename, src string) ([]statement, error) {
	data := []byte(src)
	p := unstable.Parser{KeepComments: true}
	p.Reset(data)

	var out []statement
	for p.NextExpression() {
		expr := p.Expression()
		st := statement{comment: -1}

		switch expr.Kind {
		case unstable.Comment:
			st.kind = entryTrivia
			st.start = lineStart(src, int(expr.Raw.Offset))
			out = append(out, st)
			continue
		case unstable.Table:
			st.kind = entryHeader
		case unstable.ArrayTable:
			st.kind = entryArrayHeader
		case unstable.KeyValue:
			st.kind = entryKeyValue
		default:
			continue
		}

		it := expr.Key()
		first := true
		for it.Next() {
			k := it.Node()
			if first {
				st.keyFrom = int(k.Raw.Offset)
				first = false
			}
			st.keyTo = int(k.Raw.Offset + k.Raw.Length)
			st.keys = append(st.keys, string(k.Data))
		}
		st.start = lineStart(src, st.keyFrom)
		if c := expr.Next(); c != nil && c.Kind == unstable.Comment {
			st.comment = int(c.Raw.Offset)
		}
		out = append(out, st)
	}
	if err := p.Error(); err != nil {
		perr := &ParseError{Filename: filename, Line: 1, Column: 1, Err: err}
		var pe *unstable.ParserError
		if errors.As(err, &pe) && len(pe.Highlight) > 0 {
			shape := p.Shape(p.Range(pe.Highlight))
			perr.Line, perr.Column = shape.Start.Line, shape.Start.Column
		}
		return nil, perr
	}
	return out, nil
}

func lineStart(src string, at int) int {
	return strings.LastIndexByte(src[:at], '\n') + 1
}

// lines splits text after each line break.
func lines(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.SplitAfter(text, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// splitTail separates the whitespace-only lines at the end of text.
func splitTail(text string) (string, string) {
	ls := lines(text)
	n := len(ls)
	for n > 1 && strings.TrimSpace(ls[n-1]) == "" {
		n--
	}
	body := strings.Join(ls[:n], "")
	return body, text[len(body):]
}
