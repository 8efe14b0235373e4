package rustsrc

import "strings"

// ReplacePathPrefix renames the leading segment of every path that starts
// with from, so that `from::x` and `::from::x` become `to::x`. Literals,
// comments and paths where from is not the first segment are left alone.
// It reports whether anything changed.
func ReplacePathPrefix(src, from, to string) (string, bool, error) {
	toks, err := lex(src)
	if err != nil {
		return "", false, err
	}
	var out strings.Builder
	cursor := 0
	for i, t := range toks {
		if !t.is(tokIdent, from) || i+1 >= len(toks) || !toks[i+1].is(tokPunct, "::") {
			continue
		}
		if i > 0 && toks[i-1].is(tokPunct, "::") && i > 1 && continuesPath(toks[i-2]) {
			continue
		}
		out.WriteString(src[cursor:t.pos])
		out.WriteString(to)
		cursor = t.end
	}
	if cursor == 0 {
		return src, false, nil
	}
	out.WriteString(src[cursor:])
	return out.String(), true, nil
}

// continuesPath reports whether a `::` after t extends an existing path
// rather than starting an absolute one.
func continuesPath(t token) bool {
	switch t.kind {
	case tokIdent:
		switch t.text {
		case "use", "pub", "as", "in", "return", "let", "mut", "ref", "dyn", "impl", "where", "for", "if", "match", "else":
			return false
		}
		return true
	case tokPunct:
		return t.text == ">"
	case tokClose:
		return t.text != "}"
	}
	return false
}
