package rustsrc

import "strings"

// attr is one attribute or doc comment. first and last are token indices,
// inclusive.
type attr struct {
	first, last int
	inner       bool
	doc         bool
}

type itemKind int

const (
	itemOther itemKind = iota
	itemFn
	itemExternCrate
)

// item is a top-level item: its attributes followed by tokens [start, end).
type item struct {
	attrs      []attr
	start, end int
	kind       itemKind
	fn         *fnItem
	crateName  string // extern crate items
}

// fnItem holds token indices into the enclosing file. Ranges are half open;
// an empty range means the part is absent.
type fnItem struct {
	visStart, visEnd     int
	qualStart, qualEnd   int
	name                 int
	genStart, genEnd     int
	paramsOpen           int
	retStart, retEnd     int
	whereStart, whereEnd int
	bodyStart, bodyEnd   int
}

type file struct {
	src   string
	toks  []token
	close []int // for open tokens, index of the matching close token

	innerAttrs []attr
	items      []*item
}

var closing = map[string]string{"(": ")", "[": "]", "{": "}"}

func parseFile(src string) (*file, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	f := &file{src: src, toks: toks, close: make([]int, len(toks))}
	if err := f.matchGroups(); err != nil {
		return nil, err
	}

	i := 0
	for i < len(toks) {
		a, ok := f.attrAt(i)
		if !ok || !a.inner {
			break
		}
		f.innerAttrs = append(f.innerAttrs, a)
		i = a.last + 1
	}

	for i < len(toks) {
		it := &item{}
		for i < len(toks) {
			a, ok := f.attrAt(i)
			if !ok {
				break
			}
			if a.inner {
				return nil, f.errorf(i, "inner attribute is not permitted here")
			}
			it.attrs = append(it.attrs, a)
			i = a.last + 1
		}
		if i >= len(toks) {
			return nil, f.errorf(len(toks)-1, "expected item after attributes")
		}
		it.start = i
		end, err := f.itemEnd(it)
		if err != nil {
			return nil, err
		}
		it.end = end
		if it.kind == itemFn {
			if it.fn, err = f.parseFn(it.start, it.end); err != nil {
				return nil, err
			}
		}
		f.items = append(f.items, it)
		i = end
	}
	return f, nil
}

func (f *file) errorf(i int, format string, args ...any) error {
	off := len(f.src)
	if i >= 0 && i < len(f.toks) {
		off = f.toks[i].pos
	}
	return errorAt(f.src, off, format, args...)
}

func (f *file) matchGroups() error {
	var stack []int
	for i, t := range f.toks {
		switch t.kind {
		case tokOpen:
			stack = append(stack, i)
		case tokClose:
			if len(stack) == 0 {
				return f.errorf(i, "unexpected %q", t.text)
			}
			open := stack[len(stack)-1]
			if closing[f.toks[open].text] != t.text {
				return f.errorf(i, "mismatched %q, expected %q", t.text, closing[f.toks[open].text])
			}
			f.close[open] = i
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return f.errorf(stack[len(stack)-1], "unclosed %q", f.toks[stack[len(stack)-1]].text)
	}
	return nil
}

// attrAt recognises #[..], #![..] and doc comments at token i.
func (f *file) attrAt(i int) (attr, bool) {
	t := f.toks[i]
	if t.kind == tokDoc {
		return attr{first: i, last: i, inner: t.inner, doc: true}, true
	}
	if !t.is(tokPunct, "#") || i+1 >= len(f.toks) {
		return attr{}, false
	}
	j := i + 1
	inner := false
	if f.toks[j].is(tokPunct, "!") {
		inner = true
		j++
	}
	if j >= len(f.toks) || !f.toks[j].is(tokOpen, "[") {
		return attr{}, false
	}
	return attr{first: i, last: f.close[j], inner: inner}, true
}

// meta returns the token range between the brackets of a non-doc attribute.
func (f *file) meta(a attr) (int, int) {
	open := a.first + 1
	if a.inner {
		open++
	}
	return open + 1, a.last
}

func (f *file) text(first, last int) string {
	return f.src[f.toks[first].pos:f.toks[last].end]
}

func (f *file) span(start, end int) string {
	if start >= end {
		return ""
	}
	return f.text(start, end-1)
}

func (f *file) ident(i int) string {
	if i < len(f.toks) && f.toks[i].kind == tokIdent {
		return f.toks[i].text
	}
	return ""
}

var fnQualifiers = map[string]bool{
	"const": true, "async": true, "unsafe": true, "extern": true, "safe": true, "default": true,
}

// skipVis returns the index after an optional visibility.
func (f *file) skipVis(i int) int {
	if f.ident(i) != "pub" {
		return i
	}
	i++
	if i < len(f.toks) && f.toks[i].is(tokOpen, "(") {
		i = f.close[i] + 1
	}
	return i
}

// itemEnd classifies the item starting at it.start and returns the index
// after its last token. Items end at a top-level ';' or, unless they are
// expression-bearing (const, static, use, ...), at their first top-level
// brace group.
func (f *file) itemEnd(it *item) (int, error) {
	i := f.skipVis(it.start)

	for j := i; j < len(f.toks); j++ {
		word := f.ident(j)
		if word == "fn" {
			it.kind = itemFn
			break
		}
		if !fnQualifiers[word] {
			if word == "" && j > i && f.toks[j].kind == tokLiteral && f.ident(j-1) == "extern" {
				continue
			}
			break
		}
		if word == "extern" && f.ident(j+1) == "crate" {
			it.kind = itemExternCrate
			it.crateName = f.ident(j + 2)
			break
		}
	}

	semicolonOnly := false
	switch f.ident(i) {
	case "use", "static", "type", "let":
		semicolonOnly = true
	case "const":
		semicolonOnly = it.kind != itemFn
	}
	if it.kind == itemExternCrate {
		semicolonOnly = true
	}

	angle := 0
	for j := it.start; j < len(f.toks); j++ {
		t := f.toks[j]
		switch {
		case t.is(tokPunct, ";"):
			return j + 1, nil
		case t.kind == tokOpen:
			if t.text == "{" && angle == 0 && !semicolonOnly {
				return f.close[j] + 1, nil
			}
			j = f.close[j]
		case t.is(tokPunct, "<"):
			angle++
		case t.is(tokPunct, ">") && angle > 0:
			angle--
		case t.kind == tokClose:
			return 0, f.errorf(j, "unexpected %q", t.text)
		}
	}
	return 0, f.errorf(it.start, "unterminated item")
}

func (f *file) parseFn(start, end int) (*fnItem, error) {
	fn := &fnItem{visStart: start}
	i := f.skipVis(start)
	fn.visEnd = i
	fn.qualStart = i
	for f.ident(i) != "fn" {
		i++
	}
	fn.qualEnd = i
	i++

	if f.ident(i) == "" {
		return nil, f.errorf(i, "expected function name")
	}
	fn.name = i
	i++

	fn.genStart, fn.genEnd = i, i
	if i < end && f.toks[i].is(tokPunct, "<") {
		depth := 0
		for ; i < end; i++ {
			t := f.toks[i]
			switch {
			case t.kind == tokOpen:
				i = f.close[i]
			case t.is(tokPunct, "<"):
				depth++
			case t.is(tokPunct, ">"):
				depth--
			}
			if depth == 0 {
				break
			}
		}
		if depth != 0 {
			return nil, f.errorf(fn.genStart, "unclosed generics")
		}
		i++
		fn.genEnd = i
	}

	if i >= end || !f.toks[i].is(tokOpen, "(") {
		return nil, f.errorf(i, "expected function parameters")
	}
	fn.paramsOpen = i
	i = f.close[i] + 1

	fn.retStart, fn.retEnd = i, i
	if i < end && f.toks[i].is(tokPunct, "->") {
		i++
		fn.retStart = i
		angle := 0
		for ; i < end; i++ {
			t := f.toks[i]
			if angle == 0 && (f.ident(i) == "where" || t.is(tokOpen, "{") || t.is(tokPunct, ";")) {
				break
			}
			switch {
			case t.kind == tokOpen:
				i = f.close[i]
			case t.is(tokPunct, "<"):
				angle++
			case t.is(tokPunct, ">") && angle > 0:
				angle--
			}
		}
		fn.retEnd = i
		if fn.retStart == fn.retEnd {
			return nil, f.errorf(i, "expected return type")
		}
	}

	fn.whereStart, fn.whereEnd = i, i
	if f.ident(i) == "where" {
		for i < end && !(f.toks[i].is(tokOpen, "{") || f.toks[i].is(tokPunct, ";")) {
			if f.toks[i].kind == tokOpen {
				i = f.close[i]
			}
			i++
		}
		fn.whereEnd = i
	}

	fn.bodyStart, fn.bodyEnd = i, end
	if i >= end {
		return nil, f.errorf(i, "expected function body")
	}
	return fn, nil
}

// splitTop splits tokens [start, end) at top-level commas, ignoring commas
// nested in groups or generic arguments. Empty trailing parts are dropped.
func (f *file) splitTop(start, end int) [][2]int {
	var parts [][2]int
	from, angle := start, 0
	for i := start; i < end; i++ {
		t := f.toks[i]
		switch {
		case t.kind == tokOpen:
			i = f.close[i]
		case t.is(tokPunct, "<"):
			angle++
		case t.is(tokPunct, ">") && angle > 0:
			angle--
		case t.is(tokPunct, ",") && angle == 0:
			parts = append(parts, [2]int{from, i})
			from = i + 1
		}
	}
	if from < end {
		parts = append(parts, [2]int{from, end})
	}
	return parts
}

// qualifiers returns the fn qualifiers without any extern "abi".
func (f *file) qualifiers(fn *fnItem) []string {
	var quals []string
	for i := fn.qualStart; i < fn.qualEnd; i++ {
		t := f.toks[i]
		if t.is(tokIdent, "extern") || t.kind == tokLiteral {
			continue
		}
		quals = append(quals, t.text)
	}
	return quals
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
