// Package rustsrc rewrites the root module of a proc-macro crate so that it
// can be compiled to wasm and driven through watt.
package rustsrc

import (
	"fmt"
	"strings"
)

const (
	allowWarnings = "#![allow(warnings)]"
	noMangle      = "#[no_mangle]"
	// in-tree shims only make sense next to a dispatch handle, which the
	// wasm build does not have
	shimGate = `#[cfg(not(target_arch = "wasm32"))]`
)

// Diagnostic is a non-fatal finding worth showing to the user.
type Diagnostic struct {
	Line    int
	Message string
}

func (d Diagnostic) String() string { return fmt.Sprintf("line %d: %s", d.Line, d.Message) }

// Result is the outcome of Transform.
type Result struct {
	EntryPoints []EntryPoint
	Source      string
	Diagnostics []Diagnostic
}

// match is a function item that carries an entry point marker.
type match struct {
	item   *item
	kind   Kind
	marker []int // indices into item.attrs holding markers
}

// Transform rewrites the source of a crate root:
//
//	#[proc_macro]
//	pub fn my_macro(input: TokenStream) -> TokenStream { ... }
//
// becomes
//
//	#[no_mangle]
//	pub extern "C" fn my_macro_inner(input: proc_macro2::TokenStream) -> proc_macro2::TokenStream { ... }
//
// plus a shim named my_macro appended at the end of the file that forwards
// to the dispatch handle.
func Transform(src string) (*Result, error) {
	f, err := parseFile(src)
	if err != nil {
		return nil, err
	}
	res := &Result{}

	// first pass: collect
	var matches []match
	seen := map[string]int{}
	for _, it := range f.items {
		if it.kind != itemFn {
			continue
		}
		m, diags := f.classify(it)
		res.Diagnostics = append(res.Diagnostics, diags...)
		if m == nil {
			continue
		}
		name := f.toks[it.fn.name].text
		if line, dup := seen[name]; dup {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Line:    f.line(it),
				Message: fmt.Sprintf("entry point %q is already defined on line %d", name, line),
			})
		}
		seen[name] = f.line(it)
		matches = append(matches, *m)
	}

	// second pass: rebuild
	var out strings.Builder
	cursor := f.writeAllowWarnings(&out)
	next := 0
	var shims []string
	for _, it := range f.items {
		start, end := f.toks[f.itemFirst(it)].pos, f.toks[it.end-1].end
		switch {
		case it.kind == itemExternCrate && it.crateName == "proc_macro":
			out.WriteString(src[cursor:start])
			cursor = end
		case next < len(matches) && matches[next].item == it:
			m := matches[next]
			next++
			out.WriteString(src[cursor:start])
			out.WriteString(f.rewriteFn(it))
			cursor = end

			ep := EntryPoint{Name: f.toks[it.fn.name].text, Kind: m.kind}
			for _, a := range it.attrs {
				ep.Attrs = append(ep.Attrs, f.text(a.first, a.last))
			}
			res.EntryPoints = append(res.EntryPoints, ep)
			shims = append(shims, f.treeShim(ep, m).String())
		}
	}
	out.WriteString(src[cursor:])

	if len(shims) > 0 {
		if !strings.HasSuffix(out.String(), "\n") {
			out.WriteByte('\n')
		}
		for _, s := range shims {
			out.WriteByte('\n')
			out.WriteString(s)
		}
	}
	res.Source = out.String()
	return res, nil
}

func (f *file) itemFirst(it *item) int {
	if len(it.attrs) > 0 {
		return it.attrs[0].first
	}
	return it.start
}

func (f *file) line(it *item) int {
	line, _ := position(f.src, f.toks[f.itemFirst(it)].pos)
	return line
}

// writeAllowWarnings emits everything up to and including the crate's inner
// attributes followed by #![allow(warnings)], and returns the source offset
// copied so far.
func (f *file) writeAllowWarnings(out *strings.Builder) int {
	if n := len(f.innerAttrs); n > 0 {
		end := f.toks[f.innerAttrs[n-1].last].end
		out.WriteString(f.src[:end])
		out.WriteString("\n" + allowWarnings)
		return end
	}
	out.WriteString(allowWarnings + "\n")
	return 0
}

// classify looks for an entry point marker among the attributes of a
// function item. Markers are found directly or inside one cfg_attr.
func (f *file) classify(it *item) (*match, []Diagnostic) {
	var m *match
	var diags []Diagnostic
	for idx, a := range it.attrs {
		if a.doc {
			continue
		}
		start, end := f.meta(a)
		kind, depth, ok := f.marker(start, end, 0)
		if !ok {
			continue
		}
		if depth > 1 {
			diags = append(diags, Diagnostic{
				Line: f.line(it),
				Message: fmt.Sprintf("%s marker on %q is nested in more than one cfg_attr and is ignored",
					kind, f.toks[it.fn.name].text),
			})
			continue
		}
		if m == nil {
			m = &match{item: it, kind: kind}
		}
		m.marker = append(m.marker, idx)
	}
	return m, diags
}

// marker matches a meta item against the four entry point markers. depth is
// the number of cfg_attr wrappers that were unwrapped to find it.
func (f *file) marker(start, end, depth int) (Kind, int, bool) {
	if start >= end {
		return 0, 0, false
	}
	name := f.ident(start)
	hasList := start+1 < end && f.toks[start+1].is(tokOpen, "(")
	bare := start+1 == end

	switch name {
	case "proc_macro":
		if bare {
			return Bare, depth, true
		}
	case "proc_macro_attribute":
		if bare {
			return Attribute, depth, true
		}
	case "proc_macro_derive":
		if hasList {
			return Derive, depth, true
		}
	case "proc_macro_hack":
		if bare || hasList {
			return LegacyHack, depth, true
		}
	case "cfg_attr":
		if !hasList {
			return 0, 0, false
		}
		open := start + 1
		args := f.splitTop(open+1, f.close[open])
		// args[0] is the condition
		if len(args) < 2 {
			return 0, 0, false
		}
		return f.marker(args[1][0], args[1][1], depth+1)
	}
	return 0, 0, false
}

// rewriteFn renders the renamed extern "C" implementation.
func (f *file) rewriteFn(it *item) string {
	fn := it.fn
	var b strings.Builder
	b.WriteString(noMangle)
	b.WriteByte('\n')

	head := joinNonEmpty(
		f.span(fn.visStart, fn.visEnd),
		strings.Join(f.qualifiers(fn), " "),
		`extern "C" fn`,
		f.toks[fn.name].text+InnerSuffix,
	)
	b.WriteString(head)
	b.WriteString(f.span(fn.genStart, fn.genEnd))

	var params []string
	for _, p := range f.splitTop(fn.paramsOpen+1, f.close[fn.paramsOpen]) {
		params = append(params, f.retypeParam(p[0], p[1]))
	}
	b.WriteString("(" + strings.Join(params, ", ") + ")")
	b.WriteString(" -> " + LocalTokenStream)

	if where := f.span(fn.whereStart, fn.whereEnd); where != "" {
		b.WriteString(" " + where)
	}
	b.WriteByte(' ')
	b.WriteString(f.span(fn.bodyStart, fn.bodyEnd))
	return b.String()
}

// retypeParam replaces the type of a `pattern: Type` parameter.
func (f *file) retypeParam(start, end int) string {
	angle := 0
	for i := start; i < end; i++ {
		t := f.toks[i]
		switch {
		case t.kind == tokOpen:
			i = f.close[i]
		case t.is(tokPunct, "<"):
			angle++
		case t.is(tokPunct, ">") && angle > 0:
			angle--
		case t.is(tokPunct, ":") && angle == 0:
			return f.span(start, i) + ": " + LocalTokenStream
		}
	}
	return f.span(start, end)
}

// treeShim is the shim appended to the rewritten crate root. Markers are
// left out: the crate is no longer a proc-macro crate and a shim must not
// be picked up again as an entry point.
func (f *file) treeShim(ep EntryPoint, m match) Shim {
	attrs := []string{shimGate}
	for idx, a := range ep.Attrs {
		if isMarker(m.marker, idx) {
			continue
		}
		attrs = append(attrs, a)
	}
	return Shim{
		Name:        ep.Name,
		Kind:        ep.Kind,
		Tag:         ep.Name,
		Attrs:       attrs,
		TokenStream: LocalTokenStream,
		Handle:      DispatchHandle,
	}
}

func isMarker(markers []int, idx int) bool {
	for _, m := range markers {
		if m == idx {
			return true
		}
	}
	return false
}
