package rustsrc

import (
	"fmt"
	"strings"
)

// Kind is the flavour of a proc-macro entry point.
type Kind int

const (
	Bare       Kind = iota // #[proc_macro]
	Derive                 // #[proc_macro_derive(Trait)]
	Attribute              // #[proc_macro_attribute]
	LegacyHack             // #[proc_macro_hack]
)

// shimRule is how a shim of one kind calls into the dispatch handle.
type shimRule struct {
	marker string
	method string
	params []string
}

var rules = [...]shimRule{
	Bare:       {marker: "proc_macro", method: "proc_macro", params: []string{"input"}},
	Derive:     {marker: "proc_macro_derive", method: "proc_macro_derive", params: []string{"input"}},
	Attribute:  {marker: "proc_macro_attribute", method: "proc_macro_attribute", params: []string{"args", "input"}},
	LegacyHack: {marker: "proc_macro_hack", method: "proc_macro", params: []string{"input"}},
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(rules) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return rules[k].marker
}

// Method is the dispatch handle method the shim calls.
func (k Kind) Method() string { return rules[k].method }

// Arity is the number of token stream arguments the entry point takes.
func (k Kind) Arity() int { return len(rules[k].params) }

const (
	// PluginTokenStream is the compiler provided token stream type.
	PluginTokenStream = "proc_macro::TokenStream"
	// LocalTokenStream is the token stream type usable inside wasm.
	LocalTokenStream = "proc_macro2::TokenStream"
	// DispatchHandle is the static that routes calls into the wasm module.
	DispatchHandle = "MACRO"
	// InnerSuffix is appended to the renamed implementation.
	InnerSuffix = "_inner"
)

// Shim is a forwarding function for one entry point.
type Shim struct {
	Name        string
	Kind        Kind
	Tag         string // name passed to the dispatch handle
	Attrs       []string
	TokenStream string
	Handle      string
}

func (s Shim) String() string {
	var b strings.Builder
	for _, a := range s.Attrs {
		b.WriteString(a)
		b.WriteByte('\n')
	}
	rule := rules[s.Kind]
	params := make([]string, len(rule.params))
	for i, p := range rule.params {
		params[i] = p + ": " + s.TokenStream
	}
	fmt.Fprintf(&b, "pub fn %s(%s) -> %s {\n", s.Name, strings.Join(params, ", "), s.TokenStream)
	fmt.Fprintf(&b, "    %s.%s(%q, %s)\n", s.Handle, rule.method, s.Tag, strings.Join(rule.params, ", "))
	b.WriteString("}\n")
	return b.String()
}

// EntryPoint is a proc-macro function found in the crate root.
type EntryPoint struct {
	Name  string
	Kind  Kind
	Attrs []string // original attributes, verbatim and in order
}

// ExportName is the wasm export that implements the entry point.
func (e EntryPoint) ExportName() string { return e.Name + InnerSuffix }

// HostShim is the shim for the generated host crate. It keeps every
// original attribute, so the host exposes the same macros.
func (e EntryPoint) HostShim() Shim {
	return Shim{
		Name:        e.Name,
		Kind:        e.Kind,
		Tag:         e.ExportName(),
		Attrs:       e.Attrs,
		TokenStream: PluginTokenStream,
		Handle:      DispatchHandle,
	}
}
