package rustsrc

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformWithoutMarkers(t *testing.T) {
	src := "use std::fmt;\n\nextern crate proc_macro;\n\nfn helper() -> u32 { 1 }\n"
	res, err := Transform(src)
	require.NoError(t, err)
	assert.Empty(t, res.EntryPoints)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, "#![allow(warnings)]\nuse std::fmt;\n\n\n\nfn helper() -> u32 { 1 }\n", res.Source)
}

func TestTransformBare(t *testing.T) {
	src := `extern crate proc_macro;

use proc_macro::TokenStream;

/// Docs.
#[proc_macro]
pub fn make(input: TokenStream) -> TokenStream {
    input
}
`
	res, err := Transform(src)
	require.NoError(t, err)

	want := []EntryPoint{{Name: "make", Kind: Bare, Attrs: []string{"/// Docs.", "#[proc_macro]"}}}
	if diff := cmp.Diff(want, res.EntryPoints); diff != "" {
		t.Errorf("entry points mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, `#![allow(warnings)]


use proc_macro::TokenStream;

#[no_mangle]
pub extern "C" fn make_inner(input: proc_macro2::TokenStream) -> proc_macro2::TokenStream {
    input
}

#[cfg(not(target_arch = "wasm32"))]
/// Docs.
pub fn make(input: proc_macro2::TokenStream) -> proc_macro2::TokenStream {
    MACRO.proc_macro("make", input)
}
`, res.Source)
}

func TestTransformKinds(t *testing.T) {
	src := `//! Crate docs.
#![deny(missing_docs)]

#[proc_macro_attribute]
pub fn route(args: TokenStream, item: TokenStream) -> TokenStream { item }

#[proc_macro_derive(Builder, attributes(builder))]
pub fn derive_builder(input: TokenStream) -> TokenStream { input }

#[proc_macro_hack]
pub fn hacky(input: TokenStream) -> TokenStream { input }

#[inline]
fn untouched(x: u8) -> u8 { x }
`
	res, err := Transform(src)
	require.NoError(t, err)

	var kinds []Kind
	for _, ep := range res.EntryPoints {
		kinds = append(kinds, ep.Kind)
	}
	assert.Equal(t, []Kind{Attribute, Derive, LegacyHack}, kinds)

	out := res.Source
	assert.True(t, strings.HasPrefix(out, "//! Crate docs.\n#![deny(missing_docs)]\n#![allow(warnings)]\n"))
	assert.Contains(t, out, `pub extern "C" fn route_inner(args: proc_macro2::TokenStream, item: proc_macro2::TokenStream) -> proc_macro2::TokenStream { item }`)
	assert.Contains(t, out, `MACRO.proc_macro_attribute("route", args, input)`)
	assert.Contains(t, out, `MACRO.proc_macro_derive("derive_builder", input)`)
	assert.Contains(t, out, `MACRO.proc_macro("hacky", input)`)
	assert.Contains(t, out, "#[inline]\nfn untouched(x: u8) -> u8 { x }")
	assert.NotContains(t, out, "#[proc_macro")
}

func TestTransformGenericsAndQualifiers(t *testing.T) {
	src := "#[proc_macro]\npub(crate) unsafe fn gen<T: Into<u8>, U>(input: TokenStream) -> TokenStream where T: Copy { input }\n"
	res, err := Transform(src)
	require.NoError(t, err)
	assert.Contains(t, res.Source,
		"#[no_mangle]\npub(crate) unsafe extern \"C\" fn gen_inner<T: Into<u8>, U>(input: proc_macro2::TokenStream) -> proc_macro2::TokenStream where T: Copy { input }")
}

func TestTransformConditionalMarkers(t *testing.T) {
	src := `#[cfg_attr(feature = "x", proc_macro)]
pub fn one(input: TokenStream) -> TokenStream { input }

#[cfg_attr(a, cfg_attr(b, proc_macro))]
pub fn two(input: TokenStream) -> TokenStream { input }
`
	res, err := Transform(src)
	require.NoError(t, err)

	require.Len(t, res.EntryPoints, 1)
	assert.Equal(t, "one", res.EntryPoints[0].Name)
	assert.Equal(t, Bare, res.EntryPoints[0].Kind)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, 4, res.Diagnostics[0].Line)
	assert.Contains(t, res.Diagnostics[0].Message, `"two"`)
	assert.Contains(t, res.Source, "pub fn two(input: TokenStream) -> TokenStream { input }")
}

func TestTransformDuplicateNames(t *testing.T) {
	src := "#[proc_macro]\npub fn twice(input: TokenStream) -> TokenStream { input }\n#[proc_macro]\npub fn twice(input: TokenStream) -> TokenStream { input }\n"
	res, err := Transform(src)
	require.NoError(t, err)
	assert.Len(t, res.EntryPoints, 2)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, 3, res.Diagnostics[0].Line)
	assert.Contains(t, res.Diagnostics[0].Message, "already defined on line 1")
}

func TestTransformIdempotent(t *testing.T) {
	src := "#[proc_macro]\npub fn a(input: TokenStream) -> TokenStream { input }\n\n#[proc_macro_attribute]\npub fn b(args: TokenStream, input: TokenStream) -> TokenStream { input }\n"
	first, err := Transform(src)
	require.NoError(t, err)
	require.Len(t, first.EntryPoints, 2)

	second, err := Transform(first.Source)
	require.NoError(t, err)
	assert.Empty(t, second.EntryPoints)
	assert.Empty(t, second.Diagnostics)
}

func TestTransformParseErrors(t *testing.T) {
	cases := map[string]string{
		"unclosed group":        "fn broken( {",
		"dangling attribute":    "#[proc_macro]",
		"misplaced inner attr":  "fn a() {}\n#![deny(warnings)]\nfn b() {}\n",
		"unterminated string":   "const S: &str = \"open;",
		"unterminated comment":  "/* never closed",
		"missing function body": "#[proc_macro]\npub fn f(input: TokenStream) -> TokenStream",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Transform(src)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Positive(t, perr.Line)
		})
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Transform("fn ok() {}\nfn bad() { ) }\n")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
	assert.Equal(t, 12, perr.Column)
}

func TestLexer(t *testing.T) {
	toks, err := lex(`fn f<'a>(x: &'a str) { let c = 'x'; let r = r#"a "quoted" b"#; let n = 1.5e-3f64; r#type; b'\n' }`)
	require.NoError(t, err)

	var lifetimes, literals []string
	for _, tok := range toks {
		switch tok.kind {
		case tokLifetime:
			lifetimes = append(lifetimes, tok.text)
		case tokLiteral:
			literals = append(literals, tok.text)
		}
	}
	assert.Equal(t, []string{"'a", "'a"}, lifetimes)
	assert.Equal(t, []string{"'x'", `r#"a "quoted" b"#`, "1.5e-3f64", `b'\n'`}, literals)
}

func TestShimRendering(t *testing.T) {
	ep := EntryPoint{Name: "route", Kind: Attribute, Attrs: []string{"#[proc_macro_attribute]"}}
	assert.Equal(t, "route_inner", ep.ExportName())
	assert.Equal(t, `#[proc_macro_attribute]
pub fn route(args: proc_macro::TokenStream, input: proc_macro::TokenStream) -> proc_macro::TokenStream {
    MACRO.proc_macro_attribute("route_inner", args, input)
}
`, ep.HostShim().String())
}

func TestKind(t *testing.T) {
	assert.Equal(t, "proc_macro_derive", Derive.String())
	assert.Equal(t, "proc_macro", LegacyHack.Method())
	assert.Equal(t, 2, Attribute.Arity())
	assert.Equal(t, 1, Bare.Arity())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}

func TestReplacePathPrefix(t *testing.T) {
	src := "extern crate proc_macro;\nuse proc_macro::TokenStream;\nfn f(x: ::proc_macro::TokenStream) -> my::proc_macro::X { \"proc_macro::no\" }\n"
	out, changed, err := ReplacePathPrefix(src, "proc_macro", "proc_macro2")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "extern crate proc_macro;\nuse proc_macro2::TokenStream;\nfn f(x: ::proc_macro2::TokenStream) -> my::proc_macro::X { \"proc_macro::no\" }\n", out)

	out, changed, err = ReplacePathPrefix("fn g() {}\n", "proc_macro", "proc_macro2")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "fn g() {}\n", out)
}
