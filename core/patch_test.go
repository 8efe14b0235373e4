package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intangere/watt_macros/toolchain"
)

type staticMetadata struct {
	md  *Metadata
	err error
}

func (s staticMetadata) Metadata(context.Context, string) (*Metadata, error) {
	return s.md, s.err
}

var procMacroTarget = []Target{{Name: "m", Kind: []string{"proc-macro"}}}

const workspaceManifest = `[package]
name = "app"
version = "0.1.0"

[dependencies]
my-macros = "0.1"
derive-thing = "1.2"
`

func TestPatch(t *testing.T) {
	tc := &fakeToolchain{}
	b := newTestBuilder(t, tc)
	ws := writeCrate(t, t.TempDir(), map[string]string{"Cargo.toml": workspaceManifest, "src/main.rs": "fn main() {}\n"})

	macros := newMacroCrate(t)
	derive := writeCrate(t, t.TempDir(), map[string]string{
		"Cargo.toml": "[package]\nname = \"derive-thing\"\nversion = \"1.2.0\"\n\n[lib]\nproc-macro = true\n",
		"src/lib.rs": "#[proc_macro_derive(Thing)]\npub fn derive_thing(input: TokenStream) -> TokenStream { input }\n",
		"LICENSE":    "MIT",
	})

	md := &Metadata{
		WorkspaceMembers: []string{"app 0.1.0 (path+file:///ws)", "local 0.1.0 (path+file:///ws/local)"},
		Packages: []Package{
			{ID: "app 0.1.0 (path+file:///ws)", Name: "app", Version: "0.1.0", Targets: []Target{{Name: "app", Kind: []string{"bin"}}}},
			{ID: "local 0.1.0 (path+file:///ws/local)", Name: "local", Version: "0.1.0", Targets: procMacroTarget},
			{ID: "my-macros 0.1.0", Name: "my-macros", Version: "0.1.0", ManifestPath: filepath.Join(macros, "Cargo.toml"), Targets: procMacroTarget},
			{ID: "my-macros 0.0.9", Name: "my-macros", Version: "0.0.9", ManifestPath: "/nowhere/Cargo.toml", Targets: procMacroTarget},
			{ID: "my-macros 0.1.0 dup", Name: "my-macros", Version: "0.1.0", ManifestPath: filepath.Join(macros, "Cargo.toml"), Targets: procMacroTarget},
			{ID: "derive-thing 1.2.0", Name: "derive-thing", Version: "1.2.0", ManifestPath: filepath.Join(derive, "Cargo.toml"), Targets: procMacroTarget},
			{ID: "serde 1.0.0", Name: "serde", Version: "1.0.0", Targets: []Target{{Name: "serde", Kind: []string{"lib"}}}},
		},
	}
	p := &Patcher{Builder: b, Metadata: staticMetadata{md: md}, Fetcher: ManifestFetcher{}, Logger: b.Logger}

	report, err := p.Patch(context.Background(), ws, Options{Compress: true})
	require.NoError(t, err)

	var built []string
	for _, pb := range report.Built {
		built = append(built, pb.Package.Name+"@"+pb.Package.Version)
	}
	if diff := cmp.Diff([]string{"derive-thing@1.2.0", "my-macros@0.1.0"}, built); diff != "" {
		t.Errorf("built crates mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "0.0.9", report.Skipped[0].Version)

	for _, name := range []string{"derive-thing", "my-macros"} {
		out := filepath.Join(ws, ".watt-patched", name)
		assert.FileExists(t, filepath.Join(out, "Cargo.toml"))
		assert.FileExists(t, filepath.Join(out, "src", "lib.rs"))
	}
	assert.FileExists(t, filepath.Join(ws, ".watt-patched", "my-macros", "src", "my_macros.wasm.deflate"))
	// patched crates only get the essentials
	assertMissing(t, filepath.Join(ws, ".watt-patched", "derive-thing", "LICENSE"))

	assert.Equal(t, workspaceManifest+`
[patch.crates-io]
derive-thing = { path = "./.watt-patched/derive-thing" }
my-macros = { path = "./.watt-patched/my-macros" }
`, readFile(t, filepath.Join(ws, "Cargo.toml")))
}

func TestPatchWithoutMacros(t *testing.T) {
	tc := &fakeToolchain{}
	b := newTestBuilder(t, tc)
	ws := writeCrate(t, t.TempDir(), map[string]string{"Cargo.toml": workspaceManifest})

	md := &Metadata{Packages: []Package{{ID: "serde", Name: "serde", Version: "1.0.0", Targets: []Target{{Kind: []string{"lib"}}}}}}
	p := &Patcher{Builder: b, Metadata: staticMetadata{md: md}, Fetcher: ManifestFetcher{}, Logger: b.Logger}

	report, err := p.Patch(context.Background(), ws, Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Built)
	assert.Empty(t, tc.commands)
	assert.Equal(t, workspaceManifest, readFile(t, filepath.Join(ws, "Cargo.toml")))
	assertMissing(t, filepath.Join(ws, ".watt-patched"))
}

func TestPatchAbortsOnFailure(t *testing.T) {
	tc := &fakeToolchain{failCargo: true}
	b := newTestBuilder(t, tc)
	ws := writeCrate(t, t.TempDir(), map[string]string{"Cargo.toml": workspaceManifest})
	macros := newMacroCrate(t)

	md := &Metadata{Packages: []Package{
		{ID: "my-macros", Name: "my-macros", Version: "0.1.0", ManifestPath: filepath.Join(macros, "Cargo.toml"), Targets: procMacroTarget},
	}}
	p := &Patcher{Builder: b, Metadata: staticMetadata{md: md}, Fetcher: ManifestFetcher{}, Logger: b.Logger}

	_, err := p.Patch(context.Background(), ws, Options{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindBuild))
	assert.ErrorContains(t, err, "failed to build crate my-macros")
	assert.Equal(t, workspaceManifest, readFile(t, filepath.Join(ws, "Cargo.toml")))
}

func TestPatchMetadataFailure(t *testing.T) {
	b := newTestBuilder(t, &fakeToolchain{})
	p := &Patcher{Builder: b, Metadata: staticMetadata{err: errors.New("no Cargo.toml")}, Fetcher: ManifestFetcher{}, Logger: b.Logger}

	_, err := p.Patch(context.Background(), t.TempDir(), Options{})
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, StageMetadata, e.Stage)
}

type metadataRunner struct {
	fakeToolchain
	output string
}

func (m *metadataRunner) Run(_ context.Context, c toolchain.Command) ([]byte, error) {
	m.commands = append(m.commands, c)
	return []byte(m.output), nil
}

func TestCargoMetadata(t *testing.T) {
	r := &metadataRunner{output: "warning: unused manifest key: package.foo\n" +
		`{"packages":[{"id":"m 1.0.0","name":"m","version":"1.0.0","source":"registry+https://github.com/rust-lang/crates.io-index",` +
		`"manifest_path":"/cargo/registry/src/m-1.0.0/Cargo.toml","targets":[{"name":"m","kind":["proc-macro"]}]}],` +
		`"workspace_members":["app 0.1.0"],"workspace_root":"/ws","version":1}` + "\n"}

	md, err := CargoMetadata{Cargo: "cargo", Runner: r}.Metadata(context.Background(), "/ws")
	require.NoError(t, err)
	require.Len(t, md.Packages, 1)
	assert.True(t, md.Packages[0].IsProcMacro())
	assert.Equal(t, "/ws", md.WorkspaceRoot)
	assert.Equal(t, []string{"app 0.1.0"}, md.WorkspaceMembers)
	assert.Equal(t, []string{"metadata", "--format-version", "1", "--all-features"}, r.commands[0].Args)

	dir, err := ManifestFetcher{}.Fetch(context.Background(), md.Packages[0])
	require.NoError(t, err)
	assert.Equal(t, "/cargo/registry/src/m-1.0.0", dir)

	_, err = decodeMetadata([]byte("error: could not find Cargo.toml"))
	assert.Error(t, err)
}
