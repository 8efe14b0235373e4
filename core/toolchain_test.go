package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/intangere/watt_macros/manifest"
	"github.com/intangere/watt_macros/toolchain"
)

// fakeToolchain stands in for cargo and the wasm tools. Its "compiler"
// emits a module derived from src/lib.rs, so builds are deterministic and
// any source change shows up in the artifact.
type fakeToolchain struct {
	mu       sync.Mutex
	commands []toolchain.Command
	missing  []string

	noArtifact bool
	failCargo  bool
}

func (f *fakeToolchain) LookPath(name string) (string, error) {
	if slices.Contains(f.missing, name) {
		return "", exec.ErrNotFound
	}
	return "/fake/bin/" + name, nil
}

func (f *fakeToolchain) Run(_ context.Context, c toolchain.Command) ([]byte, error) {
	f.mu.Lock()
	f.commands = append(f.commands, c)
	f.mu.Unlock()

	switch c.Name {
	case "cargo":
		if len(c.Args) > 0 && c.Args[0] == "build" {
			return f.cargoBuild(c)
		}
		return nil, nil
	case "wasm-strip":
		return nil, appendTo(c.Args[0], "+strip")
	case "wasm-opt":
		return nil, appendTo(c.Args[len(c.Args)-1], "+opt")
	}
	return nil, nil
}

func (f *fakeToolchain) cargoBuild(c toolchain.Command) ([]byte, error) {
	if f.failCargo {
		out := []byte("error[E0425]: cannot find value `x` in this scope")
		return out, &toolchain.ExitError{Command: c, Code: 101, Output: out}
	}
	doc, err := manifest.Load(filepath.Join(c.Dir, "Cargo.toml"))
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(filepath.Join(c.Dir, "src", "lib.rs"))
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(c.Dir, "Cargo.lock"), []byte("# lock\n"), 0o644); err != nil {
		return nil, err
	}
	if f.noArtifact {
		return nil, nil
	}

	targetDir := c.Args[slices.Index(c.Args, "--target-dir")+1]
	release := filepath.Join(targetDir, "wasm32-unknown-unknown", "release")
	if err := os.MkdirAll(release, 0o755); err != nil {
		return nil, err
	}
	module := append([]byte("\x00asm"), src...)
	name := manifest.NormalizedName(manifest.PackageName(doc))
	return []byte("Finished release"), os.WriteFile(filepath.Join(release, name+".wasm"), module, 0o644)
}

func appendTo(path, suffix string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(suffix); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (f *fakeToolchain) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.commands {
		out = append(out, strings.TrimSpace(c.Name+" "+firstArg(c)))
	}
	return out
}

func firstArg(c toolchain.Command) string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

func newTestBuilder(t *testing.T, tc *fakeToolchain) *Builder {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WorkRoot = t.TempDir()
	cfg.CargoHome = "/home/user/.cargo"
	return NewBuilder(cfg, tc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const macroManifest = `[package]
name = "my-macros"
version = "0.1.0"
edition = "2018"

[lib]
proc-macro = true

[dependencies]
syn = "1.0"
quote = "1.0"
proc-macro2 = "1.0"
`

const macroSource = `extern crate proc_macro;

use proc_macro::TokenStream;

/// Makes things.
#[proc_macro]
pub fn make(input: TokenStream) -> TokenStream {
    input
}

#[proc_macro_attribute]
pub fn route(args: TokenStream, item: TokenStream) -> TokenStream {
    let _ = args;
    item
}

fn helper() {}
`

func writeCrate(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func newMacroCrate(t *testing.T) string {
	t.Helper()
	return writeCrate(t, t.TempDir(), map[string]string{
		"Cargo.toml":     macroManifest,
		"Cargo.lock":     "# original lock\n",
		"src/lib.rs":     macroSource,
		"src/helpers.rs": "pub fn ts() -> proc_macro::TokenStream { unimplemented!() }\n",
		"README.md":      "# my-macros\n",
	})
}
