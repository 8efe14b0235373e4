package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intangere/watt_macros/toolchain"
)

// stubRunner pretends to be cargo: a build drops a fixed module where cargo
// would put it.
type stubRunner struct {
	missing   string
	failBuild bool
	commands  []toolchain.Command
}

func (s *stubRunner) LookPath(name string) (string, error) {
	if name == s.missing {
		return "", exec.ErrNotFound
	}
	return "/usr/bin/" + name, nil
}

func (s *stubRunner) Run(_ context.Context, c toolchain.Command) ([]byte, error) {
	s.commands = append(s.commands, c)
	if c.Name != "cargo" || len(c.Args) == 0 || c.Args[0] != "build" {
		return nil, nil
	}
	if s.failBuild {
		out := []byte("error: could not compile `demo-macros`")
		return out, &toolchain.ExitError{Command: c, Code: 101, Output: out}
	}
	var targetDir string
	for i, arg := range c.Args {
		if arg == "--target-dir" {
			targetDir = c.Args[i+1]
		}
	}
	release := filepath.Join(targetDir, "wasm32-unknown-unknown", "release")
	if err := os.MkdirAll(release, 0o755); err != nil {
		return nil, err
	}
	return nil, os.WriteFile(filepath.Join(release, "demo_macros.wasm"), []byte("\x00asm\x01\x00\x00\x00"), 0o644)
}

func setup(t *testing.T) (string, string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CARGO_TARGET_DIR", "")

	crate := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(crate, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(crate, "Cargo.toml"), []byte(`[package]
name = "demo-macros"
version = "0.1.0"

[lib]
proc-macro = true
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(crate, "src", "lib.rs"), []byte(`use proc_macro::TokenStream;

#[proc_macro_derive(Demo)]
pub fn derive_demo(input: TokenStream) -> TokenStream {
    input
}
`), 0o644))

	config := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(config, []byte("[paths]\nwork-root = "+t.TempDir()+"\n"), 0o644))
	return crate, config
}

func newTestApp(r toolchain.Runner) (*app, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	a := newApp(out, errOut)
	a.runner = r
	return a, out, errOut
}

func TestBuildCommand(t *testing.T) {
	crate, config := setup(t)
	output := filepath.Join(t.TempDir(), "demo-watt")
	r := &stubRunner{}
	a, out, _ := newTestApp(r)

	err := run(a, []string{"build", crate, "--config", config, "--output", output, "--strip", "--essential-only"})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "generated "+output)
	assert.Contains(t, out.String(), "proc_macro_derive derive_demo")
	assert.FileExists(t, filepath.Join(output, "src", "demo_macros.wasm"))
	assert.FileExists(t, filepath.Join(output, "src", "lib.rs"))

	var names []string
	for _, c := range r.commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"cargo", "wasm-strip"}, names)

	// a second run refuses to clobber the output
	err = run(a, []string{"build", crate, "--config", config, "--output", output})
	assert.ErrorContains(t, err, "--overwrite")
	require.NoError(t, run(a, []string{"build", crate, "--config", config, "--output", output, "--overwrite"}))
}

func TestBuildCommandMissingTool(t *testing.T) {
	crate, config := setup(t)
	a, _, _ := newTestApp(&stubRunner{missing: "wasm-opt"})

	err := run(a, []string{"build", crate, "--config", config, "--optimize"})
	assert.ErrorContains(t, err, "wasm-opt")
}

func TestBuildCommandConflictingSources(t *testing.T) {
	crate, config := setup(t)
	r := &stubRunner{}
	a, _, _ := newTestApp(r)

	err := run(a, []string{"build", crate, "--config", config, "--crate", "serde_derive"})
	assert.Error(t, err)
	assert.Empty(t, r.commands)
}

func TestVerifyCommand(t *testing.T) {
	crate, config := setup(t)
	artifact := filepath.Join(t.TempDir(), "demo_macros.wasm")
	require.NoError(t, os.WriteFile(artifact, []byte("\x00asm\x01\x00\x00\x00"), 0o644))
	a, out, _ := newTestApp(&stubRunner{})

	require.NoError(t, run(a, []string{"verify", artifact, crate, "--config", config}))
	assert.Contains(t, out.String(), "matches")

	require.NoError(t, os.WriteFile(artifact, []byte("\x00asm\x02"), 0o644))
	err := run(a, []string{"verify", artifact, crate, "--config", config})
	assert.ErrorContains(t, err, "wasn't compiled from")
}

func TestLogFlags(t *testing.T) {
	crate, config := setup(t)
	a, _, errOut := newTestApp(&stubRunner{})

	err := run(a, []string{"build", crate, "--config", config, "--output", filepath.Join(t.TempDir(), "out"), "--log-format", "json"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(errOut.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		assert.NotEqual(t, "DEBUG", rec["level"])
	}
	assert.Equal(t, "json", a.cfg.LogFormat)
}

func TestReportLogsFailure(t *testing.T) {
	crate, config := setup(t)
	a, _, errOut := newTestApp(&stubRunner{failBuild: true})

	err := run(a, []string{"build", crate, "--config", config, "--output", filepath.Join(t.TempDir(), "out"), "--log-format", "json"})
	require.Error(t, err)
	a.report(err)

	var failed map[string]any
	var plain []string
	for _, line := range strings.Split(strings.TrimSpace(errOut.String()), "\n") {
		var rec map[string]any
		if json.Unmarshal([]byte(line), &rec) != nil {
			plain = append(plain, line)
			continue
		}
		if rec["msg"] == "command failed" {
			failed = rec
		}
	}
	require.NotNil(t, failed, errOut.String())
	assert.Equal(t, "ERROR", failed["level"])
	assert.Equal(t, "demo-macros", failed["package"])
	assert.Equal(t, "compile", failed["stage"])
	assert.Equal(t, "build", failed["kind"])
	assert.Contains(t, failed["error"], "could not compile")

	// the coloured line is still printed after the log record
	require.NotEmpty(t, plain)
	assert.Contains(t, plain[0], "error: ")
	assert.Contains(t, plain[0], "exit status 101")
}

func TestReportWithoutLogger(t *testing.T) {
	a, _, errOut := newTestApp(&stubRunner{})

	err := run(a, []string{"build", "--config", filepath.Join(t.TempDir(), "missing", "config.ini")})
	require.Error(t, err)
	a.report(err)

	assert.Nil(t, a.log)
	assert.Equal(t, 1, strings.Count(errOut.String(), "\n"))
	assert.Contains(t, errOut.String(), "error: ")
}

func TestHelp(t *testing.T) {
	a, out, _ := newTestApp(&stubRunner{})
	require.NoError(t, run(a, []string{"--help"}))
	for _, sub := range []string{"build", "verify", "patch"} {
		assert.Contains(t, out.String(), sub)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger("warn", "text", &buf)
	log.Info("hidden")
	log.Warn("shown", "package", "demo")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "package=demo")

	buf.Reset()
	log = newLogger("bogus", "json", &buf)
	log.Debug("hidden")
	log.Info("shown")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
	assert.NotContains(t, buf.String(), "hidden")
}
