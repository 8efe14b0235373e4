// Package core drives the conversion of a proc-macro crate into a watt host
// crate: compiling to wasm, assembling the host crate, patching workspaces
// and verifying published artifacts.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/intangere/watt_macros/helpers"
	"github.com/intangere/watt_macros/manifest"
	"github.com/intangere/watt_macros/rustsrc"
	"github.com/intangere/watt_macros/toolchain"
)

const (
	wasmTarget   = "wasm32-unknown-unknown"
	manifestFile = "Cargo.toml"
	lockFile     = "Cargo.lock"
	hostLockFile = "Cargo.watt.lock"
)

// Options control a single build.
type Options struct {
	Strip    bool
	Optimize bool
	Compress bool

	Overwrite     bool
	EssentialOnly bool
	// OutputDir defaults to <name>-<suffix> in the current directory.
	OutputDir string
	// Format runs cargo fmt on the generated crate.
	Format bool
}

// Builder compiles macro crates to wasm and assembles host crates.
type Builder struct {
	Config *Config
	Runner toolchain.Runner
	Logger *slog.Logger
}

func NewBuilder(cfg *Config, runner toolchain.Runner, logger *slog.Logger) *Builder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{Config: cfg, Runner: runner, Logger: logger}
}

// Compiled is a crate compiled to wasm.
type Compiled struct {
	Package     string
	Manifest    *manifest.Document // the original, validated manifest
	EntryPoints []rustsrc.EntryPoint
	Diagnostics []rustsrc.Diagnostic
	Wasm        []byte
	Lock        []byte // lock file of the wasm build, nil if none was written
}

// Result describes a generated host crate.
type Result struct {
	Package      string
	OutputDir    string
	Artifact     string
	EntryPoints  []rustsrc.EntryPoint
	WasmSize     int
	EmbeddedSize int
}

// Compile converts an isolated copy of the crate at dir and compiles it to
// wasm. dir itself is never modified.
func (b *Builder) Compile(ctx context.Context, dir string, opts Options) (*Compiled, error) {
	const op = "compile"
	if err := b.requireTools(op, opts); err != nil {
		return nil, err
	}
	doc, name, err := loadManifest(op, dir)
	if err != nil {
		return nil, err
	}
	return b.compile(ctx, op, dir, doc, name, opts)
}

// Build compiles the crate at dir and writes the host crate. The output
// directory only appears once every step has succeeded.
func (b *Builder) Build(ctx context.Context, dir string, opts Options) (*Result, error) {
	const op = "build"
	if err := b.requireTools(op, opts); err != nil {
		return nil, err
	}
	doc, name, err := loadManifest(op, dir)
	if err != nil {
		return nil, err
	}

	out := opts.OutputDir
	if out == "" {
		out = name + "-" + b.Config.OutputSuffix
	}
	exists, err := helpers.Exists(out)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindPrecondition, Package: name, Err: err}
	}
	if exists {
		if !opts.Overwrite {
			return nil, &Error{Op: op, Kind: KindPrecondition, Package: name,
				Err: fmt.Errorf("%s already exists, use --overwrite to replace it", out)}
		}
		if err := os.RemoveAll(out); err != nil {
			return nil, &Error{Op: op, Kind: KindPrecondition, Package: name, Err: err}
		}
	}

	compiled, err := b.compile(ctx, op, dir, doc, name, opts)
	if err != nil {
		return nil, err
	}

	assembleErr := func(err error) error {
		return &Error{Op: op, Kind: KindBuild, Package: name, Stage: StageAssemble, Err: err}
	}
	staging, err := helpers.StagingDir(out)
	if err != nil {
		return nil, assembleErr(err)
	}
	res, err := b.assemble(staging, dir, out, compiled, opts)
	if err != nil {
		os.RemoveAll(staging)
		return nil, assembleErr(err)
	}
	if err := helpers.Publish(staging, out); err != nil {
		os.RemoveAll(staging)
		return nil, assembleErr(err)
	}
	res.OutputDir = out
	res.Artifact = filepath.Join(out, "src", res.Artifact)

	log := b.Logger.With("package", name)
	if opts.Format {
		if _, err := b.Runner.Run(ctx, toolchain.Command{Name: b.Config.Cargo, Args: []string{"fmt"}, Dir: out}); err != nil {
			log.Warn("failed to format generated crate", "path", out, "error", err)
		}
	}
	log.Info("generated crate", "path", out, "wasm_bytes", res.WasmSize, "embedded_bytes", res.EmbeddedSize)
	return res, nil
}

func (b *Builder) requireTools(op string, opts Options) error {
	tools := []string{b.Config.Cargo}
	if opts.Strip {
		tools = append(tools, b.Config.WasmStrip)
	}
	if opts.Optimize {
		tools = append(tools, b.Config.WasmOpt)
	}
	if err := toolchain.Require(b.Runner, tools...); err != nil {
		return &Error{Op: op, Kind: KindPrecondition, Err: err}
	}
	return nil
}

func loadManifest(op, dir string) (*manifest.Document, string, error) {
	doc, err := manifest.Load(filepath.Join(dir, manifestFile))
	if err != nil {
		kind := KindPrecondition
		var perr *manifest.ParseError
		if errors.As(err, &perr) {
			kind = KindParse
		}
		return nil, "", &Error{Op: op, Kind: kind, Stage: StageLoad, Err: err}
	}
	name := manifest.PackageName(doc)
	if err := manifest.Validate(doc); err != nil {
		return nil, "", &Error{Op: op, Kind: KindValidation, Package: name, Stage: StageLoad, Err: err}
	}
	return doc, name, nil
}

func (b *Builder) compile(ctx context.Context, op, dir string, doc *manifest.Document, name string, opts Options) (*Compiled, error) {
	log := b.Logger.With("package", name)
	fail := func(kind ErrorKind, stage string, err error) error {
		return &Error{Op: op, Kind: kind, Package: name, Stage: stage, Err: err}
	}

	work, err := os.MkdirTemp(b.Config.WorkRoot, "wattify-"+name+"-")
	if err != nil {
		return nil, fail(KindBuild, StagePrepare, err)
	}
	ok := false
	defer func() {
		if ok {
			os.RemoveAll(work)
			return
		}
		log.Info("working copy kept for inspection", "path", work)
	}()

	res, err := b.prepare(dir, work, doc)
	if err != nil {
		var perr *rustsrc.ParseError
		if errors.As(err, &perr) {
			return nil, fail(KindParse, StagePrepare, err)
		}
		return nil, fail(KindBuild, StagePrepare, err)
	}
	for _, d := range res.Diagnostics {
		log.Warn("source transform", "line", d.Line, "message", d.Message)
	}

	targetDir := b.Config.TargetDir
	if targetDir == "" {
		targetDir = filepath.Join(work, "target")
	}
	rustflags := []string{fmt.Sprintf("--remap-path-prefix=%s=/watt/%s", work, name)}
	if b.Config.CargoHome != "" {
		rustflags = append(rustflags, fmt.Sprintf("--remap-path-prefix=%s=/cargo", b.Config.CargoHome))
	}
	// flags are \x1f separated so paths may contain spaces
	cargo := toolchain.Command{
		Name: b.Config.Cargo,
		Args: []string{"build", "--release", "--target", wasmTarget, "--target-dir", targetDir},
		Dir:  work,
		Env:  []string{"CARGO_ENCODED_RUSTFLAGS=" + strings.Join(rustflags, "\x1f")},
	}

	log.Info("compiling crate", "stage", StageCompile, "path", work)
	start := time.Now()
	if _, err := b.Runner.Run(ctx, cargo); err != nil {
		return nil, fail(KindBuild, StageCompile, err)
	}
	log.Info("compiled crate", "stage", StageCompile, "elapsed", time.Since(start).Round(100*time.Millisecond))

	artifact := filepath.Join(targetDir, wasmTarget, "release", manifest.NormalizedName(name)+".wasm")
	if _, err := os.Stat(artifact); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fail(KindArtifactNotFound, StageCompile, fmt.Errorf("%s: %w", artifact, fs.ErrNotExist))
		}
		return nil, fail(KindBuild, StageCompile, err)
	}

	if opts.Strip {
		if _, err := b.Runner.Run(ctx, toolchain.Command{Name: b.Config.WasmStrip, Args: []string{artifact}, Dir: work}); err != nil {
			return nil, fail(KindBuild, StageStrip, err)
		}
	}
	if opts.Optimize {
		if _, err := b.Runner.Run(ctx, toolchain.Command{Name: b.Config.WasmOpt, Args: []string{"-Oz", artifact, "-o", artifact}, Dir: work}); err != nil {
			return nil, fail(KindBuild, StageOptimize, err)
		}
	}

	wasm, err := os.ReadFile(artifact)
	if err != nil {
		return nil, fail(KindBuild, StageCompile, err)
	}
	lock, err := os.ReadFile(filepath.Join(work, lockFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fail(KindBuild, StageCompile, err)
	}

	ok = true
	return &Compiled{
		Package:     name,
		Manifest:    doc,
		EntryPoints: res.EntryPoints,
		Diagnostics: res.Diagnostics,
		Wasm:        wasm,
		Lock:        lock,
	}, nil
}

// prepare copies the crate into work and rewrites the copy for the wasm
// build.
func (b *Builder) prepare(dir, work string, doc *manifest.Document) (*rustsrc.Result, error) {
	if err := helpers.CopyAll(dir, work, helpers.SkipNames("target", ".git", b.Config.PatchDir)); err != nil {
		return nil, fmt.Errorf("copy crate: %w", err)
	}
	// the lock file was resolved without the redirects
	if err := os.Remove(filepath.Join(work, lockFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	wdoc, err := manifest.Load(filepath.Join(work, manifestFile))
	if err != nil {
		return nil, err
	}
	if err := manifest.ForWasmCompile(wdoc); err != nil {
		return nil, err
	}
	if err := wdoc.WriteFile(filepath.Join(work, manifestFile)); err != nil {
		return nil, err
	}

	libPath := filepath.Join("src", "lib.rs")
	if p, ok := doc.GetString("lib", "path"); ok && p != "" {
		libPath = filepath.FromSlash(p)
	}
	libFile := filepath.Join(work, libPath)
	src, err := os.ReadFile(libFile)
	if err != nil {
		return nil, err
	}
	res, err := rustsrc.Transform(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", libPath, err)
	}
	if err := os.WriteFile(libFile, []byte(res.Source), 0o644); err != nil {
		return nil, err
	}

	err = filepath.WalkDir(work, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !helpers.HasExtension(path, "rs") {
			return err
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out, changed, err := rustsrc.ReplacePathPrefix(string(text), "proc_macro", "proc_macro2")
		if err != nil {
			rel, _ := filepath.Rel(work, path)
			return fmt.Errorf("%s:%w", rel, err)
		}
		if !changed {
			return nil
		}
		return os.WriteFile(path, []byte(out), 0o644)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
