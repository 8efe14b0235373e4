package core

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/klauspost/compress/flate"

	"github.com/intangere/watt_macros/helpers"
	"github.com/intangere/watt_macros/manifest"
	"github.com/intangere/watt_macros/rustsrc"
)

var libTemplate = template.Must(template.New("lib.rs").Parse(`// Generated by wattify from {{.Package}}.

{{if .Compress -}}
extern crate once_cell;

use once_cell::sync::Lazy;

static WASM: Lazy<Vec<u8>> = Lazy::new(|| {
    miniz_oxide::inflate::decompress_to_vec(include_bytes!("{{.File}}")).expect("failed to decompress wasm")
});
static MACRO: Lazy<watt::WasmMacro> = Lazy::new(|| watt::WasmMacro::new(&WASM));
{{- else -}}
static WASM: &[u8] = include_bytes!("{{.File}}");
static MACRO: watt::WasmMacro = watt::WasmMacro::new(WASM);
{{- end}}
{{if .LegacyHack}}
use proc_macro_hack::proc_macro_hack;
{{end}}
{{- range .Shims}}
{{.}}{{end}}`))

type libData struct {
	Package    string
	File       string
	Compress   bool
	LegacyHack bool
	Shims      []string
}

// hostLib renders src/lib.rs of the host crate.
func hostLib(pkg, file string, eps []rustsrc.EntryPoint, compress bool) (string, error) {
	data := libData{Package: pkg, File: file, Compress: compress}
	for _, ep := range eps {
		if ep.Kind == rustsrc.LegacyHack {
			data.LegacyHack = true
		}
		data.Shims = append(data.Shims, ep.HostShim().String())
	}
	var buf strings.Builder
	if err := libTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// deflate compresses the module for miniz_oxide::inflate::decompress_to_vec,
// which expects a raw deflate stream.
func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// artifactName is the file the host crate embeds.
func artifactName(pkg string, compress bool) string {
	name := manifest.NormalizedName(pkg) + ".wasm"
	if compress {
		name += ".deflate"
	}
	return name
}

// assemble writes the host crate into staging. out is where it will be
// published, so it is left out when it lies inside dir.
func (b *Builder) assemble(staging, dir, out string, c *Compiled, opts Options) (*Result, error) {
	log := b.Logger.With("package", c.Package, "stage", StageAssemble)

	if !opts.EssentialOnly {
		skip := []string{"target", ".git", "src", manifestFile, lockFile, b.Config.PatchDir}
		for _, p := range []string{out, staging} {
			if rel, ok := within(dir, p); ok {
				skip = append(skip, rel)
			}
		}
		if err := helpers.CopyAll(dir, staging, helpers.SkipNames(skip...)); err != nil {
			return nil, err
		}
	}

	doc := c.Manifest
	warned, err := manifest.ForHostPackage(doc, opts.Compress)
	if err != nil {
		return nil, err
	}
	if warned {
		log.Warn("features aren't supported by watt, the crate is compiled with all of them enabled")
	}
	if err := doc.WriteFile(filepath.Join(staging, manifestFile)); err != nil {
		return nil, err
	}

	src := filepath.Join(staging, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		return nil, err
	}

	file := artifactName(c.Package, opts.Compress)
	payload := c.Wasm
	if opts.Compress {
		if payload, err = deflate(c.Wasm); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(filepath.Join(src, file), payload, 0o644); err != nil {
		return nil, err
	}

	lib, err := hostLib(c.Package, file, c.EntryPoints, opts.Compress)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(src, "lib.rs"), []byte(lib), 0o644); err != nil {
		return nil, err
	}

	if c.Lock != nil {
		if err := os.WriteFile(filepath.Join(staging, hostLockFile), c.Lock, 0o644); err != nil {
			return nil, err
		}
	}

	return &Result{
		Package:      c.Package,
		Artifact:     file,
		EntryPoints:  c.EntryPoints,
		WasmSize:     len(c.Wasm),
		EmbeddedSize: len(payload),
	}, nil
}

// within returns p relative to dir when p lies inside it.
func within(dir, p string) (string, bool) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	absP, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absDir, absP)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
