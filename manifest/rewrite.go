package manifest

import "fmt"

const (
	// RuntimeDependency executes the embedded wasm at expansion time.
	RuntimeDependency = "watt"
	RuntimeVersion    = "0.4"

	// LegacyDependency is carried over unchanged when the crate uses it.
	LegacyDependency = "proc-macro-hack"

	// DefaultRegistry is the patch table crates.io packages are redirected in.
	DefaultRegistry = "crates-io"
)

// CompressionDependencies back the lazily inflated module of a compressed
// host crate.
var CompressionDependencies = []Pair{
	{Key: "miniz_oxide", Value: "0.3"},
	{Key: "once_cell", Value: "1.4"},
}

// Redirects point the token stream crates at their wasm capable forks while
// the crate is compiled to wasm.
var Redirects = []Pair{
	{Key: "proc-macro2", Value: "https://github.com/dtolnay/watt"},
	{Key: "syn", Value: "https://github.com/jakobhellermann/syn-watt"},
}

// releaseProfile is applied to [profile.release] unless the crate sets the
// key itself. A single codegen unit keeps the output stable between runs.
var releaseProfile = []Pair{
	{Key: "opt-level", Value: "s"},
	{Key: "lto", Value: true},
	{Key: "codegen-units", Value: 1},
	{Key: "panic", Value: "abort"},
}

// SwitchToSharedLibrary turns the proc-macro library into a cdylib.
func SwitchToSharedLibrary(doc *Document) error {
	doc.Delete("lib", "proc-macro")
	return doc.Set([]string{"lib", "crate-type"}, []string{"cdylib"})
}

// ReplaceDependencies leaves watt as the only dependency, keeping
// proc-macro-hack if the crate had it and adding the inflate support when
// compress is set.
func ReplaceDependencies(doc *Document, compress bool) error {
	hack, hasHack := doc.RawValue("dependencies", LegacyDependency)

	doc.Delete("dependencies")
	doc.EnsureTable("dependencies")

	if err := doc.Set([]string{"dependencies", RuntimeDependency}, RuntimeVersion); err != nil {
		return err
	}
	if hasHack {
		if err := doc.SetRaw([]string{"dependencies", LegacyDependency}, hack); err != nil {
			return err
		}
	}
	if compress {
		for _, dep := range CompressionDependencies {
			if err := doc.Set([]string{"dependencies", dep.Key}, dep.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// NeutralizeFeatures empties every feature. The names stay so dependents
// that enable them still resolve. It reports whether there were features.
func NeutralizeFeatures(doc *Document) (bool, error) {
	if !doc.HasTable("features") {
		return false, nil
	}
	for _, f := range doc.Keys("features") {
		if err := doc.Set([]string{"features", f}, []string{}); err != nil {
			return true, err
		}
	}
	return true, nil
}

// ToBytecodeTarget rewrites doc into a cdylib that depends on the watt
// runtime only. The returned flag is true when features were neutralized
// and the caller should warn about it.
func ToBytecodeTarget(doc *Document, compress bool) (bool, error) {
	if err := SwitchToSharedLibrary(doc); err != nil {
		return false, fmt.Errorf("failed to switch crate type: %w", err)
	}
	if err := ReplaceDependencies(doc, compress); err != nil {
		return false, fmt.Errorf("failed to replace dependencies: %w", err)
	}
	return NeutralizeFeatures(doc)
}

// ForWasmCompile prepares the working copy's manifest for
// cargo build --target wasm32-unknown-unknown.
func ForWasmCompile(doc *Document) error {
	if err := SwitchToSharedLibrary(doc); err != nil {
		return err
	}
	// proc-macro2 has to be a direct dependency for the patch to apply
	if !doc.Has("dependencies", "proc-macro2") {
		if err := doc.Set([]string{"dependencies", "proc-macro2"}, "1.0"); err != nil {
			return err
		}
	}
	for _, r := range Redirects {
		git := Inline{{Key: "git", Value: r.Value}}
		if err := doc.Set([]string{"patch", DefaultRegistry, r.Key}, git); err != nil {
			return err
		}
	}
	for _, s := range releaseProfile {
		if doc.Has("profile", "release", s.Key) {
			continue
		}
		if err := doc.Set([]string{"profile", "release", s.Key}, s.Value); err != nil {
			return err
		}
	}
	return nil
}

// hostDropped names the parts of a manifest that point at files the host
// crate does not carry.
var hostDropped = [][]string{
	{"package", "build"},
	{"lib", "path"},
	{"build-dependencies"},
	{"bin"},
	{"test"},
	{"example"},
	{"bench"},
}

// ForHostPackage rewrites the original manifest for the generated host
// crate. It stays a proc-macro crate with only src/lib.rs, so the build
// script, extra targets and build dependencies go away along with the
// original dependencies and features.
func ForHostPackage(doc *Document, compress bool) (bool, error) {
	for _, path := range hostDropped {
		doc.Delete(path...)
	}
	if err := ReplaceDependencies(doc, compress); err != nil {
		return false, err
	}
	return NeutralizeFeatures(doc)
}

// Patch redirects one dependency to a local path.
type Patch struct {
	Name string
	Path string
}

// AddPatches writes [patch.<registry>] entries for every patch.
func AddPatches(doc *Document, registry string, patches []Patch) error {
	for _, p := range patches {
		path := Inline{{Key: "path", Value: p.Path}}
		if err := doc.Set([]string{"patch", registry, p.Name}, path); err != nil {
			return fmt.Errorf("failed to patch %s: %w", p.Name, err)
		}
	}
	return nil
}
