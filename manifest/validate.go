package manifest

import (
	"strings"

	"golang.org/x/exp/slices"
)

// Unsupported lists dependencies that need filesystem or compiler access the
// wasm sandbox does not have.
var Unsupported = []string{
	"proc-macro-crate",
	"find-crate",
	"proc-macro-error",
}

// Validate checks that doc describes a proc-macro crate that has not been
// converted yet.
func Validate(doc *Document) error {
	if !doc.HasTable("package") {
		return &ValidationError{Err: ErrNoPackage}
	}
	if name, ok := doc.GetString("package", "name"); !ok || name == "" {
		return &ValidationError{Err: ErrNoName}
	}
	if procMacro, _ := doc.GetBool("lib", "proc-macro"); !procMacro {
		return &ValidationError{Err: ErrNotProcMacro, Detail: "[lib] proc-macro is not true"}
	}
	deps := doc.Keys("dependencies")
	if slices.Contains(deps, RuntimeDependency) {
		return &ValidationError{Err: ErrAlreadyWatt}
	}
	for _, dep := range deps {
		if slices.Contains(Unsupported, dep) {
			return &ValidationError{Err: ErrUnsupportedDependency, Detail: dep}
		}
	}
	return nil
}

// PackageName returns package.name, or "" when missing.
func PackageName(doc *Document) string {
	name, _ := doc.GetString("package", "name")
	return name
}

// NormalizedName is the crate name as rustc uses it for artifacts.
func NormalizedName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
