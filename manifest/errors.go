package manifest

import (
	"errors"
	"fmt"
)

// ParseError reports malformed TOML. Line and Column are 1-based.
type ParseError struct {
	Filename string
	Line     int
	Column   int
	Err      error
}

func (e *ParseError) Error() string {
	name := e.Filename
	if name == "" {
		name = "Cargo.toml"
	}
	return fmt.Sprintf("%s:%d:%d: %s", name, e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Reasons a manifest is not eligible for conversion.
var (
	ErrNoPackage             = errors.New("Cargo.toml has no package")
	ErrNoName                = errors.New("package has no name")
	ErrNotProcMacro          = errors.New("crate is not a proc macro")
	ErrAlreadyWatt           = errors.New("crate already depends on watt")
	ErrUnsupportedDependency = errors.New("dependency cannot run inside wasm")
)

// ValidationError wraps one of the Err* reasons above.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }
