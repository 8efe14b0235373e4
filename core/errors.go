package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindParse            ErrorKind = "parse"
	KindValidation       ErrorKind = "validation"
	KindPrecondition     ErrorKind = "precondition"
	KindBuild            ErrorKind = "build"
	KindArtifactNotFound ErrorKind = "artifact_not_found"
	KindVerification     ErrorKind = "verification"
)

// Pipeline stages, reported in errors and logs.
const (
	StageLoad     = "load"
	StagePrepare  = "prepare"
	StageCompile  = "compile"
	StageStrip    = "strip"
	StageOptimize = "optimize"
	StageAssemble = "assemble"
	StageFetch    = "fetch"
	StageMetadata = "metadata"
	StageVerify   = "verify"
)

// Error carries the operation, package and stage a failure happened in.
type Error struct {
	Op      string
	Kind    ErrorKind
	Package string
	Stage   string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	var ctx []string
	if e.Package != "" {
		ctx = append(ctx, "package="+e.Package)
	}
	if e.Stage != "" {
		ctx = append(ctx, "stage="+e.Stage)
	}
	if len(ctx) > 0 {
		base += " (" + strings.Join(ctx, ", ") + ")"
	}
	if e.Err != nil {
		base += ": " + e.Err.Error()
	}
	return base
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// VerificationError describes a rebuilt artifact that differs from the
// given one.
type VerificationError struct {
	Package  string
	Artifact string
	Expected int // size of the given artifact
	Actual   int // size of the rebuilt artifact
	Offset   int // first differing byte
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%q wasn't compiled from %q or the build isn't reproducible: %d bytes given, %d bytes rebuilt, first difference at byte %d",
		e.Artifact, e.Package, e.Expected, e.Actual, e.Offset)
}

// firstDifference returns the index of the first differing byte, or -1 if
// a and b are equal.
func firstDifference(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}
