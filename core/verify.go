package core

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/intangere/watt_macros/helpers"
)

// Verifier checks that a published wasm module was built from a crate.
type Verifier struct {
	Builder *Builder
}

// Verify rebuilds the crate at dir and compares the result byte for byte
// with the module at artifact.
func (v *Verifier) Verify(ctx context.Context, dir, artifact string, opts Options) error {
	const op = "verify"
	if !helpers.HasExtension(artifact, "wasm") {
		return &Error{Op: op, Kind: KindValidation, Stage: StageLoad,
			Err: fmt.Errorf("%q is not a wasm file", artifact)}
	}
	want, err := os.ReadFile(artifact)
	if err != nil {
		return &Error{Op: op, Kind: KindPrecondition, Stage: StageLoad, Err: err}
	}

	c, err := v.Builder.Compile(ctx, dir, opts)
	if err != nil {
		return err
	}

	if !bytes.Equal(want, c.Wasm) {
		return &Error{Op: op, Kind: KindVerification, Package: c.Package, Stage: StageVerify,
			Err: &VerificationError{
				Package:  c.Package,
				Artifact: filepath.Base(artifact),
				Expected: len(want),
				Actual:   len(c.Wasm),
				Offset:   firstDifference(want, c.Wasm),
			}}
	}
	v.Builder.Logger.Info("artifact verified", "package", c.Package, "path", artifact, "bytes", len(want))
	return nil
}
