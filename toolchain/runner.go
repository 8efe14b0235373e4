// Package toolchain runs the external programs a build depends on: cargo,
// wasm-strip, wasm-opt and git.
//
// Commands block until the child process exits. There is no timeout: a hung
// compiler hangs the caller. Cancelling the context kills the process.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command describes one process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // added to the current environment, KEY=VALUE
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner runs commands. The build pipeline only talks to the outside world
// through a Runner, so tests can replace the toolchain.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
	LookPath(name string) (string, error)
}

// ExitError is returned when a command exits with a non-zero status.
type ExitError struct {
	Command Command
	Code    int
	Output  []byte
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Command.Name, e.Code)
	if out := strings.TrimSpace(string(e.Output)); out != "" {
		msg += "\n" + out
	}
	return msg
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Tee receives the combined output while the command runs.
	Tee io.Writer
}

func (r ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var out bytes.Buffer
	var w io.Writer = &out
	if r.Tee != nil {
		w = io.MultiWriter(&out, r.Tee)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.Bytes(), &ExitError{Command: c, Code: exitErr.ExitCode(), Output: out.Bytes()}
	}
	if err != nil {
		return out.Bytes(), fmt.Errorf("run %s: %w", c.Name, err)
	}
	return out.Bytes(), nil
}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// MissingToolError lists the programs that could not be found.
type MissingToolError struct {
	Tools []string
}

func (e *MissingToolError) Error() string {
	return "required tools not found in PATH: " + strings.Join(e.Tools, ", ")
}

// Require checks that every named program is available, so that a missing
// tool fails before any work starts.
func Require(r Runner, names ...string) error {
	var missing []string
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := r.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingToolError{Tools: missing}
	}
	return nil
}
