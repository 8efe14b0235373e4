package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/gookit/color"

	"github.com/intangere/watt_macros/core"
)

func main() {
	a := newApp(os.Stdout, os.Stderr)
	if err := run(a, os.Args[1:]); err != nil {
		a.report(err)
		os.Exit(1)
	}
}

// report logs a failed command through the configured logger, when there is
// one, and prints it for the user.
func (a *app) report(err error) {
	if a.log != nil {
		attrs := []any{"error", err}
		var e *core.Error
		if errors.As(err, &e) {
			attrs = append(attrs, "kind", string(e.Kind), "package", e.Package, "stage", e.Stage)
		}
		a.log.Error("command failed", attrs...)
	}
	fmt.Fprintln(a.errOut, color.Danger.Sprintf("error: %v", err))
}
