package main

import (
	"fmt"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/intangere/watt_macros/core"
)

func verifyCmd(a *app) *cobra.Command {
	var (
		cf compileFlags
		sf sourceFlags
	)

	c := &cobra.Command{
		Use:   "verify <artifact.wasm> [path]",
		Short: "Check that a wasm module was compiled from a crate",
		Long: `verify rebuilds the crate with the given flags and compares the result byte
for byte with the module. Pass the same --strip and --optimize flags the
module was built with.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifact := args[0]
			dir, cleanup, err := a.sources().Materialize(cmd.Context(), sf.input(args[1:]))
			if err != nil {
				return err
			}
			defer cleanup()

			v := &core.Verifier{Builder: a.builder()}
			if err := v.Verify(cmd.Context(), dir, artifact, cf.options()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, color.Success.Sprintf("%s matches %s", artifact, dir))
			return nil
		},
	}

	cf.register(c)
	sf.register(c)
	return c
}
