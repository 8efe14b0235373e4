package main

import (
	"fmt"
	"io"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/intangere/watt_macros/core"
)

func buildCmd(a *app) *cobra.Command {
	var (
		cf            compileFlags
		sf            sourceFlags
		output        string
		overwrite     bool
		essentialOnly bool
		format        bool
	)

	c := &cobra.Command{
		Use:   "build [path]",
		Short: "Compile a proc-macro crate to wasm and generate its watt crate",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cleanup, err := a.sources().Materialize(cmd.Context(), sf.input(args))
			if err != nil {
				return err
			}
			defer cleanup()

			opts := cf.options()
			opts.OutputDir = output
			opts.Overwrite = overwrite
			opts.EssentialOnly = essentialOnly
			opts.Format = format

			res, err := a.builder().Build(cmd.Context(), dir, opts)
			if err != nil {
				return err
			}
			printResult(a.out, res)
			return nil
		},
	}

	cf.register(c)
	sf.register(c)
	c.Flags().StringVarP(&output, "output", "o", "", "output directory (default <name>-<suffix>)")
	c.Flags().BoolVar(&overwrite, "overwrite", false, "replace the output directory if it exists")
	c.Flags().BoolVar(&essentialOnly, "essential-only", false, "only write the files the watt crate needs")
	c.Flags().BoolVar(&format, "format", false, "run cargo fmt on the generated crate")
	return c
}

func printResult(w io.Writer, res *core.Result) {
	fmt.Fprintln(w, color.Success.Sprintf("generated %s", res.OutputDir))
	fmt.Fprintf(w, "  artifact: %s (%d bytes", res.Artifact, res.WasmSize)
	if res.EmbeddedSize != res.WasmSize {
		fmt.Fprintf(w, ", %d embedded", res.EmbeddedSize)
	}
	fmt.Fprintln(w, ")")
	for _, ep := range res.EntryPoints {
		fmt.Fprintf(w, "  %s %s\n", ep.Kind, ep.Name)
	}
}
