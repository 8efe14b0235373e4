package main

import (
	"fmt"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/intangere/watt_macros/core"
)

func patchCmd(a *app) *cobra.Command {
	var cf compileFlags

	c := &cobra.Command{
		Use:   "patch [workspace]",
		Short: "Rebuild every proc-macro dependency of a workspace as a watt crate",
		Long: `patch builds a watt crate for each proc-macro dependency of the workspace
under .watt-patched/ and adds [patch] entries pointing at them to the
workspace manifest.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cleanup, err := a.sources().Materialize(cmd.Context(), core.Input{Path: firstOr(args, ".")})
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := core.NewPatcher(a.builder()).Patch(cmd.Context(), dir, cf.options())
			if report != nil {
				for _, p := range report.Built {
					fmt.Fprintln(a.out, color.Success.Sprintf("patched %s %s", p.Package.Name, p.Package.Version))
				}
				for _, p := range report.Skipped {
					fmt.Fprintln(a.out, color.Warn.Sprintf("skipped %s %s, a newer version is patched", p.Name, p.Version))
				}
			}
			if err != nil {
				return err
			}
			if len(report.Built) == 0 {
				fmt.Fprintln(a.out, "no proc-macro dependencies found")
			}
			return nil
		},
	}

	cf.register(c)
	return c
}

func firstOr(args []string, def string) string {
	if len(args) > 0 {
		return args[0]
	}
	return def
}
