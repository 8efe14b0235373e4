package main

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/intangere/watt_macros/core"
	"github.com/intangere/watt_macros/toolchain"
)

// app is what the subcommands share. Runner and Client are replaced in
// tests; config and logger are filled in before any subcommand runs.
type app struct {
	out    io.Writer
	errOut io.Writer

	runner toolchain.Runner
	client *http.Client

	cfg *core.Config
	log *slog.Logger
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:    out,
		errOut: errOut,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

func run(a *app, args []string) error {
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)
	return cmd.Execute()
}

func newRootCmd(a *app) *cobra.Command {
	var (
		configPath string
		logLevel   string
		logFormat  string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "wattify",
		Short: "Turn Rust proc-macro crates into watt crates backed by precompiled wasm",
		Long: `wattify compiles a procedural macro crate to WebAssembly and generates a
host crate that runs the compiled module through the watt runtime, so users
of the macro no longer compile it or its dependencies.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := core.LoadConfig(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			if verbose {
				cfg.LogLevel = "debug"
			}
			a.cfg = cfg
			a.log = newLogger(cfg.LogLevel, cfg.LogFormat, a.errOut)

			if a.runner == nil {
				r := toolchain.ExecRunner{}
				if verbose {
					r.Tee = a.errOut
				}
				a.runner = r
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default "+core.DefaultConfigPath()+")")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text|json")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging and show the output of external tools")

	cmd.AddCommand(buildCmd(a), verifyCmd(a), patchCmd(a))
	return cmd
}

// compileFlags are shared by every command that compiles a crate.
type compileFlags struct {
	strip    bool
	optimize bool
	compress bool
}

func (f *compileFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.strip, "strip", false, "remove custom sections from the module with wasm-strip")
	cmd.Flags().BoolVar(&f.optimize, "optimize", false, "optimize the module for size with wasm-opt")
	cmd.Flags().BoolVar(&f.compress, "compress", false, "embed the module deflate-compressed")
}

func (f *compileFlags) options() core.Options {
	return core.Options{Strip: f.strip, Optimize: f.optimize, Compress: f.compress}
}

// sourceFlags select where the crate comes from.
type sourceFlags struct {
	crate string
	git   string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.crate, "crate", "", "fetch name[@version] from the registry instead of a local path")
	cmd.Flags().StringVar(&f.git, "git", "", "clone the crate from a git repository")
}

func (f *sourceFlags) input(args []string) core.Input {
	in := core.Input{Crate: f.crate, Git: f.git}
	if len(args) > 0 {
		in.Path = args[0]
	}
	return in
}

func (a *app) builder() *core.Builder {
	return core.NewBuilder(a.cfg, a.runner, a.log)
}

func (a *app) sources() *core.Sources {
	return &core.Sources{Config: a.cfg, Runner: a.runner, Client: a.client, Logger: a.log}
}
