package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// Config is everything the pipeline would otherwise pick up from the
// environment. It is built once by LoadConfig and passed down explicitly.
type Config struct {
	// external programs
	Cargo     string
	WasmStrip string
	WasmOpt   string
	Git       string

	// CargoHome is remapped out of the artifact's embedded paths.
	CargoHome string
	// TargetDir overrides <crate>/target when set.
	TargetDir string
	// WorkRoot is where isolated working copies are created. Empty means
	// the system temp dir.
	WorkRoot string

	OutputSuffix string
	PatchDir     string
	Registry     string
	RegistryURL  string

	LogLevel  string
	LogFormat string
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Cargo:        "cargo",
		WasmStrip:    "wasm-strip",
		WasmOpt:      "wasm-opt",
		Git:          "git",
		OutputSuffix: "watt",
		PatchDir:     ".watt-patched",
		Registry:     "crates-io",
		RegistryURL:  "https://crates.io/api/v1/crates",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// DefaultConfigPath is $XDG_CONFIG_HOME/wattify/config.ini or the platform
// equivalent.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "wattify", "config.ini")
}

// LoadConfig reads the ini file at path on top of DefaultConfig. An empty
// path means DefaultConfigPath, which may be missing. CARGO_HOME and
// CARGO_TARGET_DIR are read here and nowhere else.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	if path != "" {
		f, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg.apply(f)
	}

	if cfg.CargoHome == "" {
		cfg.CargoHome = os.Getenv("CARGO_HOME")
	}
	if cfg.CargoHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.CargoHome = filepath.Join(home, ".cargo")
		}
	}
	if cfg.TargetDir == "" {
		cfg.TargetDir = os.Getenv("CARGO_TARGET_DIR")
	}
	return cfg, nil
}

func (c *Config) apply(f *ini.File) {
	tc := f.Section("toolchain")
	c.Cargo = tc.Key("cargo").MustString(c.Cargo)
	c.WasmStrip = tc.Key("wasm-strip").MustString(c.WasmStrip)
	c.WasmOpt = tc.Key("wasm-opt").MustString(c.WasmOpt)
	c.Git = tc.Key("git").MustString(c.Git)

	paths := f.Section("paths")
	c.CargoHome = paths.Key("cargo-home").MustString(c.CargoHome)
	c.TargetDir = paths.Key("target-dir").MustString(c.TargetDir)
	c.WorkRoot = paths.Key("work-root").MustString(c.WorkRoot)
	c.PatchDir = paths.Key("patch-dir").MustString(c.PatchDir)

	rt := f.Section("runtime")
	c.OutputSuffix = rt.Key("output-suffix").MustString(c.OutputSuffix)
	c.Registry = rt.Key("registry").MustString(c.Registry)
	c.RegistryURL = rt.Key("registry-url").MustString(c.RegistryURL)

	log := f.Section("log")
	c.LogLevel = log.Key("level").In(c.LogLevel, []string{"debug", "info", "warn", "error"})
	c.LogFormat = log.Key("format").In(c.LogFormat, []string{"text", "json"})
}
