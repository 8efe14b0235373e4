package core

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/mod/semver"

	"github.com/intangere/watt_macros/manifest"
	"github.com/intangere/watt_macros/toolchain"
)

// Target is a build target of a package in cargo metadata.
type Target struct {
	Name string   `json:"name"`
	Kind []string `json:"kind"`
}

// Package is one resolved package in cargo metadata.
type Package struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Source       string   `json:"source"`
	ManifestPath string   `json:"manifest_path"`
	Targets      []Target `json:"targets"`
}

// IsProcMacro reports whether any target of the package is a proc-macro.
func (p Package) IsProcMacro() bool {
	for _, t := range p.Targets {
		if slices.Contains(t.Kind, "proc-macro") {
			return true
		}
	}
	return false
}

// Metadata is the subset of `cargo metadata` output the patcher uses.
type Metadata struct {
	Packages         []Package `json:"packages"`
	WorkspaceMembers []string  `json:"workspace_members"`
	WorkspaceRoot    string    `json:"workspace_root"`
}

// MetadataSource resolves the dependency graph of a workspace.
type MetadataSource interface {
	Metadata(ctx context.Context, dir string) (*Metadata, error)
}

// CargoMetadata runs `cargo metadata` with every feature enabled.
type CargoMetadata struct {
	Cargo  string
	Runner toolchain.Runner
}

func (c CargoMetadata) Metadata(ctx context.Context, dir string) (*Metadata, error) {
	out, err := c.Runner.Run(ctx, toolchain.Command{
		Name: c.Cargo,
		Args: []string{"metadata", "--format-version", "1", "--all-features"},
		Dir:  dir,
	})
	if err != nil {
		return nil, err
	}
	return decodeMetadata(out)
}

// decodeMetadata reads the JSON document out of cargo's combined output,
// skipping any warnings printed around it.
func decodeMetadata(out []byte) (*Metadata, error) {
	start := bytes.IndexByte(out, '{')
	if start < 0 {
		return nil, fmt.Errorf("no metadata in cargo output")
	}
	var md Metadata
	dec := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(bytes.NewReader(out[start:]))
	if err := dec.Decode(&md); err != nil {
		return nil, fmt.Errorf("decode cargo metadata: %w", err)
	}
	return &md, nil
}

// Fetcher provides the source directory of a package. The directory is
// only read.
type Fetcher interface {
	Fetch(ctx context.Context, pkg Package) (string, error)
}

// ManifestFetcher uses the sources cargo already unpacked for the
// metadata.
type ManifestFetcher struct{}

func (ManifestFetcher) Fetch(_ context.Context, pkg Package) (string, error) {
	if pkg.ManifestPath == "" {
		return "", fmt.Errorf("%s %s has no manifest path", pkg.Name, pkg.Version)
	}
	return filepath.Dir(pkg.ManifestPath), nil
}

// Patcher rebuilds every proc-macro dependency of a workspace as a watt
// crate and redirects the workspace to the rebuilt crates.
type Patcher struct {
	Builder  *Builder
	Metadata MetadataSource
	Fetcher  Fetcher
	Logger   *slog.Logger
}

func NewPatcher(b *Builder) *Patcher {
	return &Patcher{
		Builder:  b,
		Metadata: CargoMetadata{Cargo: b.Config.Cargo, Runner: b.Runner},
		Fetcher:  ManifestFetcher{},
		Logger:   b.Logger,
	}
}

// PatchReport lists what a Patch run did.
type PatchReport struct {
	Built   []Patched
	Skipped []Package // older duplicate versions
}

// Patched is one rebuilt dependency.
type Patched struct {
	Package Package
	Dir     string
}

// Patch rebuilds the proc-macro dependencies of the workspace at dir one
// after the other and then rewrites the workspace manifest. A failed build
// aborts the run; crates built before it stay on disk.
func (p *Patcher) Patch(ctx context.Context, dir string, opts Options) (*PatchReport, error) {
	const op = "patch"
	cfg := p.Builder.Config

	md, err := p.Metadata.Metadata(ctx, dir)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindBuild, Stage: StageMetadata, Err: err}
	}

	report := &PatchReport{}
	macros := p.pick(md, report)
	if len(macros) == 0 {
		p.Logger.Info("no proc-macro dependencies to patch", "path", dir)
		return report, nil
	}

	names := maps.Keys(macros)
	slices.Sort(names)

	var patches []manifest.Patch
	for _, name := range names {
		pkg := macros[name]
		log := p.Logger.With("package", name, "version", pkg.Version)

		src, err := p.Fetcher.Fetch(ctx, pkg)
		if err != nil {
			return report, &Error{Op: op, Kind: KindBuild, Package: name, Stage: StageFetch, Err: err}
		}

		rel := filepath.ToSlash(filepath.Join(cfg.PatchDir, name))
		bopts := opts
		bopts.OutputDir = filepath.Join(dir, cfg.PatchDir, name)
		bopts.Overwrite = true
		bopts.EssentialOnly = true

		log.Info("patching dependency", "source", src)
		if _, err := p.Builder.Build(ctx, src, bopts); err != nil {
			return report, fmt.Errorf("failed to build crate %s: %w", name, err)
		}
		report.Built = append(report.Built, Patched{Package: pkg, Dir: bopts.OutputDir})
		patches = append(patches, manifest.Patch{Name: name, Path: "./" + rel})
	}

	path := filepath.Join(dir, manifestFile)
	doc, err := manifest.Load(path)
	if err != nil {
		return report, &Error{Op: op, Kind: KindParse, Stage: StageLoad, Err: err}
	}
	if err := manifest.AddPatches(doc, cfg.Registry, patches); err != nil {
		return report, &Error{Op: op, Kind: KindBuild, Stage: StageAssemble, Err: err}
	}
	if err := doc.WriteFile(path); err != nil {
		return report, &Error{Op: op, Kind: KindBuild, Stage: StageAssemble, Err: err}
	}
	p.Logger.Info("patched workspace", "path", path, "crates", len(patches))
	return report, nil
}

// pick chooses the proc-macro packages to rebuild, keyed by name. Members
// of the workspace itself are left alone. A patch entry can only name one
// version, so the newest wins.
func (p *Patcher) pick(md *Metadata, report *PatchReport) map[string]Package {
	members := make(map[string]bool, len(md.WorkspaceMembers))
	for _, id := range md.WorkspaceMembers {
		members[id] = true
	}

	seen := map[string]bool{}
	picked := map[string]Package{}
	var all []Package
	for _, pkg := range md.Packages {
		key := pkg.Name + "@" + pkg.Version
		if members[pkg.ID] || !pkg.IsProcMacro() || seen[key] {
			continue
		}
		seen[key] = true
		all = append(all, pkg)
		cur, ok := picked[pkg.Name]
		if !ok || compareVersions(pkg.Version, cur.Version) > 0 {
			picked[pkg.Name] = pkg
		}
	}
	for _, pkg := range all {
		if picked[pkg.Name].Version != pkg.Version {
			p.Logger.Warn("several versions of a proc-macro dependency, only the newest is patched",
				"package", pkg.Name, "skipped", pkg.Version, "patched", picked[pkg.Name].Version)
			report.Skipped = append(report.Skipped, pkg)
		}
	}
	return picked
}

func compareVersions(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}
