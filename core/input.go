package core

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/mod/semver"

	"github.com/intangere/watt_macros/toolchain"
)

const userAgent = "wattify (https://github.com/intangere/watt_macros)"

// Input names the crate to work on. At most one field is set; none means
// the current directory.
type Input struct {
	Path  string
	Crate string // name or name@version on the registry
	Git   string
}

// ParseCrate splits name[@version].
func ParseCrate(ref string) (name, version string, err error) {
	name, version, _ = strings.Cut(ref, "@")
	if name == "" {
		return "", "", fmt.Errorf("invalid crate %q: missing name", ref)
	}
	if version != "" && !semver.IsValid("v"+version) {
		return "", "", fmt.Errorf("invalid crate %q: %q is not a version", ref, version)
	}
	return name, version, nil
}

// Sources turns an Input into a local directory.
type Sources struct {
	Config *Config
	Runner toolchain.Runner
	Client *http.Client
	Logger *slog.Logger
}

// Materialize returns a directory holding the crate and a function that
// removes anything it downloaded.
func (s *Sources) Materialize(ctx context.Context, in Input) (string, func(), error) {
	set := 0
	for _, v := range []string{in.Path, in.Crate, in.Git} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return "", nil, errors.New("only one of a path, --crate and --git can be given")
	}

	switch {
	case in.Crate != "":
		name, version, err := ParseCrate(in.Crate)
		if err != nil {
			return "", nil, err
		}
		return s.download(ctx, name, version)
	case in.Git != "":
		return s.clone(ctx, in.Git)
	}
	path := in.Path
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	return abs, func() {}, nil
}

func (s *Sources) tempDir(prefix string) (string, func(), error) {
	dir, err := os.MkdirTemp(s.Config.WorkRoot, prefix)
	if err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

func (s *Sources) clone(ctx context.Context, repo string) (string, func(), error) {
	tmp, cleanup, err := s.tempDir("wattify-git-")
	if err != nil {
		return "", nil, err
	}
	dir := filepath.Join(tmp, "src")
	s.Logger.Info("cloning repository", "url", repo)
	_, err = s.Runner.Run(ctx, toolchain.Command{
		Name: s.Config.Git,
		Args: []string{"clone", "--depth", "1", repo, dir},
	})
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("clone %s: %w", repo, err)
	}
	return dir, cleanup, nil
}

func (s *Sources) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	return resp, nil
}

// latestVersion asks the registry for the newest stable version of name.
func (s *Sources) latestVersion(ctx context.Context, name string) (string, error) {
	resp, err := s.get(ctx, s.Config.RegistryURL+"/"+url.PathEscape(name))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var info struct {
		Crate struct {
			MaxStableVersion string `json:"max_stable_version"`
			MaxVersion       string `json:"max_version"`
		} `json:"crate"`
	}
	if err := jsoniter.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode crate info: %w", err)
	}
	if v := info.Crate.MaxStableVersion; v != "" {
		return v, nil
	}
	if v := info.Crate.MaxVersion; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("crate %s has no published version", name)
}

// download fetches a .crate archive and unpacks it.
func (s *Sources) download(ctx context.Context, name, version string) (string, func(), error) {
	var err error
	if version == "" {
		if version, err = s.latestVersion(ctx, name); err != nil {
			return "", nil, err
		}
	}
	s.Logger.Info("downloading crate", "package", name, "version", version)

	resp, err := s.get(ctx, fmt.Sprintf("%s/%s/%s/download", s.Config.RegistryURL, url.PathEscape(name), url.PathEscape(version)))
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	tmp, cleanup, err := s.tempDir("wattify-crate-")
	if err != nil {
		return "", nil, err
	}
	if err := unpackCrate(resp.Body, tmp); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("unpack %s %s: %w", name, version, err)
	}
	dir := filepath.Join(tmp, name+"-"+version)
	if _, err := os.Stat(filepath.Join(dir, manifestFile)); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("unpack %s %s: %w", name, version, err)
	}
	return dir, cleanup, nil
}

// unpackCrate extracts a gzipped tarball into dest, refusing entries that
// would land outside of it.
func unpackCrate(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name := filepath.FromSlash(hdr.Name)
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) ||
			strings.Contains(name, string(filepath.Separator)+".."+string(filepath.Separator)) {
			return fmt.Errorf("illegal path %q in archive", hdr.Name)
		}
		path := filepath.Join(dest, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm()|0o200)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
