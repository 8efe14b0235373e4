// Package helpers holds the filesystem plumbing shared by the build
// pipeline.
package helpers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
)

// CopyAll copies the tree rooted at from into to, creating directories as
// needed. Symlinks are skipped. skip receives slash separated paths relative
// to from; returning true leaves that file or directory out.
func CopyAll(from, to string, skip func(rel string) bool) error {
	info, err := os.Stat(from)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("copy %s: not a directory", from)
	}

	return copy.Copy(from, to, copy.Options{
		OnSymlink: func(string) copy.SymlinkAction { return copy.Skip },
		Skip: func(_ os.FileInfo, src, _ string) (bool, error) {
			if skip == nil {
				return false, nil
			}
			rel, err := filepath.Rel(from, src)
			if err != nil {
				return false, err
			}
			return rel != "." && skip(filepath.ToSlash(rel)), nil
		},
	})
}

// SkipNames returns a skip function for CopyAll that drops any top-level
// entry with one of the given names.
func SkipNames(names ...string) func(rel string) bool {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(rel string) bool {
		_, ok := set[rel]
		return ok
	}
}
