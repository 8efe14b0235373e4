package helpers

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// HasExtension reports whether the final extension of path is ext, given
// without the dot.
func HasExtension(path, ext string) bool {
	return filepath.Ext(path) == "."+ext
}

// Exists reports whether path exists. Errors other than "not found" are
// returned as is.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
