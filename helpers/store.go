package helpers

import (
	"os"
	"path/filepath"
)

// StagingDir creates an empty directory next to dest, so that it can later
// be renamed onto dest without crossing filesystems.
func StagingDir(dest string) (string, error) {
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(parent, "."+filepath.Base(dest)+"-staging-")
}

// Publish moves a finished staging directory to dest. dest must not exist.
func Publish(staging, dest string) error {
	return os.Rename(staging, dest)
}
