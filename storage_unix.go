//go:build !windows

package hub

import (
	"os"
	"path/filepath"
)

// linkBlob points dst at blob with a relative symlink, so the cache stays
// valid when the cache directory is moved.
func linkBlob(blob, dst string) error {
	target, err := filepath.Rel(filepath.Dir(dst), blob)
	if err != nil {
		return err
	}
	if cur, err := os.Readlink(dst); err == nil && cur == target {
		return nil
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(target, dst)
}
