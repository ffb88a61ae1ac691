//go:build windows

package hub

import (
	"io"
	"os"
)

// linkBlob copies blob to dst. Creating symlinks on Windows needs developer
// mode or elevated rights, so snapshots hold plain copies there.
func linkBlob(blob, dst string) error {
	if bi, err := os.Stat(blob); err == nil {
		if di, err := os.Stat(dst); err == nil && di.Size() == bi.Size() {
			return nil
		}
	}

	src, err := os.Open(blob)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
