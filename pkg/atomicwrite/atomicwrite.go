// Package atomicwrite provides the single write-tmp-then-rename helper
// shared by the keep-alive and topology file writers, so a reader or a
// crash mid-write never observes a partial file.
package atomicwrite

import (
	"fmt"
	"os"
	"path/filepath"
)

// File writes data to path by first writing to a sibling temp file in
// the same directory (so the final rename is on the same filesystem,
// guaranteeing atomicity) and renaming it into place. perm is applied
// to the temp file before the rename.
func File(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicwrite: creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("atomicwrite: writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("atomicwrite: syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("atomicwrite: closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("atomicwrite: chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("atomicwrite: renaming %s to %s: %w", tmpName, path, err)
	}
	return nil
}
