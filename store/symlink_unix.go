//go:build !windows

package store

import "os"

// createSymlink creates a native symlink at path pointing at target.
func createSymlink(path, target string) error {
	if err := os.Symlink(target, path); err != nil {
		return err
	}
	return nil
}
