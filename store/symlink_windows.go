//go:build windows

package store

import (
	"os"

	"github.com/zeroinstall/implstore/internal/xbit"
)

// createSymlink tries a native symlink first (requires
// SeCreateSymbolicLinkPrivilege) and falls back to the Cygwin-style
// surrogate described in spec §4.2 when that fails.
func createSymlink(path, target string) error {
	if err := os.Symlink(target, path); err == nil {
		return nil
	}
	return xbit.WriteSymlinkSurrogate(path, target)
}
