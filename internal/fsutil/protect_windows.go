//go:build windows

package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// Protect recursively sets the ReadOnly attribute on every file and
// directory under root. No ACL deny-write entry is installed:
// denyWriteACL does nothing.
func Protect(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := setReadOnlyAttr(p, true); err != nil {
			return err
		}
		return denyWriteACL(p, true)
	})
}

// Unprotect reverses Protect.
func Unprotect(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := denyWriteACL(p, false); err != nil {
			return err
		}
		return setReadOnlyAttr(p, false)
	})
}

func setReadOnlyAttr(path string, readOnly bool) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return err
	}
	if readOnly {
		attrs |= windows.FILE_ATTRIBUTE_READONLY
	} else {
		attrs &^= windows.FILE_ATTRIBUTE_READONLY
	}
	return windows.SetFileAttributes(p, attrs)
}

// denyWriteACL changes no ACL and always returns nil; the ReadOnly
// attribute set by setReadOnlyAttr is the only write protection applied.
func denyWriteACL(path string, deny bool) error {
	return nil
}
