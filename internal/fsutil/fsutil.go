// Package fsutil provides the local-disk primitives the store and
// builder need: atomic rename, recursive write-protection, recursive
// delete, hardlinking, and directory fsync. It is the local-filesystem
// analogue of the teacher's storagedriver.StorageDriver interface
// (storagedriver/filesystem/driver.go): Move/Delete become
// Rename/RemoveAll here, minus the pluggable-backend interface
// the teacher needed for its remote drivers — this store only ever
// targets one local root.
package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeroinstall/implstore/internal/storeerr"
)

// Rename atomically moves src to dst, both absolute paths on the same
// filesystem. Mirrors storagedriver/filesystem.Driver.Move.
func Rename(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return &storeerr.NotFoundError{Identifier: src}
		}
		return &storeerr.IoError{Op: "rename", Err: err}
	}
	return nil
}

// RemoveAll recursively deletes root, first clearing any write
// protection Protect installed so the delete does not fail with
// permission-denied on a read-only tree.
func RemoveAll(root string) error {
	if err := Unprotect(root); err != nil && !os.IsNotExist(err) {
		return &storeerr.IoError{Op: "unprotect before delete", Err: err}
	}
	if err := os.RemoveAll(root); err != nil {
		return &storeerr.IoError{Op: "remove", Err: err}
	}
	return nil
}

// Hardlink creates dst as a new hardlink to src.
func Hardlink(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		return &storeerr.IoError{Op: "hardlink", Err: err}
	}
	return nil
}

// FsyncDir fsyncs the directory at path, where the platform supports it
// (a no-op error is swallowed; directory fsync is best-effort on
// filesystems/platforms that don't expose it, e.g. Windows).
func FsyncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return &storeerr.IoError{Op: "open dir for fsync", Err: err}
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		// Best-effort: directory fsync is unsupported on some
		// platforms/filesystems (notably Windows, some FUSE backends).
		return nil
	}
	return nil
}

// WalkFunc is called once per entry (file, dir, or symlink) beneath a
// Walk root, receiving the entry's path relative to that root using "/"
// separators, and its fs.DirEntry.
type WalkFunc func(relPath string, d fs.DirEntry) error

// Walk visits every entry under root in lexical order, grounded on the
// teacher's registry/storage/walk.go (sorted-children recursive walk),
// adapted to a real filesystem via filepath.WalkDir instead of a
// storagedriver.StorageDriver abstraction.
func Walk(root string, fn WalkFunc) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		return fn(rel, d)
	})
}
