package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeroinstall/implstore/internal/fsutil"
	"github.com/zeroinstall/implstore/internal/storeerr"
	"github.com/zeroinstall/implstore/internal/xbit"
	"github.com/zeroinstall/implstore/manifest"
)

// fixedEpoch is the default mtime used for single-file downloads (§4.2,
// Download step 2), chosen as the Unix epoch so repeated fetches of the
// same bytes always produce the same manifest regardless of the local
// clock at fetch time.
var fixedEpoch = time.Unix(0, 0)

// Builder applies ordered retrieval-recipe steps to a destination
// directory inside the store, streaming bytes to disk while maintaining
// a growing manifest.Manifest of the tree it has produced. It is the Go
// analogue of the teacher's blobWriter: both stream content to a
// temporary location while accumulating a verifiable digest, and both
// expose a narrow capability surface to the code that feeds them bytes
// (archive extractors here, HTTP uploads there).
type Builder struct {
	dir string
	m   *manifest.Manifest
}

// NewBuilder returns a Builder rooted at dir (which must already exist
// and be empty) building a manifest in format f.
func NewBuilder(dir string, f manifest.Format) *Builder {
	return &Builder{dir: dir, m: manifest.New(f)}
}

// Dir returns the destination directory this builder is populating.
func (b *Builder) Dir() string { return b.dir }

// Manifest returns the manifest accumulated so far. Callers must not
// mutate it directly; use the Builder's own operations.
func (b *Builder) Manifest() *manifest.Manifest { return b.m }

func (b *Builder) diskPath(path string) string {
	return filepath.Join(b.dir, filepath.FromSlash(path))
}

// ensureDir materializes every ancestor directory of path (exclusive of
// path's own leaf, unless dirItself is true) both on disk and in the
// manifest, auto-vivifying entries the way archive extraction expects
// (§4.5: "Directory entries may be implicit").
func (b *Builder) ensureDir(path string, dirItself bool) error {
	segs := strings.Split(path, "/")
	if !dirItself {
		segs = segs[:len(segs)-1]
	}
	acc := ""
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		if acc == "" {
			acc = seg
		} else {
			acc = acc + "/" + seg
		}
		if err := os.MkdirAll(b.diskPath(acc), 0o755); err != nil {
			return &storeerr.IoError{Op: "mkdir", Err: err}
		}
		if err := b.m.AddDirectory(acc); err != nil {
			return err
		}
	}
	return nil
}

// AddDirectory creates path on disk and records it in the manifest.
func (b *Builder) AddDirectory(path string) error {
	if err := b.ensureDir(path, false); err != nil {
		return err
	}
	if err := os.MkdirAll(b.diskPath(path), 0o755); err != nil {
		return &storeerr.IoError{Op: "mkdir", Err: err}
	}
	return b.m.AddDirectory(path)
}

// AddFile streams r to disk at path while hashing it with the builder's
// manifest format, then records the resulting digest/size/mtime/
// executability. mtime is truncated to whole seconds, matching the
// manifest format's mtime_unix field.
func (b *Builder) AddFile(path string, r io.Reader, mtime time.Time, executable bool) error {
	if err := b.ensureDir(path, false); err != nil {
		return err
	}
	full := b.diskPath(path)
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &storeerr.IoError{Op: "create file", Err: err}
	}
	h := b.m.Format.NewHash()
	size, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		f.Close()
		return &storeerr.IoError{Op: "write file", Err: err}
	}
	if err := f.Close(); err != nil {
		return &storeerr.IoError{Op: "close file", Err: err}
	}
	mt := mtime.Unix()
	if err := os.Chtimes(full, mtime, mtime); err != nil {
		return &storeerr.IoError{Op: "chtimes", Err: err}
	}
	if executable {
		if err := xbit.SetExecutable(full); err != nil {
			return &storeerr.IoError{Op: "set executable", Err: err}
		}
	}
	digest := b.m.Format.Encode(h.Sum(nil))
	return b.m.AddFile(path, digest, mt, size, executable)
}

// AddHardlink creates path on disk as a hardlink to the already-
// materialized file at src (both relative to the builder's tree),
// reusing src's existing manifest entry's digest and size without
// re-digesting.
func (b *Builder) AddHardlink(path, src string, executable bool) error {
	elem, ok := b.m.Lookup(src)
	if !ok || !elem.IsFile() {
		return &storeerr.NotFoundError{Identifier: src}
	}
	if err := b.ensureDir(path, false); err != nil {
		return err
	}
	if err := fsutil.Hardlink(b.diskPath(src), b.diskPath(path)); err != nil {
		return err
	}
	return b.m.AddFile(path, elem.Digest, elem.MtimeUnix, elem.Size, executable)
}

// AddSymlink creates path as a symlink (or, on platforms without
// symlink privilege, a Cygwin-style surrogate) pointing at target,
// hashing target's UTF-8 bytes for the manifest entry.
func (b *Builder) AddSymlink(path, target string) error {
	if err := b.ensureDir(path, false); err != nil {
		return err
	}
	full := b.diskPath(path)
	if err := createSymlink(full, target); err != nil {
		return &storeerr.IoError{Op: "create symlink", Err: err}
	}
	tb := []byte(target)
	digest := b.m.Format.DigestBytes(tb)
	return b.m.AddSymlink(path, digest, int64(len(tb)))
}

// Remove deletes path from disk (recursively, if it is a directory) and
// from the manifest.
func (b *Builder) Remove(path string) error {
	full := b.diskPath(path)
	if b.m.HasDirectory(path) {
		if err := fsutil.RemoveAll(full); err != nil {
			return err
		}
	} else if _, err := os.Lstat(full); err == nil {
		if err := os.Remove(full); err != nil {
			return &storeerr.IoError{Op: "remove", Err: err}
		}
	} else if !os.IsNotExist(err) {
		return &storeerr.IoError{Op: "lstat", Err: err}
	}
	return b.m.Remove(path)
}

// Rename moves src to dst on disk and in the manifest.
func (b *Builder) Rename(src, dst string) error {
	if err := b.ensureDir(dst, false); err != nil {
		return err
	}
	if err := fsutil.Rename(b.diskPath(src), b.diskPath(dst)); err != nil {
		return err
	}
	return b.m.Rename(src, dst)
}

// MarkAsExecutable sets path's executable bit on disk and reclassifies
// it in the manifest.
func (b *Builder) MarkAsExecutable(path string) error {
	if err := xbit.SetExecutable(b.diskPath(path)); err != nil {
		return &storeerr.IoError{Op: "set executable", Err: err}
	}
	return b.m.MarkAsExecutable(path)
}

// TurnIntoSymlink reads path's current bytes as a link target (requiring
// valid UTF-8, per SPEC_FULL.md §E.2), deletes the file, creates a
// symlink in its place, and reclassifies the manifest entry.
func (b *Builder) TurnIntoSymlink(path string) error {
	full := b.diskPath(path)
	data, err := os.ReadFile(full)
	if err != nil {
		return &storeerr.IoError{Op: "read file", Err: err}
	}
	if !utf8.Valid(data) {
		return &storeerr.InvalidPathError{Path: path, Reason: "symlink target is not valid UTF-8"}
	}
	target := string(bytes.TrimRight(data, "\x00"))
	if err := os.Remove(full); err != nil {
		return &storeerr.IoError{Op: "remove", Err: err}
	}
	if err := createSymlink(full, target); err != nil {
		return &storeerr.IoError{Op: "create symlink", Err: err}
	}
	return b.m.TurnIntoSymlink(path)
}
