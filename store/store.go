// Package store implements the content-addressed implementation store
// engine of spec §4.3: admission with digest verification, lookup,
// removal, cross-process mutual exclusion, temp-directory discipline,
// write-protection, and hardlink-based deduplication. It also hosts the
// Builder (§4.2) that populates a tree ahead of admission.
//
// Grounded on the teacher's registry/storage package: Store.Add mirrors
// blobWriter.doCommit's validate-then-move-then-finalize sequence,
// Store.Remove mirrors vacuum.go's best-effort recursive delete, and
// Store.Optimise's walk is grounded on registry/storage/walk.go's
// sorted, recursive directory walk.
package store

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeroinstall/implstore/internal/fsutil"
	"github.com/zeroinstall/implstore/internal/idgen"
	"github.com/zeroinstall/implstore/internal/logctx"
	"github.com/zeroinstall/implstore/internal/storeerr"
	"github.com/zeroinstall/implstore/internal/xbit"
	"github.com/zeroinstall/implstore/manifest"
)

const (
	extractPrefix = "0install-extract-"
	removePrefix  = "0install-remove-"
)

// Store is a content-addressed tree of finalized implementations rooted
// at a single local directory.
type Store struct {
	root string
}

// Open returns a Store rooted at root, creating root if it does not
// exist.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &storeerr.IoError{Op: "resolve store root", Err: err}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &storeerr.IoError{Op: "create store root", Err: err}
	}
	return &Store{root: abs}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Lock returns the named cross-process lock file for name, scoped to
// this store's .locks directory. Used by the fetch package to serialize
// concurrent attempts to fetch the same implementation (spec §6).
func (s *Store) Lock(name string) (*NamedLock, error) {
	return newNamedLock(s.root, name)
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, extractPrefix) || strings.HasPrefix(name, removePrefix)
}

// GetPath resolves d to its absolute on-disk path, checking every
// non-empty field of the envelope (not just Best()), since any matching
// field identifies the same implementation.
func (s *Store) GetPath(d manifest.Digest) (string, bool) {
	for _, name := range bestOrderNames() {
		value := digestField(d, name)
		if value == "" {
			continue
		}
		f, ok := manifest.LookupFormat(name)
		if !ok {
			continue
		}
		p := filepath.Join(s.root, f.Name+f.Separator+value)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// Contains reports whether d is present in the store.
func (s *Store) Contains(d manifest.Digest) bool {
	_, ok := s.GetPath(d)
	return ok
}

// ListAll enumerates every finalized implementation under the store
// root as a snapshot; entries that appear or disappear mid-walk may or
// may not be included, per spec §5.
func (s *Store) ListAll() ([]manifest.Digest, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, &storeerr.IoError{Op: "list store root", Err: err}
	}
	var out []manifest.Digest
	for _, e := range entries {
		if !e.IsDir() || e.Name() == locksDir || isTempName(e.Name()) {
			continue
		}
		d, err := manifest.ParseIdentifier(e.Name())
		if err != nil {
			continue // foreign name, ignored
		}
		out = append(out, d)
	}
	return out, nil
}

// ListTemp enumerates in-progress build and removal temp directories.
func (s *Store) ListTemp() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, &storeerr.IoError{Op: "list store root", Err: err}
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && isTempName(e.Name()) {
			out = append(out, filepath.Join(s.root, e.Name()))
		}
	}
	return out, nil
}

// Stats reports the number of finalized implementations and their total
// size in bytes. A supplement beyond spec.md's operation table (see
// SPEC_FULL.md §D.2), grounded on the teacher's catalog enumeration.
type Stats struct {
	Implementations int
	TotalBytes      int64
}

// Stats walks the store root and totals implementation sizes.
func (s *Store) Stats() (Stats, error) {
	all, err := s.ListAll()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	st.Implementations = len(all)
	for _, d := range all {
		path, ok := s.GetPath(d)
		if !ok {
			continue
		}
		_ = fsutil.Walk(path, func(rel string, de fs.DirEntry) error {
			if de.IsDir() || rel == ".manifest" {
				return nil
			}
			info, err := de.Info()
			if err != nil {
				return nil
			}
			st.TotalBytes += info.Size()
			return nil
		})
	}
	return st, nil
}

// BuildFunc populates a freshly created Builder; its return value is
// propagated by Add after temp-directory cleanup.
type BuildFunc func(ctx context.Context, b *Builder) error

// Add admits a new implementation: it creates a temp directory inside
// the store, runs build against a Builder rooted there, serializes and
// digests the resulting manifest, verifies the digest against d, then
// write-protects and atomically renames the temp directory into place.
// Implements the protocol of spec §4.3.
func (s *Store) Add(ctx context.Context, d manifest.Digest, build BuildFunc) (string, error) {
	format, ok := d.Format()
	if !ok {
		return "", &storeerr.UnsupportedKindError{Kind: "manifest digest format"}
	}

	tempDir := filepath.Join(s.root, extractPrefix+idgen.Suffix())
	if err := os.Mkdir(tempDir, 0o755); err != nil {
		return "", &storeerr.IoError{Op: "create temp dir", Err: err}
	}
	cleanup := func() {
		_ = fsutil.RemoveAll(tempDir)
	}

	b := NewBuilder(tempDir, format)
	if err := build(ctx, b); err != nil {
		cleanup()
		if ctx.Err() != nil {
			return "", &storeerr.CancelledError{Op: "add"}
		}
		return "", err
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return "", &storeerr.CancelledError{Op: "add"}
	}

	data := manifest.Serialize(b.Manifest())
	if err := os.WriteFile(filepath.Join(tempDir, ".manifest"), data, 0o644); err != nil {
		cleanup()
		return "", &storeerr.IoError{Op: "write manifest", Err: err}
	}

	computed := manifest.DigestOf(b.Manifest())
	_, bestValue, _ := d.Best()
	if bestValue != computed {
		logctx.GetLogger(ctx).WithField("expected", bestValue).WithField("actual", computed).Warn("manifest digest mismatch on admission")
		cleanup()
		return "", &storeerr.DigestMismatchError{
			Expected: format.Name + format.Separator + bestValue,
			Actual:   format.Name + format.Separator + computed,
		}
	}

	// §4.3 step 6 requires checking every non-empty expected variant, not
	// just the strongest one: an envelope can carry several formats, and
	// a caller that got one secondary field wrong should not have its
	// implementation admitted under a mismatched identity.
	for _, name := range bestOrderNames() {
		expected := digestField(d, name)
		if expected == "" || name == format.Name {
			continue
		}
		otherFormat, ok := manifest.LookupFormat(name)
		if !ok {
			continue
		}
		other, err := rebuildManifest(tempDir, otherFormat)
		if err != nil {
			cleanup()
			return "", err
		}
		if got := manifest.DigestOf(other); got != expected {
			logctx.GetLogger(ctx).WithField("format", name).WithField("expected", expected).WithField("actual", got).Warn("manifest digest mismatch on admission")
			cleanup()
			return "", &storeerr.DigestMismatchError{
				Expected: name + otherFormat.Separator + expected,
				Actual:   name + otherFormat.Separator + got,
			}
		}
	}

	if err := fsutil.Protect(tempDir); err != nil {
		cleanup()
		return "", err
	}

	identifier := format.Name + format.Separator + computed
	finalPath := filepath.Join(s.root, identifier)
	if _, err := os.Stat(finalPath); err == nil {
		cleanup()
		return "", &storeerr.AlreadyInStoreError{Identifier: identifier}
	}
	if err := fsutil.Rename(tempDir, finalPath); err != nil {
		if _, statErr := os.Stat(finalPath); statErr == nil {
			cleanup()
			return "", &storeerr.AlreadyInStoreError{Identifier: identifier}
		}
		cleanup()
		return "", err
	}
	_ = fsutil.FsyncDir(s.root)
	return finalPath, nil
}

// Remove deletes the implementation identified by d, if present. It
// first renames the tree out of the lookup namespace (so concurrent
// GetPath calls stop seeing it atomically), falling back to an
// unprotect-then-delete-in-place sequence when rename fails (e.g.
// cross-device), per spec §4.3.
func (s *Store) Remove(d manifest.Digest) (bool, error) {
	path, ok := s.GetPath(d)
	if !ok {
		return false, nil
	}
	tempPath := filepath.Join(s.root, removePrefix+idgen.Suffix())
	if err := os.Rename(path, tempPath); err != nil {
		if err := fsutil.RemoveAll(path); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := fsutil.RemoveAll(tempPath); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveTemp deletes the temp directory at path, rejecting any path
// that does not resolve inside the store root.
func (s *Store) RemoveTemp(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, &storeerr.IoError{Op: "resolve temp path", Err: err}
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return false, &storeerr.InvalidPathError{Path: path, Reason: "outside store root"}
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return false, nil
	}
	if err := fsutil.RemoveAll(abs); err != nil {
		return false, err
	}
	return true, nil
}

// Purge removes every implementation and temp directory owned by the
// store.
func (s *Store) Purge() error {
	all, err := s.ListAll()
	if err != nil {
		return err
	}
	for _, d := range all {
		if _, err := s.Remove(d); err != nil {
			return err
		}
	}
	temps, err := s.ListTemp()
	if err != nil {
		return err
	}
	for _, t := range temps {
		if _, err := s.RemoveTemp(t); err != nil {
			return err
		}
	}
	return nil
}

// ConfirmDelete is asked for permission before Verify deletes an
// implementation whose on-disk contents no longer match its digest.
type ConfirmDelete func(ctx context.Context, identifier, reason string) (bool, error)

// Verify rebuilds the manifest of the implementation identified by d
// directly from disk and compares it against both the persisted
// .manifest file and the digest implied by d's identifier. On any
// mismatch it calls confirm; if confirm approves, the implementation is
// removed. Returns whether the implementation was found to be corrupt
// (regardless of whether it was deleted).
func (s *Store) Verify(ctx context.Context, d manifest.Digest, confirm ConfirmDelete) (corrupt bool, err error) {
	path, ok := s.GetPath(d)
	if !ok {
		return false, &storeerr.NotFoundError{Identifier: d.Identifier()}
	}
	format, ok := d.Format()
	if !ok {
		return false, &storeerr.UnsupportedKindError{Kind: "manifest digest format"}
	}

	rebuilt, err := rebuildManifest(path, format)
	if err != nil {
		return false, err
	}
	rebuiltBytes := manifest.Serialize(rebuilt)
	rebuiltDigest := manifest.DigestOf(rebuilt)

	_, expected, _ := d.Best()
	reason := ""
	switch {
	case rebuiltDigest != expected:
		reason = "on-disk contents no longer match the expected digest"
	default:
		onDisk, err := os.ReadFile(filepath.Join(path, ".manifest"))
		if err != nil || string(onDisk) != string(rebuiltBytes) {
			reason = "stored .manifest no longer matches on-disk contents"
		}
	}
	if reason == "" {
		return false, nil
	}

	logctx.GetLogger(ctx).WithField("path", path).WithField("reason", reason).Warn("implementation failed verification")
	if confirm == nil {
		return true, nil
	}
	approved, err := confirm(ctx, filepath.Base(path), reason)
	if err != nil {
		return true, err
	}
	if approved {
		if _, err := s.Remove(d); err != nil {
			return true, err
		}
	}
	return true, nil
}

// rebuildManifest walks path and constructs a fresh manifest from what
// is actually on disk, skipping the reserved .manifest/.xbit/.symlink
// names and the directory root itself.
func rebuildManifest(path string, format manifest.Format) (*manifest.Manifest, error) {
	m := manifest.New(format)
	err := fsutil.Walk(path, func(rel string, d fs.DirEntry) error {
		if rel == "" || rel == ".manifest" || rel == ".xbit" || rel == ".symlink" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return &storeerr.IoError{Op: "stat " + rel, Err: err}
		}
		full := filepath.Join(path, filepath.FromSlash(rel))
		switch {
		case d.IsDir():
			return m.AddDirectory(rel)
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return &storeerr.IoError{Op: "readlink " + rel, Err: err}
			}
			h := format.NewHash()
			h.Write([]byte(target))
			return m.AddSymlink(rel, format.Encode(h.Sum(nil)), int64(len(target)))
		default:
			f, err := os.Open(full)
			if err != nil {
				return &storeerr.IoError{Op: "open " + rel, Err: err}
			}
			defer f.Close()
			h := format.NewHash()
			n, err := io.Copy(h, f)
			if err != nil {
				return &storeerr.IoError{Op: "read " + rel, Err: err}
			}
			return m.AddFile(rel, format.Encode(h.Sum(nil)), info.ModTime().Unix(), n, xbit.IsExecutable(full, info))
		}
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func bestOrderNames() []string {
	return []string{"sha256new", "sha256", "sha1new", "sha1"}
}

func digestField(d manifest.Digest, name string) string {
	switch name {
	case "sha256new":
		return d.Sha256New
	case "sha256":
		return d.Sha256
	case "sha1new":
		return d.Sha1New
	case "sha1":
		return d.Sha1
	}
	return ""
}
