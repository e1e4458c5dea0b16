package manifest

import (
	"sort"
	"strings"

	"github.com/zeroinstall/implstore/internal/storeerr"
)

// reservedNames may never appear as the leaf segment of a path: they are
// the legacy flag-file names and the manifest file itself, which the
// format makes unrepresentable as ordinary tree content.
var reservedNames = map[string]bool{
	".manifest": true,
	".xbit":     true,
	".symlink":  true,
}

// Manifest is the in-memory, directory-map representation of §3: a map
// from directory path ("" for root) to an ordered-by-name bucket of
// elements. Two manifests with the same Format and the same logical
// content always serialize identically, regardless of the order their
// operations were applied in.
type Manifest struct {
	Format Format
	dirs   map[string]map[string]Element
}

// New returns an empty manifest (just the root directory) in format f.
func New(f Format) *Manifest {
	return &Manifest{
		Format: f,
		dirs:   map[string]map[string]Element{"": {}},
	}
}

func validateSegment(seg, full string) error {
	if seg == "" || seg == "." || seg == ".." {
		return &storeerr.InvalidPathError{Path: full, Reason: "invalid path segment " + seg}
	}
	if strings.ContainsRune(seg, '\n') {
		return &storeerr.InvalidPathError{Path: full, Reason: "segment contains LF"}
	}
	return nil
}

// validatePath checks a caller-supplied relative path (no leading/
// trailing slash, POSIX separators, no ".."/"." segments, no LF, and a
// leaf name that is not one of the reserved flag-file names).
func validatePath(p string) error {
	if p == "" {
		return &storeerr.InvalidPathError{Path: p, Reason: "empty path"}
	}
	if strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return &storeerr.InvalidPathError{Path: p, Reason: "absolute or trailing-slash path"}
	}
	segs := strings.Split(p, "/")
	for _, seg := range segs {
		if err := validateSegment(seg, p); err != nil {
			return err
		}
	}
	leaf := segs[len(segs)-1]
	if reservedNames[leaf] {
		return &storeerr.InvalidPathError{Path: p, Reason: "reserved name " + leaf}
	}
	return nil
}

// splitDirName splits a file/symlink path into its parent directory key
// and leaf name. "" (root file "f") -> ("", "f"); "a/b/f" -> ("a/b", "f").
func splitDirName(p string) (dir, name string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// AddDirectory creates an empty bucket at path if absent. Idempotent.
// path == "" refers to the already-present root and is always a no-op.
func (m *Manifest) AddDirectory(path string) error {
	if path == "" {
		return nil
	}
	if err := validatePath(path); err != nil {
		return err
	}
	if _, ok := m.dirs[path]; !ok {
		m.dirs[path] = map[string]Element{}
	}
	return nil
}

func (m *Manifest) requireDir(dir string) (map[string]Element, error) {
	b, ok := m.dirs[dir]
	if !ok {
		return nil, &storeerr.NotFoundError{Identifier: dir}
	}
	return b, nil
}

// AddFile inserts or replaces a normal or executable file element.
// Returns NotFoundError if path's parent directory bucket does not exist.
func (m *Manifest) AddFile(path string, digest string, mtimeUnix int64, size int64, executable bool) error {
	if err := validatePath(path); err != nil {
		return err
	}
	dir, name := splitDirName(path)
	bucket, err := m.requireDir(dir)
	if err != nil {
		return err
	}
	kind := KindFile
	if executable {
		kind = KindExecutable
	}
	bucket[name] = Element{Kind: kind, Name: name, Digest: digest, Size: size, MtimeUnix: mtimeUnix}
	return nil
}

// AddSymlink inserts or replaces a symlink element. digest/size describe
// the UTF-8 bytes of the link target, not the element's stored surrogate.
func (m *Manifest) AddSymlink(path string, digest string, size int64) error {
	if err := validatePath(path); err != nil {
		return err
	}
	dir, name := splitDirName(path)
	bucket, err := m.requireDir(dir)
	if err != nil {
		return err
	}
	bucket[name] = Element{Kind: KindSymlink, Name: name, Digest: digest, Size: size}
	return nil
}

// Remove deletes path from the manifest. If path names a directory
// bucket, the bucket and every bucket nested under it are removed.
// Otherwise path's leaf element is removed from its parent bucket.
// Returns NotFoundError if nothing matched.
func (m *Manifest) Remove(path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if _, ok := m.dirs[path]; ok {
		prefix := path + "/"
		delete(m.dirs, path)
		for k := range m.dirs {
			if strings.HasPrefix(k, prefix) {
				delete(m.dirs, k)
			}
		}
		return nil
	}
	dir, name := splitDirName(path)
	bucket, ok := m.dirs[dir]
	if !ok {
		return &storeerr.NotFoundError{Identifier: path}
	}
	if _, ok := bucket[name]; !ok {
		return &storeerr.NotFoundError{Identifier: path}
	}
	delete(bucket, name)
	return nil
}

// Rename moves src to dst, either as a single file/symlink rename within
// or across buckets, or — when src names a directory — as a bucket-key
// rewrite of src and every descendant bucket. Returns NotFoundError if
// nothing matched src.
func (m *Manifest) Rename(src, dst string) error {
	if err := validatePath(src); err != nil {
		return err
	}
	if err := validatePath(dst); err != nil {
		return err
	}

	if _, ok := m.dirs[src]; ok {
		if _, clash := m.dirs[dst]; clash {
			return &storeerr.InvalidPathError{Path: dst, Reason: "destination directory already exists"}
		}
		prefix := src + "/"
		renamed := map[string]map[string]Element{}
		for k, v := range m.dirs {
			switch {
			case k == src:
				renamed[dst] = v
			case strings.HasPrefix(k, prefix):
				renamed[dst+"/"+strings.TrimPrefix(k, prefix)] = v
			default:
				renamed[k] = v
			}
		}
		m.dirs = renamed
		return nil
	}

	srcDir, srcName := splitDirName(src)
	bucket, ok := m.dirs[srcDir]
	if !ok {
		return &storeerr.NotFoundError{Identifier: src}
	}
	elem, ok := bucket[srcName]
	if !ok {
		return &storeerr.NotFoundError{Identifier: src}
	}
	dstDir, dstName := splitDirName(dst)
	dstBucket, err := m.requireDir(dstDir)
	if err != nil {
		return err
	}
	delete(bucket, srcName)
	elem.Name = dstName
	dstBucket[dstName] = elem
	return nil
}

// Hardlink reuses the element found at src under the new name dst
// without re-digesting its content. src and dst must both be files or
// symlinks (not directories).
func (m *Manifest) Hardlink(src, dst string) error {
	if err := validatePath(src); err != nil {
		return err
	}
	if err := validatePath(dst); err != nil {
		return err
	}
	srcDir, srcName := splitDirName(src)
	bucket, ok := m.dirs[srcDir]
	if !ok {
		return &storeerr.NotFoundError{Identifier: src}
	}
	elem, ok := bucket[srcName]
	if !ok {
		return &storeerr.NotFoundError{Identifier: src}
	}
	dstDir, dstName := splitDirName(dst)
	dstBucket, err := m.requireDir(dstDir)
	if err != nil {
		return err
	}
	elem.Name = dstName
	dstBucket[dstName] = elem
	return nil
}

// MarkAsExecutable reclassifies the file at path as executable, leaving
// its digest, mtime and size unchanged.
func (m *Manifest) MarkAsExecutable(path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	dir, name := splitDirName(path)
	bucket, ok := m.dirs[dir]
	if !ok {
		return &storeerr.NotFoundError{Identifier: path}
	}
	elem, ok := bucket[name]
	if !ok || !elem.IsFile() {
		return &storeerr.NotFoundError{Identifier: path}
	}
	bucket[name] = elem.asExecutable()
	return nil
}

// TurnIntoSymlink reclassifies the file at path as a symlink, keeping its
// digest and size (now interpreted as the target bytes' digest/length).
// The caller is responsible for ensuring the underlying bytes are
// semantically a link target; see SPEC_FULL.md §E.2 for this module's
// stance on non-UTF-8 payloads (enforced by store.Builder, which has the
// actual bytes — this method only reclassifies the element).
func (m *Manifest) TurnIntoSymlink(path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	dir, name := splitDirName(path)
	bucket, ok := m.dirs[dir]
	if !ok {
		return &storeerr.NotFoundError{Identifier: path}
	}
	elem, ok := bucket[name]
	if !ok || !elem.IsFile() {
		return &storeerr.NotFoundError{Identifier: path}
	}
	bucket[name] = elem.asSymlink()
	return nil
}

// WithOffset returns a new manifest whose every file mtime is
// ((t+1)/2)*2 + deltaSeconds — used by deployers to make filesystems with
// 2-second mtime granularity round-trip identically.
func (m *Manifest) WithOffset(deltaSeconds int64) *Manifest {
	out := &Manifest{Format: m.Format, dirs: make(map[string]map[string]Element, len(m.dirs))}
	for dir, bucket := range m.dirs {
		nb := make(map[string]Element, len(bucket))
		for name, e := range bucket {
			if e.IsFile() {
				e.MtimeUnix = ((e.MtimeUnix+1)/2)*2 + deltaSeconds
			}
			nb[name] = e
		}
		out.dirs[dir] = nb
	}
	return out
}

// ListPaths returns every directory path (excluding the implicit root)
// and every file/symlink path in the manifest, in no particular order.
func (m *Manifest) ListPaths() []string {
	var out []string
	for dir, bucket := range m.dirs {
		if dir != "" {
			out = append(out, dir)
		}
		for name := range bucket {
			if dir == "" {
				out = append(out, name)
			} else {
				out = append(out, dir+"/"+name)
			}
		}
	}
	return out
}

// Lookup returns the element stored at path and whether it was found.
// Directories are not returned by Lookup; use HasDirectory.
func (m *Manifest) Lookup(path string) (Element, bool) {
	dir, name := splitDirName(path)
	bucket, ok := m.dirs[dir]
	if !ok {
		return Element{}, false
	}
	e, ok := bucket[name]
	return e, ok
}

// HasDirectory reports whether path names a directory bucket (including
// "" for root).
func (m *Manifest) HasDirectory(path string) bool {
	_, ok := m.dirs[path]
	return ok
}

// sortedDirPaths returns every directory key in byte-wise ascending
// order, root ("") first.
func (m *Manifest) sortedDirPaths() []string {
	paths := make([]string, 0, len(m.dirs))
	for p := range m.dirs {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		if paths[i] == "" {
			return paths[j] != ""
		}
		if paths[j] == "" {
			return false
		}
		return paths[i] < paths[j]
	})
	return paths
}

func sortedNames(bucket map[string]Element) []string {
	names := make([]string, 0, len(bucket))
	for n := range bucket {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
