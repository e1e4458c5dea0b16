// Package extract defines the narrow capability interface archive
// extractors use to feed entries into a builder (spec §4.5/§9), and the
// fixed MIME-type registry extractors are selected from.
package extract

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/zeroinstall/implstore/internal/storeerr"
)

// Sink is the capability set an Extractor needs from a builder:
// add_directory/add_file/add_symlink/add_hardlink, and nothing else.
// Exposing only this interface (rather than the full *store.Builder)
// avoids a back-edge from extract to store, per spec §9.
type Sink interface {
	AddDirectory(path string) error
	AddFile(path string, r io.Reader, mtime time.Time, executable bool) error
	AddHardlink(path, src string, executable bool) error
	AddSymlink(path, target string) error
}

// Options carries the archive-level parameters of a Download step: an
// optional subdir filter and an optional re-rooting destination.
// start_offset is handled by the caller before Extract is invoked (it is
// a property of the byte stream, not of archive parsing).
type Options struct {
	// Subdir, if non-empty, restricts emitted entries to those whose
	// normalized archive path starts with Subdir, with that prefix
	// stripped.
	Subdir string
	// Destination, if non-empty, re-roots every emitted entry under it.
	Destination string
}

// Extractor iterates an archive's entries in their stored order and
// calls the appropriate Sink method for each, after normalizing paths
// (rejecting absolute paths and "..") and applying Options.
type Extractor interface {
	Extract(ctx context.Context, sink Sink, r io.Reader, opts Options) error
}

var (
	mu         sync.RWMutex
	extractors = map[string]Extractor{}
	// mimeByExt and extByMime implement the fixed MIME<->extension
	// table of spec §4.5, used for inferring MIME type from a URL.
	mimeByExt = map[string]string{}
	extByMime = map[string]string{}
)

// Register associates mimeType with an Extractor implementation.
// Registering with a nil Extractor removes any Extractor registered for
// mimeType: Lookup then reports it absent, so callers raise
// UnsupportedKindError rather than silently mis-extracting. The
// extension table is not changed.
func Register(mimeType string, ext Extractor) {
	mu.Lock()
	defer mu.Unlock()
	if ext != nil {
		extractors[mimeType] = ext
	} else {
		delete(extractors, mimeType)
	}
}

// RegisterExtension records the file-extension <-> MIME-type mapping
// used by MimeForExtension and ExtensionForMime.
func RegisterExtension(ext, mimeType string) {
	mu.Lock()
	defer mu.Unlock()
	mimeByExt[ext] = mimeType
	if _, exists := extByMime[mimeType]; !exists {
		extByMime[mimeType] = ext
	}
}

// Lookup returns the registered, implemented Extractor for mimeType.
func Lookup(mimeType string) (Extractor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := extractors[mimeType]
	return e, ok
}

// MimeForExtension infers a MIME type from a URL or file name by its
// longest matching registered extension suffix.
func MimeForExtension(name string) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()
	lower := strings.ToLower(name)
	best := ""
	bestMime := ""
	for ext, mimeType := range mimeByExt {
		if strings.HasSuffix(lower, ext) && len(ext) > len(best) {
			best = ext
			bestMime = mimeType
		}
	}
	if best == "" {
		return "", false
	}
	return bestMime, true
}

// normalizePath validates and normalizes an archive entry path: POSIX
// separators, no leading "/", no ".." segments.
func normalizePath(p string) (string, error) {
	p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./")
	if strings.HasPrefix(p, "/") {
		return "", &storeerr.InvalidPathError{Path: p, Reason: "absolute archive entry path"}
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if s == ".." {
			return "", &storeerr.InvalidPathError{Path: p, Reason: "archive entry path contains .."}
		}
	}
	return strings.TrimSuffix(p, "/"), nil
}

// applyFilters applies Options.Subdir (prefix filter + strip) and
// Options.Destination (re-root) to a normalized entry path. The second
// return value is false if the entry should be dropped (outside Subdir).
func applyFilters(p string, opts Options) (string, bool) {
	if opts.Subdir != "" {
		prefix := strings.TrimSuffix(opts.Subdir, "/")
		switch {
		case p == prefix:
			p = ""
		case strings.HasPrefix(p, prefix+"/"):
			p = strings.TrimPrefix(p, prefix+"/")
		default:
			return "", false
		}
	}
	if opts.Destination != "" {
		if p == "" {
			p = opts.Destination
		} else {
			p = opts.Destination + "/" + p
		}
	}
	return p, true
}

func init() {
	for ext, mimeType := range map[string]string{
		".zip":       "application/zip",
		".tar":       "application/x-tar",
		".tar.gz":    "application/x-compressed-tar",
		".tgz":       "application/x-compressed-tar",
		".tar.bz2":   "application/x-bzip-compressed-tar",
		".tbz2":      "application/x-bzip-compressed-tar",
		".tar.xz":    "application/x-xz-compressed-tar",
		".txz":       "application/x-xz-compressed-tar",
		".tar.lzma":  "application/x-lzma-compressed-tar",
		".7z":        "application/x-7z-compressed",
		".rpm":       "application/x-rpm",
		".cab":       "application/vnd.ms-cab-compressed",
		".msi":       "application/x-msi",
		".deb":       "application/x-deb",
	} {
		RegisterExtension(ext, mimeType)
	}
}
