package store

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeroinstall/implstore/extract"
	"github.com/zeroinstall/implstore/internal/storeerr"
	"github.com/zeroinstall/implstore/internal/xbit"
	"github.com/zeroinstall/implstore/manifest"
)

// StepKind identifies which retrieval-step variant a Step carries.
type StepKind int

const (
	StepDownloadArchive StepKind = iota
	StepDownloadFile
	StepRemove
	StepRename
	StepCopyFrom
)

// Step is a tagged variant of the five retrieval-recipe steps named in
// spec §4.2/§9: Download (archive or single file), Remove, Rename, and
// CopyFrom. Exactly the fields relevant to Kind are meaningful.
type Step struct {
	Kind StepKind

	// Archive download fields.
	Href        string // for diagnostics/mirror fallback only
	MimeType    string
	Open        func(ctx context.Context) (io.ReadCloser, error)
	Extract     string // subdir filter, entries outside it are dropped
	Destination string // re-root extracted entries under this path
	StartOffset int64  // bytes to skip before archive parsing begins

	// Single-file download fields (Destination reused, must be one name).
	// Open is reused for the byte stream; MimeType is ignored.

	// Remove/Rename fields.
	Path string // Remove
	Src  string // Rename source
	Dst  string // Rename destination

	// CopyFrom fields.
	SourceDigest  manifest.Digest // sibling implementation to resolve via the store
	SourceSubPath string          // "source" in spec
	// Destination (above) is where it lands in the current tree.
}

// DigestLookup is the minimal capability CopyFrom needs from a Store:
// resolve a sibling implementation's digest envelope to its on-disk
// path. *Store implements this directly.
type DigestLookup interface {
	GetPath(d manifest.Digest) (string, bool)
}

// Recipe is an ordered sequence of steps whose net effect, applied to a
// Builder in order, is a complete implementation tree.
type Recipe struct {
	Steps []Step
}

// RetrievalMethodKind distinguishes the three top-level retrieval method
// shapes named in spec §9.
type RetrievalMethodKind int

const (
	MethodDownload RetrievalMethodKind = iota
	MethodRecipe
	MethodExternal
)

// RetrievalMethod is a tagged variant: a single download, a recipe of
// steps, or an external (native package manager) installation.
type RetrievalMethod struct {
	Kind RetrievalMethodKind

	// MethodDownload: exactly one step (archive or single file).
	Download Step
	// DeclaredSize is the retrieval method's advertised byte size, used
	// by the fetcher's ranking rule; 0 if unknown.
	DeclaredSize int64

	// MethodRecipe.
	Recipe Recipe

	// MethodExternal.
	ExternalInstall func(ctx context.Context) error
	Confirm         func(ctx context.Context) (bool, error) // nil if the method carries no question of its own
}

// StepCount returns the number of steps this method represents for the
// fetcher's ranking rule #3 (fewer steps first among recipes); downloads
// count as a single step.
func (m RetrievalMethod) StepCount() int {
	switch m.Kind {
	case MethodRecipe:
		return len(m.Recipe.Steps)
	default:
		return 1
	}
}

// Apply runs every step of r against b in order. A digest-mismatch check
// is the caller's responsibility (Store.Add performs it after Apply
// returns); Apply only reports step-level failures.
func (r Recipe) Apply(ctx context.Context, b *Builder, lookup DigestLookup) error {
	for _, step := range r.Steps {
		if err := ctx.Err(); err != nil {
			return &storeerr.CancelledError{Op: "apply recipe"}
		}
		if err := applyStep(ctx, b, lookup, step); err != nil {
			return err
		}
	}
	return nil
}

func applyStep(ctx context.Context, b *Builder, lookup DigestLookup, step Step) error {
	switch step.Kind {
	case StepDownloadArchive:
		return applyDownloadArchive(ctx, b, step)
	case StepDownloadFile:
		return applyDownloadFile(ctx, b, step)
	case StepRemove:
		return b.Remove(step.Path)
	case StepRename:
		return b.Rename(step.Src, step.Dst)
	case StepCopyFrom:
		return applyCopyFrom(ctx, b, lookup, step)
	default:
		return &storeerr.UnsupportedKindError{Kind: "retrieval-step"}
	}
}

func applyDownloadArchive(ctx context.Context, b *Builder, step Step) error {
	ext, ok := extract.Lookup(step.MimeType)
	if !ok {
		return &storeerr.UnsupportedKindError{Kind: "archive mime type: " + step.MimeType, Context: step.Href}
	}
	rc, err := step.Open(ctx)
	if err != nil {
		return &storeerr.IoError{Op: "open archive", Err: err}
	}
	defer rc.Close()

	if step.StartOffset > 0 {
		if _, err := io.CopyN(io.Discard, rc, step.StartOffset); err != nil {
			return &storeerr.IoError{Op: "skip start offset", Err: err}
		}
	}

	opts := extract.Options{
		Subdir:      step.Extract,
		Destination: step.Destination,
	}
	return ext.Extract(ctx, builderSink{b}, rc, opts)
}

func applyDownloadFile(ctx context.Context, b *Builder, step Step) error {
	if step.Destination == "" {
		return &storeerr.InvalidPathError{Path: "", Reason: "single-file download requires a destination"}
	}
	rc, err := step.Open(ctx)
	if err != nil {
		return &storeerr.IoError{Op: "open file download", Err: err}
	}
	defer rc.Close()
	return b.AddFile(step.Destination, rc, fixedEpoch, false)
}

func applyCopyFrom(ctx context.Context, b *Builder, lookup DigestLookup, step Step) error {
	if lookup == nil {
		return &storeerr.NotFoundError{Identifier: step.SourceDigest.Identifier()}
	}
	srcRoot, ok := lookup.GetPath(step.SourceDigest)
	if !ok {
		return &storeerr.NotFoundError{Identifier: step.SourceDigest.Identifier()}
	}
	return copyTree(ctx, b, filepath.Join(srcRoot, filepath.FromSlash(step.SourceSubPath)), step.Destination)
}

// copyTree copies every entry under srcRoot (an absolute disk path) into
// b's tree rooted at dstPrefix, rehashing file bytes and preserving
// mtimes, per the CopyFrom step's contract in spec §4.2. The reserved
// ".manifest" file, if present at srcRoot's top level, is never copied:
// it is store metadata, not tree content.
func copyTree(ctx context.Context, b *Builder, srcRoot, dstPrefix string) error {
	return filepath.WalkDir(srcRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == srcRoot {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return &storeerr.CancelledError{Op: "copy-from"}
		}
		rel := filepath.ToSlash(mustRel(srcRoot, p))
		if rel == ".manifest" {
			return nil
		}
		dst := rel
		if dstPrefix != "" {
			dst = dstPrefix + "/" + rel
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return &storeerr.IoError{Op: "readlink", Err: err}
			}
			return b.AddSymlink(dst, target)
		case d.IsDir():
			return b.AddDirectory(dst)
		default:
			f, err := os.Open(p)
			if err != nil {
				return &storeerr.IoError{Op: "open source file", Err: err}
			}
			defer f.Close()
			return b.AddFile(dst, f, info.ModTime(), xbit.IsExecutable(p, info))
		}
	})
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}

// builderSink adapts *Builder to extract.Sink, the narrow capability
// interface archive extractors use (spec §9: "avoiding back-edges").
type builderSink struct{ b *Builder }

func (s builderSink) AddDirectory(path string) error { return s.b.AddDirectory(path) }
func (s builderSink) AddFile(path string, r io.Reader, mtime time.Time, executable bool) error {
	return s.b.AddFile(path, r, mtime, executable)
}
func (s builderSink) AddHardlink(path, src string, executable bool) error {
	return s.b.AddHardlink(path, src, executable)
}
func (s builderSink) AddSymlink(path, target string) error { return s.b.AddSymlink(path, target) }

var _ extract.Sink = builderSink{}
