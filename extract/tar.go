package extract

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/zeroinstall/implstore/internal/storeerr"
)

// tarExtractor implements Extractor for plain and compressed tar
// streams. decompress, when non-nil, wraps the raw stream before tar
// parsing begins.
type tarExtractor struct {
	decompress func(io.Reader) (io.Reader, error)
}

func init() {
	Register("application/x-tar", tarExtractor{})
	Register("application/x-compressed-tar", tarExtractor{decompress: gzipReader})
	Register("application/x-bzip-compressed-tar", tarExtractor{decompress: bzip2Reader})
	// xz/lzma-compressed tar (application/x-xz-compressed-tar,
	// application/x-lzma-compressed-tar) are recognized MIME types (see
	// extract.go's extension table) but have no implementation in this
	// module: no xz/lzma decompressor appears anywhere in the example
	// corpus this module was grounded on. They are deliberately left
	// unregistered so extract.Lookup reports them absent and callers
	// raise UnsupportedKindError, per spec §4.2's fail-fast rule, rather
	// than shipping an unverified hand-rolled decoder. See DESIGN.md.
}

func gzipReader(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

func bzip2Reader(r io.Reader) (io.Reader, error) {
	return bzip2.NewReader(r), nil
}

func (t tarExtractor) Extract(ctx context.Context, sink Sink, r io.Reader, opts Options) error {
	if t.decompress != nil {
		dr, err := t.decompress(r)
		if err != nil {
			return &storeerr.IoError{Op: "open compressed tar", Err: err}
		}
		r = dr
	}

	tr := tar.NewReader(r)
	// Maps each entry's normalized archive path to its destination path so
	// hardlink targets (which tar
	// records by their original archive path, before Subdir/Destination
	// rewriting) can be resolved to the path we actually gave the sink.
	seenDst := map[string]string{}

	for {
		if err := ctx.Err(); err != nil {
			return &storeerr.CancelledError{Op: "tar extract"}
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &storeerr.IoError{Op: "read tar header", Err: err}
		}

		name, err := normalizePath(hdr.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		dst, ok := applyFilters(name, opts)
		if !ok {
			continue
		}
		mtime := hdr.ModTime
		if mtime.IsZero() {
			mtime = time.Unix(0, 0)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := sink.AddDirectory(dst); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := sink.AddSymlink(dst, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			linkName, err := normalizePath(hdr.Linkname)
			if err != nil {
				return err
			}
			src, ok := seenDst[linkName]
			if !ok {
				src = linkName
			}
			if err := sink.AddHardlink(dst, src, hdr.Mode&0o111 != 0); err != nil {
				return err
			}
		case tar.TypeReg:
			executable := hdr.Mode&0o111 != 0
			if err := sink.AddFile(dst, tr, mtime, executable); err != nil {
				return err
			}
		default:
			// Device nodes, FIFOs, etc. are not representable in the
			// manifest format and are silently skipped, matching
			// archive extraction's typical "best effort" stance toward
			// entries outside the regular-file/dir/symlink/hardlink set.
			continue
		}
		seenDst[name] = dst
	}
}
