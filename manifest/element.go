package manifest

// Kind identifies which of the four element variants a line encodes.
type Kind byte

const (
	KindDirectory  Kind = 'D'
	KindFile       Kind = 'F'
	KindExecutable Kind = 'X'
	KindSymlink    Kind = 'S'
)

// Element is one named node within a directory bucket: a normal file, an
// executable file, or a symlink. (Directory headers are not Elements —
// they are the map keys of Manifest itself; see manifest.go.)
type Element struct {
	Kind Kind

	Name string

	// Digest is the content digest, encoded in the owning Manifest's
	// Format. For files this is the digest of the raw file bytes; for
	// symlinks it is the digest of the UTF-8 target bytes.
	Digest string

	// Size is the byte length of the content whose Digest is recorded:
	// file bytes for F/X, target bytes for S.
	Size int64

	// MtimeUnix is only meaningful for F/X elements.
	MtimeUnix int64
}

// IsFile reports whether e is a normal or executable file.
func (e Element) IsFile() bool {
	return e.Kind == KindFile || e.Kind == KindExecutable
}

// Executable reports whether e is an executable-file element.
func (e Element) Executable() bool {
	return e.Kind == KindExecutable
}

// asExecutable returns a copy of e reclassified as KindExecutable.
func (e Element) asExecutable() Element {
	e.Kind = KindExecutable
	return e
}

// asSymlink returns a copy of e reclassified as KindSymlink, clearing the
// file-only MtimeUnix field.
func (e Element) asSymlink() Element {
	e.Kind = KindSymlink
	e.MtimeUnix = 0
	return e
}
