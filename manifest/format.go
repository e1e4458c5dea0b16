package manifest

import (
	"crypto/sha1"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"

	digest "github.com/opencontainers/go-digest"
)

// Format describes the tuple of algorithms and encodings used to produce
// and digest a manifest: {prefix, separator, content digest, manifest
// digest}. The content-digest and manifest-digest algorithms within a
// format are always the same hash function; only the printable encoding
// differs by format family (hex for the "sha1new"/"sha256" families,
// RFC 4648 base32 without padding for "sha256new").
type Format struct {
	// Name is the format's identifying prefix, e.g. "sha256new".
	Name string
	// Separator sits between Name and the encoded digest in an
	// implementation identifier, e.g. "sha256new_XYZ...".
	Separator string

	newHash func() hash.Hash
	encode  func([]byte) string
}

// NewHash returns a fresh hash.Hash for this format's algorithm.
func (f Format) NewHash() hash.Hash { return f.newHash() }

// Encode renders raw digest bytes in this format's printable encoding.
func (f Format) Encode(sum []byte) string { return f.encode(sum) }

// DigestBytes hashes p and returns the format's printable encoding of the
// sum.
func (f Format) DigestBytes(p []byte) string {
	h := f.newHash()
	h.Write(p)
	return f.encode(h.Sum(nil))
}

// Identifier renders digest bytes as a full implementation identifier:
// "<prefix><separator><encoded digest>".
func (f Format) Identifier(sum []byte) string {
	return f.Name + f.Separator + f.encode(sum)
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

func base32Encode(b []byte) string {
	return base32NoPad.EncodeToString(b)
}

var (
	formatsMu sync.RWMutex
	formats   = map[string]Format{}
)

// RegisterFormat adds f to the set of known manifest formats, keyed by
// f.Name. Registering a format makes it parseable and comparable via
// ManifestDigest, but does not make store.Store.Add select it as the
// format to produce for new implementations — see SPEC_FULL.md §E.1 for
// the legacy "sha1" format's status.
func RegisterFormat(f Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[f.Name] = f
}

// LookupFormat returns the registered format named name, if any.
func LookupFormat(name string) (Format, bool) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	f, ok := formats[name]
	return f, ok
}

func init() {
	// The SHA-256 formats source their hash.Hash from
	// opencontainers/go-digest's algorithm registry, so the same hashing
	// plumbing the rest of the ecosystem uses for content-addressed
	// blobs backs this module's digests too; go-digest has no base32
	// encoding, so sha256new's encoding is base32Encode. go-digest has no
	// SHA-1 algorithm, so the SHA-1 formats use crypto/sha1 directly.
	RegisterFormat(Format{Name: "sha1new", Separator: "=", newHash: sha1.New, encode: hexEncode})
	RegisterFormat(Format{Name: "sha256", Separator: "=", newHash: digest.SHA256.Hash, encode: hexEncode})
	RegisterFormat(Format{Name: "sha256new", Separator: "_", newHash: digest.SHA256.Hash, encode: base32Encode})
	// Legacy pre-"new" manifest format. Parseable and usable as an
	// envelope lookup key; store.Add produces it only for an envelope
	// whose sole non-empty field is sha1 (SPEC_FULL.md §E.1).
	RegisterFormat(Format{Name: "sha1", Separator: "=", newHash: sha1.New, encode: hexEncode})
}

func formatNames() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	return names
}

// errUnknownFormat is returned by ParseIdentifier when no registered
// format's prefix+separator matches.
type errUnknownFormat struct{ identifier string }

func (e errUnknownFormat) Error() string {
	return fmt.Sprintf("unknown manifest format for identifier %q", e.identifier)
}
