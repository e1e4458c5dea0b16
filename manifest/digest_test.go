package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestBestPrefersStrongestFormat(t *testing.T) {
	d := Digest{Sha1: "aaa", Sha256New: "bbb"}
	name, value, ok := d.Best()
	require.True(t, ok)
	assert.Equal(t, "sha256new", name)
	assert.Equal(t, "bbb", value)
}

func TestDigestEmptyHasNoBest(t *testing.T) {
	var d Digest
	assert.True(t, d.IsEmpty())
	_, _, ok := d.Best()
	assert.False(t, ok)
}

func TestDigestIdentifier(t *testing.T) {
	d := Digest{Sha256New: "XYZ"}
	assert.Equal(t, "sha256new_XYZ", d.Identifier())
}

func TestDigestPartiallyEqual(t *testing.T) {
	a := Digest{Sha1: "same", Sha256New: "different-a"}
	b := Digest{Sha1: "same", Sha256New: "different-b"}
	assert.True(t, a.PartiallyEqual(b))

	c := Digest{Sha1: "nope"}
	assert.False(t, a.PartiallyEqual(c))
}

func TestParseIdentifierRoundTrip(t *testing.T) {
	d, err := ParseIdentifier("sha256new_ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", d.Sha256New)
	assert.Equal(t, "sha256new_ABCDEF", d.Identifier())
}

func TestParseIdentifierUnknownFormat(t *testing.T) {
	_, err := ParseIdentifier("bogus-prefix-nope")
	assert.Error(t, err)
}

func TestParseIdentifierLegacySha1(t *testing.T) {
	d, err := ParseIdentifier("sha1=0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", d.Sha1)
}
