package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFormat(t *testing.T) Format {
	t.Helper()
	f, ok := LookupFormat("sha256new")
	require.True(t, ok)
	return f
}

func TestManifestEmpty(t *testing.T) {
	m := New(testFormat(t))
	assert.Empty(t, m.ListPaths())
	assert.True(t, m.HasDirectory(""))
	digest := DigestOf(m)
	assert.NotEmpty(t, digest)
}

func TestManifestAddFileAndLookup(t *testing.T) {
	m := New(testFormat(t))
	require.NoError(t, m.AddDirectory("bin"))
	require.NoError(t, m.AddFile("bin/run", "abc123", 1000, 42, true))

	elem, ok := m.Lookup("bin/run")
	require.True(t, ok)
	assert.Equal(t, KindExecutable, elem.Kind)
	assert.True(t, elem.Executable())
	assert.Equal(t, int64(42), elem.Size)
	assert.True(t, m.HasDirectory("bin"))
}

func TestManifestAddFileRequiresParentDir(t *testing.T) {
	m := New(testFormat(t))
	err := m.AddFile("missing/dir/file", "d", 0, 0, false)
	assert.Error(t, err)
}

func TestManifestRenameDirectoryMovesDescendants(t *testing.T) {
	m := New(testFormat(t))
	require.NoError(t, m.AddDirectory("a"))
	require.NoError(t, m.AddDirectory("a/b"))
	require.NoError(t, m.AddFile("a/b/f", "d1", 0, 1, false))

	require.NoError(t, m.Rename("a", "z"))

	assert.True(t, m.HasDirectory("z"))
	assert.True(t, m.HasDirectory("z/b"))
	assert.False(t, m.HasDirectory("a"))
	_, ok := m.Lookup("z/b/f")
	assert.True(t, ok)
}

func TestManifestRenameFile(t *testing.T) {
	m := New(testFormat(t))
	require.NoError(t, m.AddFile("f1", "d1", 0, 1, false))
	require.NoError(t, m.Rename("f1", "f2"))

	_, ok := m.Lookup("f1")
	assert.False(t, ok)
	elem, ok := m.Lookup("f2")
	require.True(t, ok)
	assert.Equal(t, "f2", elem.Name)
}

func TestManifestRemoveDirectoryRemovesDescendants(t *testing.T) {
	m := New(testFormat(t))
	require.NoError(t, m.AddDirectory("a"))
	require.NoError(t, m.AddFile("a/f", "d1", 0, 1, false))
	require.NoError(t, m.Remove("a"))
	assert.False(t, m.HasDirectory("a"))
}

func TestManifestRemoveUnknownPath(t *testing.T) {
	m := New(testFormat(t))
	err := m.Remove("nope")
	assert.Error(t, err)
}

func TestManifestHardlinkReusesDigest(t *testing.T) {
	m := New(testFormat(t))
	require.NoError(t, m.AddFile("src", "samedigest", 5, 10, false))
	require.NoError(t, m.Hardlink("src", "dst"))

	src, _ := m.Lookup("src")
	dst, _ := m.Lookup("dst")
	assert.Equal(t, src.Digest, dst.Digest)
	assert.Equal(t, src.Size, dst.Size)
}

func TestManifestMarkAsExecutable(t *testing.T) {
	m := New(testFormat(t))
	require.NoError(t, m.AddFile("f", "d", 0, 1, false))
	require.NoError(t, m.MarkAsExecutable("f"))
	elem, _ := m.Lookup("f")
	assert.True(t, elem.Executable())
}

func TestManifestTurnIntoSymlink(t *testing.T) {
	m := New(testFormat(t))
	require.NoError(t, m.AddFile("link", "targetdigest", 1234, 6, false))
	require.NoError(t, m.TurnIntoSymlink("link"))
	elem, _ := m.Lookup("link")
	assert.Equal(t, KindSymlink, elem.Kind)
	assert.Zero(t, elem.MtimeUnix)
}

func TestManifestWithOffsetRoundsMtime(t *testing.T) {
	m := New(testFormat(t))
	require.NoError(t, m.AddFile("f", "d", 7, 1, false))
	out := m.WithOffset(100)
	elem, _ := out.Lookup("f")
	assert.Equal(t, int64(108), elem.MtimeUnix)

	orig, _ := m.Lookup("f")
	assert.Equal(t, int64(7), orig.MtimeUnix)
}

func TestManifestReservedNameRejected(t *testing.T) {
	m := New(testFormat(t))
	err := m.AddFile(".manifest", "d", 0, 0, false)
	assert.Error(t, err)
}

func TestManifestPathValidation(t *testing.T) {
	m := New(testFormat(t))
	assert.Error(t, m.AddFile("/abs", "d", 0, 0, false))
	assert.Error(t, m.AddFile("trailing/", "d", 0, 0, false))
	assert.Error(t, m.AddFile("a/../b", "d", 0, 0, false))
}
