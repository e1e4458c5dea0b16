package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeroinstall/implstore/internal/storeerr"
	"github.com/zeroinstall/implstore/manifest"
)

// addFixture admits a single-executable-file implementation, discovering
// its real digest via an intentional first-attempt mismatch (content
// digests depend on hash output, not something a test should hardcode).
func addFixture(t *testing.T, s *Store, content string) (manifest.Digest, string) {
	t.Helper()
	build := func(ctx context.Context, b *Builder) error {
		return b.AddFile("bin/run", strings.NewReader(content), fixedEpoch, true)
	}

	placeholder := manifest.Digest{Sha256New: "AAAAAAAAAAAAAAAAAAAAAAAAAAAA"}
	_, err := s.Add(context.Background(), placeholder, build)
	var mismatch *storeerr.DigestMismatchError
	require.ErrorAs(t, err, &mismatch)

	real, err := manifest.ParseIdentifier(mismatch.Actual)
	require.NoError(t, err)

	path, err := s.Add(context.Background(), real, build)
	require.NoError(t, err)
	return real, path
}

func TestStoreAddContainsGetPath(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.False(t, s.Contains(manifest.Digest{Sha256New: "doesnotexist"}))

	d, path := addFixture(t, s, "#!/bin/sh\necho hi\n")
	assert.True(t, s.Contains(d))
	got, ok := s.GetPath(d)
	require.True(t, ok)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(filepath.Join(path, "bin/run"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi\n", string(data))
}

func TestStoreAddRejectsMismatchedSecondaryField(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	build := func(ctx context.Context, b *Builder) error {
		return b.AddFile("bin/run", strings.NewReader("multi-field content"), fixedEpoch, true)
	}

	placeholder := manifest.Digest{Sha256New: "AAAAAAAAAAAAAAAAAAAAAAAAAAAA"}
	_, err = s.Add(context.Background(), placeholder, build)
	var mismatch *storeerr.DigestMismatchError
	require.ErrorAs(t, err, &mismatch)
	real, err := manifest.ParseIdentifier(mismatch.Actual)
	require.NoError(t, err)

	// The strongest (sha256new) field is correct, but a secondary field
	// is wrong: admission must still be rejected rather than only
	// checking Best().
	tampered := real
	tampered.Sha1New = "not-the-right-digest-at-all"

	_, err = s.Add(context.Background(), tampered, build)
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Expected, "sha1new")
}

func TestStoreAddIsIdempotentButAlreadyInStoreOnRebuild(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	d, _ := addFixture(t, s, "same content")

	build := func(ctx context.Context, b *Builder) error {
		return b.AddFile("bin/run", strings.NewReader("same content"), fixedEpoch, true)
	}
	_, err = s.Add(context.Background(), d, build)
	var already *storeerr.AlreadyInStoreError
	assert.ErrorAs(t, err, &already)
}

func TestStoreAddCleansUpTempDirOnBuildFailure(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	boom := assert.AnError
	build := func(ctx context.Context, b *Builder) error { return boom }

	_, err = s.Add(context.Background(), manifest.Digest{Sha256New: "whatever"}, build)
	assert.ErrorIs(t, err, boom)

	temps, err := s.ListTemp()
	require.NoError(t, err)
	assert.Empty(t, temps)
}

func TestStoreListAllIgnoresForeignEntries(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "not-an-implementation"), 0o755))

	d, _ := addFixture(t, s, "x")

	all, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, d.Identifier(), all[0].Identifier())
}

func TestStoreRemove(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	d, path := addFixture(t, s, "remove me")

	removed, err := s.Remove(d)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, s.Contains(d))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	removedAgain, err := s.Remove(d)
	require.NoError(t, err)
	assert.False(t, removedAgain)
}

func TestStorePurgeRemovesEverything(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	addFixture(t, s, "one")
	addFixture(t, s, "two")

	require.NoError(t, s.Purge())

	all, err := s.ListAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStoreStats(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	addFixture(t, s, "12345")

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Implementations)
	assert.Equal(t, int64(5), st.TotalBytes)
}

func TestStoreVerifyDetectsTamperedContent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	d, path := addFixture(t, s, "original")

	require.NoError(t, os.Chmod(filepath.Join(path, "bin"), 0o755))
	require.NoError(t, os.Chmod(filepath.Join(path, "bin", "run"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(path, "bin", "run"), []byte("tampered!"), 0o644))

	var asked bool
	corrupt, err := s.Verify(context.Background(), d, func(ctx context.Context, identifier, reason string) (bool, error) {
		asked = true
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, corrupt)
	assert.True(t, asked)
	assert.False(t, s.Contains(d))
}

func TestStoreVerifyAcceptsUntamperedContent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	d, _ := addFixture(t, s, "untouched")

	corrupt, err := s.Verify(context.Background(), d, nil)
	require.NoError(t, err)
	assert.False(t, corrupt)
	assert.True(t, s.Contains(d))
}
