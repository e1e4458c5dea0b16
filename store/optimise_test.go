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

// addTwoFileFixture admits an implementation with a distinguishing
// executable (so its overall digest differs from any sibling) plus a
// shared library file whose content, size, mtime and executable bit are
// identical across fixtures, making it a candidate for Optimise to
// hardlink.
func addTwoFileFixture(t *testing.T, s *Store, distinguishing, shared string) (manifest.Digest, string) {
	t.Helper()
	build := func(ctx context.Context, b *Builder) error {
		if err := b.AddFile("bin/run", strings.NewReader(distinguishing), fixedEpoch, true); err != nil {
			return err
		}
		return b.AddFile("share/lib.so", strings.NewReader(shared), fixedEpoch, false)
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

func TestOptimiseHardlinksIdenticalSharedFiles(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, pathA := addTwoFileFixture(t, s, "run-a", "shared library bytes")
	_, pathB := addTwoFileFixture(t, s, "run-b", "shared library bytes")

	fiA, err := os.Stat(filepath.Join(pathA, "share/lib.so"))
	require.NoError(t, err)
	fiB, err := os.Stat(filepath.Join(pathB, "share/lib.so"))
	require.NoError(t, err)
	assert.False(t, os.SameFile(fiA, fiB), "fixtures should start as distinct inodes")

	saved, err := s.Optimise()
	require.NoError(t, err)
	assert.Equal(t, int64(len("shared library bytes")), saved)

	fiA2, err := os.Stat(filepath.Join(pathA, "share/lib.so"))
	require.NoError(t, err)
	fiB2, err := os.Stat(filepath.Join(pathB, "share/lib.so"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(fiA2, fiB2))

	data, err := os.ReadFile(filepath.Join(pathB, "share/lib.so"))
	require.NoError(t, err)
	assert.Equal(t, "shared library bytes", string(data))
}

func TestOptimiseIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	addTwoFileFixture(t, s, "run-a", "identical payload")
	addTwoFileFixture(t, s, "run-b", "identical payload")

	first, err := s.Optimise()
	require.NoError(t, err)
	assert.Greater(t, first, int64(0))

	second, err := s.Optimise()
	require.NoError(t, err)
	assert.Equal(t, int64(0), second)
}

func TestOptimiseLeavesDifferingFilesUnlinked(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, pathA := addTwoFileFixture(t, s, "run-a", "version one")
	_, pathB := addTwoFileFixture(t, s, "run-b", "version two")

	saved, err := s.Optimise()
	require.NoError(t, err)
	assert.Equal(t, int64(0), saved)

	fiA, err := os.Stat(filepath.Join(pathA, "share/lib.so"))
	require.NoError(t, err)
	fiB, err := os.Stat(filepath.Join(pathB, "share/lib.so"))
	require.NoError(t, err)
	assert.False(t, os.SameFile(fiA, fiB))
}
