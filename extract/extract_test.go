package extract

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedFile struct {
	path       string
	data       string
	executable bool
}

type fakeSink struct {
	dirs      []string
	files     []recordedFile
	hardlinks []struct{ path, src string }
	symlinks  []struct{ path, target string }
}

func (s *fakeSink) AddDirectory(path string) error {
	s.dirs = append(s.dirs, path)
	return nil
}

func (s *fakeSink) AddFile(path string, r io.Reader, mtime time.Time, executable bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.files = append(s.files, recordedFile{path: path, data: string(data), executable: executable})
	return nil
}

func (s *fakeSink) AddHardlink(path, src string, executable bool) error {
	s.hardlinks = append(s.hardlinks, struct{ path, src string }{path, src})
	return nil
}

func (s *fakeSink) AddSymlink(path, target string) error {
	s.symlinks = append(s.symlinks, struct{ path, target string }{path, target})
	return nil
}

var _ Sink = (*fakeSink)(nil)

func TestMimeForExtensionLongestSuffixWins(t *testing.T) {
	mime, ok := MimeForExtension("widget-1.0.tar.gz")
	require.True(t, ok)
	assert.Equal(t, "application/x-compressed-tar", mime)

	mime, ok = MimeForExtension("widget-1.0.tgz")
	require.True(t, ok)
	assert.Equal(t, "application/x-compressed-tar", mime)
}

func TestMimeForExtensionUnknown(t *testing.T) {
	_, ok := MimeForExtension("widget.exe")
	assert.False(t, ok)
}

func TestLookupReportsUnimplementedMimeTypesAbsent(t *testing.T) {
	_, ok := Lookup("application/x-xz-compressed-tar")
	assert.False(t, ok)
}

func TestLookupFindsRegisteredExtractors(t *testing.T) {
	_, ok := Lookup("application/zip")
	assert.True(t, ok)
	_, ok = Lookup("application/x-tar")
	assert.True(t, ok)
}

func TestRegisterNilUnregisters(t *testing.T) {
	Register("application/x-test-only", tarExtractor{})
	_, ok := Lookup("application/x-test-only")
	require.True(t, ok)

	Register("application/x-test-only", nil)
	_, ok = Lookup("application/x-test-only")
	assert.False(t, ok)
}

func TestNormalizePathRejectsAbsoluteAndDotDot(t *testing.T) {
	_, err := normalizePath("/etc/passwd")
	assert.Error(t, err)

	_, err = normalizePath("../../etc/passwd")
	assert.Error(t, err)

	p, err := normalizePath("./a/b/")
	require.NoError(t, err)
	assert.Equal(t, "a/b", p)
}

func TestApplyFiltersSubdirAndDestination(t *testing.T) {
	p, ok := applyFilters("share/doc/readme", Options{Subdir: "share"})
	require.True(t, ok)
	assert.Equal(t, "doc/readme", p)

	_, ok = applyFilters("other/file", Options{Subdir: "share"})
	assert.False(t, ok)

	p, ok = applyFilters("doc/readme", Options{Destination: "vendor"})
	require.True(t, ok)
	assert.Equal(t, "vendor/doc/readme", p)

	p, ok = applyFilters("", Options{Destination: "vendor"})
	require.True(t, ok)
	assert.Equal(t, "vendor", p)
}

func TestApplyFiltersSubdirExactMatch(t *testing.T) {
	p, ok := applyFilters("share", Options{Subdir: "share"})
	require.True(t, ok)
	assert.Equal(t, "", p)
}
