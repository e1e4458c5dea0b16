package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZipExtractorExtractsFilesDirsAndExecBit(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	dirHdr := &zip.FileHeader{Name: "share/"}
	dirHdr.SetMode(os.ModeDir | 0o755)
	_, err := zw.CreateHeader(dirHdr)
	require.NoError(t, err)

	fileHdr := &zip.FileHeader{Name: "share/readme.txt", Method: zip.Deflate}
	fileHdr.SetMode(0o644)
	fw, err := zw.CreateHeader(fileHdr)
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello zip"))
	require.NoError(t, err)

	execHdr := &zip.FileHeader{Name: "share/run.sh", Method: zip.Deflate}
	execHdr.SetMode(0o755)
	ew, err := zw.CreateHeader(execHdr)
	require.NoError(t, err)
	_, err = ew.Write([]byte("#!/bin/sh\n"))
	require.NoError(t, err)

	require.NoError(t, zw.Close())

	sink := &fakeSink{}
	ext, ok := Lookup("application/zip")
	require.True(t, ok)
	require.NoError(t, ext.Extract(context.Background(), sink, bytes.NewReader(buf.Bytes()), Options{}))

	assert.Contains(t, sink.dirs, "share")
	var foundPlain, foundExec bool
	for _, f := range sink.files {
		if f.path == "share/readme.txt" {
			foundPlain = true
			assert.Equal(t, "hello zip", f.data)
			assert.False(t, f.executable)
		}
		if f.path == "share/run.sh" {
			foundExec = true
			assert.True(t, f.executable)
		}
	}
	assert.True(t, foundPlain)
	assert.True(t, foundExec)
}

func TestZipExtractorAppliesSubdirFilter(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, name := range []string{"pkg-1.0/bin/run", "pkg-1.0/README", "other/ignored"} {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	sink := &fakeSink{}
	ext, _ := Lookup("application/zip")
	require.NoError(t, ext.Extract(context.Background(), sink, bytes.NewReader(buf.Bytes()), Options{Subdir: "pkg-1.0"}))

	var paths []string
	for _, f := range sink.files {
		paths = append(paths, f.path)
	}
	assert.ElementsMatch(t, []string{"bin/run", "README"}, paths)
}
