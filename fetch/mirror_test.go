package fetch

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorURLEscapesPathSeparators(t *testing.T) {
	mirror, err := url.Parse("https://mirror.example/0mirror/")
	require.NoError(t, err)
	original, err := url.Parse("http://example.com/downloads/widget-1.0.tar.gz")
	require.NoError(t, err)

	got, err := mirrorURL(mirror, original)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example/0mirror/archive/http/example.com/downloads%23widget-1.0.tar.gz", got.String())
}

func TestMirrorURLNoMirrorConfigured(t *testing.T) {
	original, err := url.Parse("http://example.com/x.tar.gz")
	require.NoError(t, err)

	_, err = mirrorURL(nil, original)
	assert.Error(t, err)
}

func TestMirrorURLStripsLeadingSlash(t *testing.T) {
	mirror, err := url.Parse("https://mirror.example/0mirror/")
	require.NoError(t, err)
	original, err := url.Parse("http://example.com/top-level.tar.gz")
	require.NoError(t, err)

	got, err := mirrorURL(mirror, original)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example/0mirror/archive/http/example.com/top-level.tar.gz", got.String())
}
