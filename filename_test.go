package modcache

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestURLToFilename(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{
			"https://deno.land/x/foo.ts",
			"https/deno.land/2c0a064891b9e3fbe386f5d4a833bce5076543f5404613656042107213a7bbc8",
		},
		{
			"https://deno.land:8080/x/foo.ts",
			"https/deno.land_PORT8080/2c0a064891b9e3fbe386f5d4a833bce5076543f5404613656042107213a7bbc8",
		},
		{
			"https://deno.land/",
			"https/deno.land/8a5edab282632443219e051e4ade2d1d5bbc671c781051bf1437897cbdfea0f1",
		},
		{
			"https://deno.land/?asdf=qwer",
			"https/deno.land/e4edd1f433165141015db6a823094e6bd8f24dd16fe33f2abd99d34a0a21a3c0",
		},
		// same as the case above, the fragment is ignored when hashing
		{
			"https://deno.land/?asdf=qwer#qwer",
			"https/deno.land/e4edd1f433165141015db6a823094e6bd8f24dd16fe33f2abd99d34a0a21a3c0",
		},
		{
			"data:text/plain,Hello%2C%20Deno!",
			"data/967374e3561d6741234131e342bf5c6848b70b13758adfe23ee1a813a8131818",
		},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			filename, err := URLToFilename(mustParseURL(t, tt.url))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, filename)
		})
	}
}

func TestURLToFilenameUnknownScheme(t *testing.T) {
	_, err := URLToFilename(mustParseURL(t, "ftp://deno.land/x/foo.ts"))
	var projErr *ProjectionError
	require.ErrorAs(t, err, &projErr)
}

func TestURLToFilenameDeterministic(t *testing.T) {
	u := mustParseURL(t, "https://deno.land/std/http/file_server.ts?a=1")
	first, err := URLToFilename(u)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := URLToFilename(u)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestChecksum(t *testing.T) {
	assert.Equal(t,
		"b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		checksum([]byte("hello world")))
}

func TestChecksumCheck(t *testing.T) {
	u := mustParseURL(t, "https://deno.land/x/mod.ts")
	content := []byte("Hello world")
	const digest = "64ec88ca00b268e5ba1a35678a1b5316d212f4f366b2477232534a8aeca37f3c"

	require.NoError(t, NewChecksum(digest).Check(u, content))

	err := NewChecksum("1234").Check(u, content)
	var integrity *ChecksumIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "1234", integrity.Expected)
	assert.Equal(t, digest, integrity.Actual)
	assert.Equal(t, u.String(), integrity.URL)
}
