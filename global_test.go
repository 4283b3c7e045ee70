package modcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalCreatesLazily(t *testing.T) {
	env := NewMemoryEnv()
	cache := NewGlobalHTTPCache(env, "/global")
	u := mustParseURL(t, "http://example.com/foo/bar.js")

	assert.False(t, cache.Contains(u))
	require.NoError(t, cache.Set(u, HeadersMap{}, []byte("hello world")))
	assert.True(t, cache.Contains(u))

	filePath, err := cache.LocalPathForURL(u)
	require.NoError(t, err)
	assert.True(t, env.IsFile(filePath))
}

func TestGlobalGetSet(t *testing.T) {
	env := NewMemoryEnv()
	cache := NewGlobalHTTPCache(env, "/global")
	u := mustParseURL(t, "https://deno.land/x/welcome.ts")
	headers := HeadersMap{
		"content-type": "application/javascript",
		"etag":         "as5625rqdsfb",
	}
	content := []byte("Hello world")

	before := time.Now()
	require.NoError(t, cache.Set(u, headers, content))

	key, err := cache.CacheItemKey(u)
	require.NoError(t, err)
	entry, err := cache.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, content, entry.Content)
	assert.Equal(t, u.String(), entry.Metadata.URL)
	assert.Equal(t, "application/javascript", entry.Metadata.Headers["content-type"])
	assert.Equal(t, "as5625rqdsfb", entry.Metadata.Headers["etag"])
	_, ok := entry.Metadata.Headers["foobar"]
	assert.False(t, ok)

	downloadTime, ok := entry.Metadata.DownloadTime()
	require.True(t, ok)
	assert.WithinDuration(t, before, downloadTime, time.Second)
}

func TestGlobalChecksum(t *testing.T) {
	env := NewMemoryEnv()
	cache := NewGlobalHTTPCache(env, "/global")
	u := mustParseURL(t, "https://deno.land/x/mod.ts")
	content := []byte("Hello world")
	require.NoError(t, cache.Set(u, HeadersMap{}, content))

	key, err := cache.CacheItemKey(u)
	require.NoError(t, err)

	entry, err := cache.Get(key, NewChecksum("64ec88ca00b268e5ba1a35678a1b5316d212f4f366b2477232534a8aeca37f3c"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, content, entry.Content)

	_, err = cache.Get(key, NewChecksum("1234"))
	var integrity *ChecksumIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "1234", integrity.Expected)
}

func TestGlobalIdempotentSet(t *testing.T) {
	env := NewMemoryEnv()
	cache := NewGlobalHTTPCache(env, "/global")
	u := mustParseURL(t, "https://deno.land/x/mod.ts")
	headers := HeadersMap{"content-type": "application/typescript"}
	content := []byte("export const x = 1;")

	require.NoError(t, cache.Set(u, headers, content))
	require.NoError(t, cache.Set(u, headers, content))

	key, err := cache.CacheItemKey(u)
	require.NoError(t, err)
	entry, err := cache.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, content, entry.Content)
}

func TestGlobalTargetedReads(t *testing.T) {
	env := NewMemoryEnv()
	cache := NewGlobalHTTPCache(env, "/global")
	u := mustParseURL(t, "https://deno.land/x/mod.ts")
	require.NoError(t, cache.Set(u, HeadersMap{"x-typescript-types": "./mod.d.ts"}, []byte("body")))

	key, err := cache.CacheItemKey(u)
	require.NoError(t, err)

	headers, err := cache.ReadHeaders(key)
	require.NoError(t, err)
	assert.Equal(t, "./mod.d.ts", headers["x-typescript-types"])

	downloadTime, err := cache.ReadDownloadTime(key)
	require.NoError(t, err)
	require.NotNil(t, downloadTime)
	assert.WithinDuration(t, time.Now(), *downloadTime, time.Second)

	mtime, err := cache.ReadModifiedTime(key)
	require.NoError(t, err)
	assert.NotNil(t, mtime)
}

func TestGlobalTargetedReadsAbsent(t *testing.T) {
	env := NewMemoryEnv()
	cache := NewGlobalHTTPCache(env, "/global")
	key, err := cache.CacheItemKey(mustParseURL(t, "https://deno.land/x/none.ts"))
	require.NoError(t, err)

	headers, err := cache.ReadHeaders(key)
	require.NoError(t, err)
	assert.Nil(t, headers)

	downloadTime, err := cache.ReadDownloadTime(key)
	require.NoError(t, err)
	assert.Nil(t, downloadTime)

	mtime, err := cache.ReadModifiedTime(key)
	require.NoError(t, err)
	assert.Nil(t, mtime)
}

func TestGlobalRedirectRecordShape(t *testing.T) {
	env := NewMemoryEnv()
	cache := NewGlobalHTTPCache(env, "/global")
	u := mustParseURL(t, "https://deno.land/redirect.ts")
	require.NoError(t, cache.Set(u, HeadersMap{"location": "./x/mod.ts"}, nil))

	key, err := cache.CacheItemKey(u)
	require.NoError(t, err)
	entry, err := cache.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.IsRedirect())
	assert.Len(t, entry.Content, 0)
}
