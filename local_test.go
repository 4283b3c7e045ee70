package modcache

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCaches(t *testing.T, copy GlobalToLocalCopy) (Env, *GlobalHTTPCache, *LocalHTTPCache) {
	t.Helper()
	env := NewMemoryEnv()
	global := NewGlobalHTTPCache(env, "/global")
	local := NewLocalHTTPCache("/local", global, copy)
	return env, global, local
}

func readManifest(t *testing.T, env Env) map[string]any {
	t.Helper()
	data, err := env.ReadFile("/local/manifest.json")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestLocalHydratesFromGlobal(t *testing.T) {
	env, global, local := newTestCaches(t, GlobalToLocalCopyAllow)
	u := mustParseURL(t, "https://deno.land/x/mod.ts")
	content := []byte("export const test = 5;")
	require.NoError(t, global.Set(u, HeadersMap{"content-type": "application/typescript"}, content))

	key, err := local.CacheItemKey(u)
	require.NoError(t, err)
	entry, err := local.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, content, entry.Content)
	// no headers survive because the content type is derivable from the url
	assert.Empty(t, entry.Metadata.Headers)
	assert.Equal(t, u.String(), entry.Metadata.URL)
	// no manifest entry was necessary either
	assert.False(t, env.IsFile("/local/manifest.json"))

	// the mirror is now self-sufficient: delete the global cache and
	// the local copy still loads
	globalKey, err := global.CacheItemKey(u)
	require.NoError(t, err)
	require.NoError(t, env.RemoveFile(globalKey.filePath))
	entry, err = local.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, content, entry.Content)
}

func TestLocalDirectlyMappableFile(t *testing.T) {
	env, _, local := newTestCaches(t, GlobalToLocalCopyAllow)
	content := []byte("export const a = 1;")
	require.NoError(t, env.AtomicWriteFile(filepath.Join("/local", "deno.land", "main.js"), content))

	u := mustParseURL(t, "https://deno.land/main.js")
	key, err := local.CacheItemKey(u)
	require.NoError(t, err)
	entry, err := local.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, content, entry.Content)
	assert.Empty(t, entry.Metadata.Headers)
}

func TestLocalDifferentContentType(t *testing.T) {
	env, global, local := newTestCaches(t, GlobalToLocalCopyAllow)
	u := mustParseURL(t, "https://deno.land/x/different_content_type.ts")
	content := []byte("export const test = 5;")
	require.NoError(t, global.Set(u, HeadersMap{"content-type": "application/javascript"}, content))

	key, err := local.CacheItemKey(u)
	require.NoError(t, err)
	entry, err := local.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, content, entry.Content)
	assert.Equal(t, HeadersMap{"content-type": "application/javascript"}, entry.Metadata.Headers)

	assert.Equal(t, map[string]any{
		"modules": map[string]any{
			"https://deno.land/x/different_content_type.ts": map[string]any{
				"headers": map[string]any{
					"content-type": "application/javascript",
				},
			},
		},
	}, readManifest(t, env))

	// with the manifest gone, the headers are read from the global cache
	// again and the module still resolves as javascript
	require.NoError(t, env.RemoveFile("/local/manifest.json"))
	local = NewLocalHTTPCache("/local", global, GlobalToLocalCopyAllow)
	entry, err = local.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, HeadersMap{"content-type": "application/javascript"}, entry.Metadata.Headers)
}

func TestLocalPreservedHeaderSubset(t *testing.T) {
	env, global, _ := newTestCaches(t, GlobalToLocalCopyAllow)
	u := mustParseURL(t, "https://deno.land/x/my_file.ts")
	content := []byte("export const test = 5;")
	require.NoError(t, global.Set(u, HeadersMap{
		"content-type":       "application/typescript",
		"x-typescript-types": "./types.d.ts",
		"x-deno-warning":     "Stop right now.",
		"x-other-header":     "Thank you very much.",
	}, content))

	check := func(local *LocalHTTPCache) {
		key, err := local.CacheItemKey(u)
		require.NoError(t, err)
		entry, err := local.Get(key, nil)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, content, entry.Content)
		assert.Equal(t, HeadersMap{
			"x-typescript-types": "./types.d.ts",
			"x-deno-warning":     "Stop right now.",
		}, entry.Metadata.Headers)

		assert.Equal(t, map[string]any{
			"modules": map[string]any{
				"https://deno.land/x/my_file.ts": map[string]any{
					"headers": map[string]any{
						"x-deno-warning":     "Stop right now.",
						"x-typescript-types": "./types.d.ts",
					},
				},
			},
		}, readManifest(t, env))
	}

	check(NewLocalHTTPCache("/local", global, GlobalToLocalCopyAllow))
	// and the same when re-creating the cache over the existing mirror
	check(NewLocalHTTPCache("/local", global, GlobalToLocalCopyAllow))
}

func TestLocalHashedDirectory(t *testing.T) {
	env, global, local := newTestCaches(t, GlobalToLocalCopyAllow)

	u := mustParseURL(t, "https://deno.land/INVALID/Module.ts?dev")
	content := []byte("export const test = 5;")
	require.NoError(t, global.Set(u, HeadersMap{}, content))
	key, err := local.CacheItemKey(u)
	require.NoError(t, err)
	entry, err := local.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, content, entry.Content)
	assert.Empty(t, entry.Metadata.Headers)

	// a sibling that maps cleanly to the filesystem
	u2 := mustParseURL(t, "https://deno.land/INVALID/module2.ts")
	content2 := []byte("export const test = 4;")
	require.NoError(t, global.Set(u2, HeadersMap{}, content2))
	key2, err := local.CacheItemKey(u2)
	require.NoError(t, err)
	entry2, err := local.Get(key2, nil)
	require.NoError(t, err)
	require.NotNil(t, entry2)
	assert.Equal(t, content2, entry2.Content)
	assert.True(t, env.IsFile("/local/deno.land/#invalid_1ee01/module2.ts"))

	// still readable with a fresh cache over the same mirror
	local = NewLocalHTTPCache("/local", global, GlobalToLocalCopyAllow)
	entry2, err = local.Get(key2, nil)
	require.NoError(t, err)
	require.NotNil(t, entry2)
	assert.Equal(t, content2, entry2.Content)

	assert.Equal(t, map[string]any{
		"modules": map[string]any{
			"https://deno.land/INVALID/Module.ts?dev": map[string]any{},
		},
		"folders": map[string]any{
			"https://deno.land/INVALID/": "deno.land/#invalid_1ee01",
		},
	}, readManifest(t, env))
}

func TestLocalRedirectEntry(t *testing.T) {
	env, global, local := newTestCaches(t, GlobalToLocalCopyAllow)
	u := mustParseURL(t, "https://deno.land/redirect.ts")
	require.NoError(t, global.Set(u, HeadersMap{"location": "./x/mod.ts"}, []byte("Redirecting to other url...")))

	key, err := local.CacheItemKey(u)
	require.NoError(t, err)
	entry, err := local.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, HeadersMap{"location": "./x/mod.ts"}, entry.Metadata.Headers)
	assert.Len(t, entry.Content, 0)

	assert.Equal(t, map[string]any{
		"modules": map[string]any{
			"https://deno.land/redirect.ts": map[string]any{
				"headers": map[string]any{
					"location": "./x/mod.ts",
				},
			},
		},
	}, readManifest(t, env))
}

func TestLocalDisallowNeverReadsGlobal(t *testing.T) {
	_, global, local := newTestCaches(t, GlobalToLocalCopyDisallow)
	u := mustParseURL(t, "https://deno.land/x/mod.ts")
	require.NoError(t, global.Set(u, HeadersMap{}, []byte("export const test = 5;")))

	key, err := local.CacheItemKey(u)
	require.NoError(t, err)
	entry, err := local.Get(key, nil)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.False(t, local.Contains(u))
}

func TestLocalChecksumOnHydration(t *testing.T) {
	_, global, local := newTestCaches(t, GlobalToLocalCopyAllow)
	u := mustParseURL(t, "https://deno.land/x/mod.ts")
	require.NoError(t, global.Set(u, HeadersMap{}, []byte("Hello world")))

	key, err := local.CacheItemKey(u)
	require.NoError(t, err)
	_, err = local.Get(key, NewChecksum("1234"))
	var integrity *ChecksumIntegrityError
	require.ErrorAs(t, err, &integrity)

	// once hydrated, the local data is trusted and the stale digest no
	// longer matters
	entry, err := local.Get(key, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	entry, err = local.Get(key, NewChecksum("1234"))
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestLspFileURLRoundTrip(t *testing.T) {
	env := NewMemoryEnv()
	global := NewGlobalHTTPCache(env, "/global")
	lsp := NewLocalLspHTTPCache("/local", global)

	urls := []struct {
		url     string
		headers HeadersMap
	}{
		{"https://deno.land/x/mod.ts", HeadersMap{"content-type": "application/typescript"}},
		{"https://deno.land/x/different_content_type.ts", HeadersMap{"content-type": "application/javascript"}},
		{"http://deno.land/INVALID/Module.ts?dev", HeadersMap{}},
		{"http://deno.land/INVALID/SubDir/Module.ts?dev", HeadersMap{}},
		{"http://deno.land/INVALID/module2.ts", HeadersMap{}},
		{"http://deno.land/INVALID/SubDir/module3.ts", HeadersMap{}},
		{"http://deno.land/INVALID/SubDir/sub_dir/module4.ts", HeadersMap{}},
	}
	for _, tt := range urls {
		u := mustParseURL(t, tt.url)
		require.NoError(t, lsp.Set(u, tt.headers, []byte("export const test = 5;")))
	}

	check := func(lsp *LocalLspHTTPCache) {
		for _, tt := range urls {
			u := mustParseURL(t, tt.url)
			fileURL, ok := lsp.GetFileURL(u)
			require.True(t, ok, tt.url)
			p := filepath.FromSlash(fileURL.Path)
			assert.True(t, env.IsFile(p), tt.url)

			remote, ok := lsp.GetRemoteURL(p)
			require.True(t, ok, tt.url)
			assert.Equal(t, u.String(), remote.String(), tt.url)
		}
	}

	check(lsp)
	// the reverse mapping survives re-creating the cache
	check(NewLocalLspHTTPCache("/local", global))

	fileURL, ok := lsp.GetFileURL(mustParseURL(t, "https://deno.land/x/mod.ts"))
	require.True(t, ok)
	assert.Equal(t, "file:///local/deno.land/x/mod.ts", fileURL.String())
}

func TestLspRemoteURLOutsideCacheDir(t *testing.T) {
	env := NewMemoryEnv()
	global := NewGlobalHTTPCache(env, "/global")
	lsp := NewLocalLspHTTPCache("/local", global)
	_, ok := lsp.GetRemoteURL("/elsewhere/deno.land/x/mod.ts")
	assert.False(t, ok)
}
