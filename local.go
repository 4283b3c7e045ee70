package modcache

import (
	"errors"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// GlobalToLocalCopy controls whether the local cache may hydrate entries
// from the global cache on demand.
type GlobalToLocalCopy int

const (
	// GlobalToLocalCopyAllow lets the local cache (vendor folder) copy
	// from the global cache into the local one.
	GlobalToLocalCopyAllow GlobalToLocalCopy = iota
	// GlobalToLocalCopyDisallow prevents the copy. The LSP uses this
	// because checksums must be evaluated before data moves into the
	// local cache, which is difficult to do there.
	GlobalToLocalCopyDisallow
)

func (c GlobalToLocalCopy) allowed() bool { return c == GlobalToLocalCopyAllow }

// LocalHTTPCache mirrors remote URLs into a readable tree under its root
// ("vendored" dependencies), maintaining a JSON manifest of preserved
// headers and hashed-directory renames. It holds a handle to a global
// cache for on-demand hydration.
type LocalHTTPCache struct {
	path               string
	manifest           *localCacheManifest
	global             *GlobalHTTPCache
	allowGlobalToLocal GlobalToLocalCopy
}

// NewLocalHTTPCache returns a local cache rooted at path backed by the
// provided global cache.
func NewLocalHTTPCache(path string, global *GlobalHTTPCache, allowGlobalToLocal GlobalToLocalCopy) *LocalHTTPCache {
	return &LocalHTTPCache{
		path:               path,
		manifest:           newLocalCacheManifest(global.env, filepath.Join(path, "manifest.json"), false),
		global:             global,
		allowGlobalToLocal: allowGlobalToLocal,
	}
}

func (c *LocalHTTPCache) env() Env { return c.global.env }

// getURLHeaders returns the effective headers for a URL: the manifest's
// preserved subset, an empty map when the mirror file alone reconstructs
// the entry, or (when allowed) headers hydrated from the global cache.
func (c *LocalHTTPCache) getURLHeaders(u *url.URL) (HeadersMap, bool, error) {
	if headers, ok := c.manifest.getStoredHeaders(u); ok {
		return headers, true, nil
	}

	// if the local path exists, don't copy headers from the global cache
	localPath, err := urlToLocalSubPath(u, "")
	if err != nil {
		return nil, false, err
	}
	if c.env().IsFile(localPath.pathFromRoot(c.path)) {
		return HeadersMap{}, true, nil
	}

	if !c.allowGlobalToLocal.allowed() {
		return nil, false, nil
	}

	// not found locally, so try to copy the headers from the global cache
	globalKey, err := c.global.CacheItemKey(u)
	if err != nil {
		return nil, false, err
	}
	headers, err := c.global.ReadHeaders(globalKey)
	if err != nil || headers == nil {
		return nil, false, err
	}

	subPath, err := urlToLocalSubPath(u, headers["content-type"])
	if err != nil {
		return nil, false, err
	}
	c.manifest.insertData(subPath, u, headers)

	if stored, ok := c.manifest.getStoredHeaders(u); ok {
		return stored, true, nil
	}
	// nothing made it into the stored headers, which means the file has
	// no headers that need preserving locally
	return HeadersMap{}, true, nil
}

// LocalPathForURL returns the absolute mirror path for a URL, or false
// when the URL is not cached or records a redirect.
func (c *LocalHTTPCache) LocalPathForURL(u *url.URL) (string, bool, error) {
	headers, ok, err := c.getURLHeaders(u)
	if err != nil || !ok {
		return "", false, err
	}
	if _, isRedirect := headers["location"]; isRedirect {
		return "", false, nil
	}
	subPath, err := urlToLocalSubPath(u, headers["content-type"])
	if err != nil {
		return "", false, err
	}
	return subPath.pathFromRoot(c.path), true, nil
}

func (c *LocalHTTPCache) CacheItemKey(u *url.URL) (ItemKey, error) {
	// the file path has to be computed on every use because it depends
	// on header information
	return ItemKey{url: u, isLocal: true}, nil
}

func (c *LocalHTTPCache) Contains(u *url.URL) bool {
	_, ok, err := c.getURLHeaders(u)
	return err == nil && ok
}

func (c *LocalHTTPCache) Set(u *url.URL, headers HeadersMap, content []byte) error {
	_, isRedirect := headers["location"]
	subPath, err := urlToLocalSubPath(u, headers["content-type"])
	if err != nil {
		return err
	}

	if !isRedirect {
		if err := c.env().AtomicWriteFile(subPath.pathFromRoot(c.path), content); err != nil {
			return err
		}
	}

	c.manifest.insertData(subPath, u, headers)
	return nil
}

func (c *LocalHTTPCache) Get(key ItemKey, expected *Checksum) (*CacheEntry, error) {
	headers, ok, err := c.getURLHeaders(key.url)
	if err != nil || !ok {
		return nil, err
	}

	var content []byte
	if _, isRedirect := headers["location"]; !isRedirect {
		subPath, err := urlToLocalSubPath(key.url, headers["content-type"])
		if err != nil {
			return nil, err
		}
		localFilePath := subPath.pathFromRoot(c.path)
		content, err = c.env().ReadFile(localFilePath)
		if errors.Is(err, fs.ErrNotExist) {
			if !c.allowGlobalToLocal.allowed() {
				return nil, nil
			}
			// hydrate from the global cache; the checksum is verified
			// only on this copy, afterwards the local data is trusted
			globalKey, err := c.global.CacheItemKey(key.url)
			if err != nil {
				return nil, err
			}
			entry, err := c.global.Get(globalKey, expected)
			if err != nil || entry == nil {
				return nil, err
			}
			if err := c.env().AtomicWriteFile(localFilePath, entry.Content); err != nil {
				return nil, err
			}
			content = entry.Content
		} else if err != nil {
			return nil, err
		}
	}

	return &CacheEntry{
		Metadata: CachedURLMetadata{
			Headers: headers,
			URL:     key.url.String(),
			// the download time is not tracked for the local cache
			Time: nil,
		},
		Content: content,
	}, nil
}

func (c *LocalHTTPCache) ReadModifiedTime(key ItemKey) (*time.Time, error) {
	headers, ok, err := c.getURLHeaders(key.url)
	if err != nil {
		return nil, err
	}
	if ok {
		subPath, err := urlToLocalSubPath(key.url, headers["content-type"])
		if err != nil {
			return nil, err
		}
		if mtime, err := c.env().Modified(subPath.pathFromRoot(c.path)); err == nil {
			return &mtime, nil
		}
	}

	// fall back to the global cache
	globalKey, err := c.global.CacheItemKey(key.url)
	if err != nil {
		return nil, err
	}
	return c.global.ReadModifiedTime(globalKey)
}

func (c *LocalHTTPCache) ReadHeaders(key ItemKey) (HeadersMap, error) {
	headers, ok, err := c.getURLHeaders(key.url)
	if err != nil || !ok {
		return nil, err
	}
	return headers, nil
}

func (c *LocalHTTPCache) ReadDownloadTime(key ItemKey) (*time.Time, error) {
	// the local cache does not record a download time; the modification
	// time of the mirror file is the closest equivalent
	return c.ReadModifiedTime(key)
}

// LocalLspHTTPCache is a local cache for the LSP. It keeps a reverse
// mapping from mirror paths back to URLs and never hydrates from the
// global cache.
type LocalLspHTTPCache struct {
	*LocalHTTPCache
}

// NewLocalLspHTTPCache returns an LSP-mode local cache rooted at path.
func NewLocalLspHTTPCache(path string, global *GlobalHTTPCache) *LocalLspHTTPCache {
	return &LocalLspHTTPCache{
		LocalHTTPCache: &LocalHTTPCache{
			path:               path,
			manifest:           newLocalCacheManifest(global.env, filepath.Join(path, "manifest.json"), true),
			global:             global,
			allowGlobalToLocal: GlobalToLocalCopyDisallow,
		},
	}
}

// GetFileURL returns the file:// URL of the mirror file for a URL, or
// false when no mirror file exists.
func (c *LocalLspHTTPCache) GetFileURL(u *url.URL) (*url.URL, bool) {
	subPath, err := urlToLocalSubPath(u, c.manifest.getContentType(u))
	if err != nil {
		return nil, false
	}
	p := subPath.pathFromRoot(c.path)
	if !c.env().IsFile(p) {
		return nil, false
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(p)}, true
}

// GetRemoteURL maps a path inside the local cache directory back to the
// remote URL it mirrors.
func (c *LocalLspHTTPCache) GetRemoteURL(p string) (*url.URL, bool) {
	rel, err := filepath.Rel(c.path, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil, false // not in this directory
	}
	components := strings.Split(filepath.ToSlash(rel), "/")

	if strings.HasPrefix(components[len(components)-1], "#") {
		// the file itself has an entry in the manifest
		return c.manifest.getReverseMapping(strings.Join(components, "/"))
	}

	lastHashed := -1
	for i := len(components) - 1; i >= 0; i-- {
		if strings.HasPrefix(components[i], "#") {
			lastHashed = i
			break
		}
	}
	if lastHashed >= 0 {
		// resolve the deepest hashed directory, then append the
		// remaining path components to its URL
		dirURL, ok := c.manifest.getReverseMapping(strings.Join(components[:lastHashed+1], "/"))
		if !ok {
			return nil, false
		}
		fileURL, err := dirURL.Parse(strings.Join(components[lastHashed+1:], "/"))
		if err != nil {
			return nil, false
		}
		return fileURL, true
	}

	// no hashed ancestor, so the projection can be inverted directly
	first := components[0]
	scheme := "https"
	if rest, ok := strings.CutPrefix(first, "http_"); ok {
		scheme = "http"
		first = rest
	}
	if domain, port, ok := cutLast(first, "_"); ok {
		first = domain + ":" + port
	}
	u, err := url.Parse(scheme + "://" + strings.Join(append([]string{first}, components[1:]...), "/"))
	if err != nil {
		return nil, false
	}
	return u, true
}

// cutLast splits s on the last occurrence of sep.
func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}
