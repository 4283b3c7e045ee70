package modcache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/url"
	"path/filepath"
	"time"
)

// GlobalHTTPCache stores records by hashed URL path under a single root
// directory (the shared system cache).
type GlobalHTTPCache struct {
	path string
	env  Env
}

// NewGlobalHTTPCache returns a global cache rooted at path. The directory
// is created lazily on first write.
func NewGlobalHTTPCache(env Env, path string) *GlobalHTTPCache {
	return &GlobalHTTPCache{path: path, env: env}
}

// DirPath returns the cache root directory.
func (c *GlobalHTTPCache) DirPath() string { return c.path }

// LocalPathForURL returns the absolute record path for a URL.
func (c *GlobalHTTPCache) LocalPathForURL(u *url.URL) (string, error) {
	filename, err := URLToFilename(u)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.path, filepath.FromSlash(filename)), nil
}

func (c *GlobalHTTPCache) CacheItemKey(u *url.URL) (ItemKey, error) {
	filePath, err := c.LocalPathForURL(u)
	if err != nil {
		return ItemKey{}, err
	}
	return ItemKey{url: u, filePath: filePath}, nil
}

func (c *GlobalHTTPCache) Contains(u *url.URL) bool {
	filePath, err := c.LocalPathForURL(u)
	if err != nil {
		return false
	}
	return c.env.IsFile(filePath)
}

func (c *GlobalHTTPCache) Set(u *url.URL, headers HeadersMap, content []byte) error {
	filePath, err := c.LocalPathForURL(u)
	if err != nil {
		return err
	}
	now := c.env.Now().Unix()
	return writeCacheFile(c.env, filePath, &CachedURLMetadata{
		Headers: headers,
		URL:     u.String(),
		Time:    &now,
	}, content)
}

func (c *GlobalHTTPCache) Get(key ItemKey, expected *Checksum) (*CacheEntry, error) {
	entry, err := readCacheFile(c.env, key.filePath)
	if err != nil || entry == nil {
		return nil, err
	}
	if expected != nil {
		if err := expected.Check(key.url, entry.Content); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

func (c *GlobalHTTPCache) ReadModifiedTime(key ItemKey) (*time.Time, error) {
	mtime, err := c.env.Modified(key.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &mtime, nil
}

func (c *GlobalHTTPCache) ReadHeaders(key ItemKey) (HeadersMap, error) {
	serialized, err := readCacheFileMetadata(c.env, key.filePath)
	if err != nil || serialized == nil {
		return nil, err
	}
	// targeted decode: the body bytes are never loaded
	var metadata struct {
		Headers HeadersMap `json:"headers"`
	}
	if err := json.Unmarshal(serialized, &metadata); err != nil {
		return nil, nil
	}
	if metadata.Headers == nil {
		metadata.Headers = HeadersMap{}
	}
	return metadata.Headers, nil
}

func (c *GlobalHTTPCache) ReadDownloadTime(key ItemKey) (*time.Time, error) {
	serialized, err := readCacheFileMetadata(c.env, key.filePath)
	if err != nil || serialized == nil {
		return nil, err
	}
	var metadata struct {
		Time *int64 `json:"time"`
	}
	if err := json.Unmarshal(serialized, &metadata); err != nil {
		return nil, nil
	}
	if metadata.Time == nil {
		return nil, nil
	}
	t := time.Unix(*metadata.Time, 0)
	return &t, nil
}
