package modcache

import (
	"net/url"
	"sync"
	"time"
)

// MemoryHTTPCache is a simple in-memory cache, mostly useful for tests
// and ephemeral workflows. It is the reference implementation of the
// HTTPCache contract.
type MemoryHTTPCache struct {
	mu    sync.Mutex
	cache map[string]*CacheEntry
	now   func() time.Time
}

// NewMemoryHTTPCache returns an empty in-memory cache using the system
// clock.
func NewMemoryHTTPCache() *MemoryHTTPCache {
	return NewMemoryHTTPCacheWithClock(time.Now)
}

// NewMemoryHTTPCacheWithClock returns an empty in-memory cache whose
// download times come from the provided clock.
func NewMemoryHTTPCacheWithClock(now func() time.Time) *MemoryHTTPCache {
	return &MemoryHTTPCache{
		cache: map[string]*CacheEntry{},
		now:   now,
	}
}

func (c *MemoryHTTPCache) CacheItemKey(u *url.URL) (ItemKey, error) {
	return ItemKey{url: u}, nil
}

func (c *MemoryHTTPCache) Contains(u *url.URL) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[u.String()]
	return ok
}

func (c *MemoryHTTPCache) Set(u *url.URL, headers HeadersMap, content []byte) error {
	now := c.now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[u.String()] = &CacheEntry{
		Metadata: CachedURLMetadata{
			Headers: headers,
			URL:     u.String(),
			Time:    &now,
		},
		Content: append([]byte(nil), content...),
	}
	return nil
}

func (c *MemoryHTTPCache) Get(key ItemKey, expected *Checksum) (*CacheEntry, error) {
	c.mu.Lock()
	entry, ok := c.cache[key.url.String()]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if expected != nil {
		if err := expected.Check(key.url, entry.Content); err != nil {
			return nil, err
		}
	}
	// copy so callers cannot mutate the stored entry
	headers := make(HeadersMap, len(entry.Metadata.Headers))
	for k, v := range entry.Metadata.Headers {
		headers[k] = v
	}
	clone := &CacheEntry{
		Metadata: CachedURLMetadata{
			Headers: headers,
			URL:     entry.Metadata.URL,
			Time:    entry.Metadata.Time,
		},
		Content: append([]byte(nil), entry.Content...),
	}
	return clone, nil
}

func (c *MemoryHTTPCache) ReadModifiedTime(key ItemKey) (*time.Time, error) {
	return nil, nil
}

func (c *MemoryHTTPCache) ReadHeaders(key ItemKey) (HeadersMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key.url.String()]
	if !ok {
		return nil, nil
	}
	headers := make(HeadersMap, len(entry.Metadata.Headers))
	for k, v := range entry.Metadata.Headers {
		headers[k] = v
	}
	return headers, nil
}

func (c *MemoryHTTPCache) ReadDownloadTime(key ItemKey) (*time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key.url.String()]
	if !ok || entry.Metadata.Time == nil {
		return nil, nil
	}
	t := time.Unix(*entry.Metadata.Time, 0)
	return &t, nil
}
