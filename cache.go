package modcache

import (
	"net/url"
	"time"
)

// CachedURLMetadata is the metadata JSON stored inside a cache record.
type CachedURLMetadata struct {
	Headers HeadersMap `json:"headers"`
	// URL is the canonical string form of the originally requested URL.
	URL string `json:"url"`
	// Time is the number of seconds since the Unix epoch at which the
	// entry was stored, or nil when unknown.
	Time *int64 `json:"time,omitempty"`
}

// DownloadTime returns the recorded download time, if any.
func (m *CachedURLMetadata) DownloadTime() (time.Time, bool) {
	if m.Time == nil {
		return time.Time{}, false
	}
	return time.Unix(*m.Time, 0), true
}

// CacheEntry is one cache record: its metadata and its raw body bytes.
// A redirect entry has a "location" header and empty content.
type CacheEntry struct {
	Metadata CachedURLMetadata
	Content  []byte
}

// IsRedirect reports whether the entry records a redirect rather than a
// module body.
func (e *CacheEntry) IsRedirect() bool {
	_, ok := e.Metadata.Headers["location"]
	return ok
}

// ItemKey is a pre-computed cache key, which can help reduce the work of
// computing the key multiple times for the same URL. The key is specific
// to the backend that produced it; callers must not pass a key from one
// backend to another.
type ItemKey struct {
	url *url.URL
	// filePath is always set for the global cache. It is never set for
	// the local cache, which also needs header information to determine
	// the final path.
	filePath string
	isLocal  bool
}

// URL returns the URL the key was computed for.
func (k ItemKey) URL() *url.URL { return k.url }

// HTTPCache is the contract shared by the global, local and in-memory
// cache backends.
type HTTPCache interface {
	// CacheItemKey returns a pre-computed key for looking up items in
	// the cache.
	CacheItemKey(u *url.URL) (ItemKey, error)

	// Contains reports whether the cache has an entry for the URL.
	Contains(u *url.URL) bool

	// Set stores an entry, atomically replacing any previous one.
	Set(u *url.URL, headers HeadersMap, content []byte) error

	// Get returns the cached entry, or nil when absent. When expected is
	// non-nil the content digest is verified and a mismatch returns a
	// *ChecksumIntegrityError, never nil.
	Get(key ItemKey, expected *Checksum) (*CacheEntry, error)

	// ReadModifiedTime returns the file modification time of the entry,
	// or nil when absent.
	ReadModifiedTime(key ItemKey) (*time.Time, error)

	// ReadHeaders returns the headers of the entry without loading its
	// body, or nil when absent.
	ReadHeaders(key ItemKey) (HeadersMap, error)

	// ReadDownloadTime returns the time the entry was downloaded into
	// the cache, or nil when absent.
	ReadDownloadTime(key ItemKey) (*time.Time, error)
}
