package fetcher

import (
	"context"
	"net/url"
	"time"

	"github.com/danielloader/modcache"
	"github.com/danielloader/modcache/mediatype"
)

// File is a fetched source file.
type File struct {
	// URL is the final specifier of the file. The requested and final
	// specifiers differ for remote files that have been redirected.
	URL *url.URL
	// Mtime is the local modification time, populated for file: modules
	// when requested.
	Mtime *time.Time
	// Headers holds the response headers. It is nil for a file: module
	// whose path has an extension.
	Headers modcache.HeadersMap
	// Source is the raw body.
	Source []byte
}

// MediaType resolves the file's media type from its URL and content-type
// header.
func (f *File) MediaType() mediatype.MediaType {
	var contentType string
	if f.Headers != nil {
		contentType = f.Headers["content-type"]
	}
	return mediatype.FromSpecifierAndContentType(f.URL, contentType)
}

// FileOrRedirect is the outcome of a single fetch step: exactly one of
// File and Redirect is set.
type FileOrRedirect struct {
	File     *File
	Redirect *url.URL
}

// CachedOrRedirect is the outcome of a single ensure-cached step.
type CachedOrRedirect struct {
	Cached   bool
	Redirect *url.URL
}

func fileOrRedirectFromCacheEntry(u *url.URL, entry *modcache.CacheEntry) (FileOrRedirect, error) {
	if location, ok := entry.Metadata.Headers["location"]; ok {
		redirect, err := u.Parse(location)
		if err != nil {
			return FileOrRedirect{}, &RedirectResolutionError{
				URL:      u.String(),
				Location: location,
				Err:      err,
			}
		}
		return FileOrRedirect{Redirect: redirect}, nil
	}
	return FileOrRedirect{File: &File{
		URL:     u,
		Headers: entry.Metadata.Headers,
		Source:  entry.Content,
	}}, nil
}

// MemoryFiles lets hosts inject synthetic sources that bypass both
// caches. Get returns nil when the URL has no synthetic source.
type MemoryFiles interface {
	Get(u *url.URL) *File
}

// NullMemoryFiles is a MemoryFiles that always returns nil.
type NullMemoryFiles struct{}

func (NullMemoryFiles) Get(u *url.URL) *File { return nil }

// BlobData is the payload of a blob URL.
type BlobData struct {
	MediaType string
	Bytes     []byte
}

// BlobStore resolves blob URLs. Get returns (nil, nil) when absent.
type BlobStore interface {
	Get(ctx context.Context, u *url.URL) (*BlobData, error)
}

// NullBlobStore is a BlobStore that always returns absent.
type NullBlobStore struct{}

func (NullBlobStore) Get(ctx context.Context, u *url.URL) (*BlobData, error) {
	return nil, nil
}

// AuthTokens resolves the Authorization header value to use for a URL.
type AuthTokens interface {
	Get(u *url.URL) (string, bool)
}

// NullAuthTokens is an AuthTokens with no tokens.
type NullAuthTokens struct{}

func (NullAuthTokens) Get(u *url.URL) (string, bool) { return "", false }
