// Package fetcher resolves, fetches and caches source files. It
// dispatches on the URL scheme, follows cached redirects, revalidates
// with conditional requests, and enforces content checksums on read.
package fetcher

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/vincent-petithory/dataurl"

	"github.com/danielloader/modcache"
)

// CacheSettingKind enumerates how cached source files are handled.
type CacheSettingKind int

const (
	// CacheSettingUse treats cached files as valid whenever present.
	// This is the default.
	CacheSettingUse CacheSettingKind = iota
	// CacheSettingOnly reads the cache exclusively; any file not in the
	// cache errors with *NotCachedError.
	CacheSettingOnly
	// CacheSettingReloadAll ignores the cache on read and reloads every
	// file; responses are still written back.
	CacheSettingReloadAll
	// CacheSettingReloadSome ignores the cache for URLs matching the
	// ReloadSome list, by exact URL or by prefix.
	CacheSettingReloadSome
	// CacheSettingRespectHeaders consults the cache-semantics evaluator,
	// reloading any cached non-fresh response.
	CacheSettingRespectHeaders
)

// CacheSetting indicates how cached source files should be handled.
type CacheSetting struct {
	Kind CacheSettingKind
	// ReloadSome lists URLs or URL prefixes to reload; only read when
	// Kind is CacheSettingReloadSome.
	ReloadSome []string
}

// SupportedSchemes lists the URL schemes the fetcher understands. The
// jsr and npm schemes are resolved by the host before the fetcher is
// reached.
func SupportedSchemes() []string {
	return []string{"blob", "data", "file", "http", "https", "jsr", "npm"}
}

// IsValidScheme reports whether the scheme is in the supported set.
func IsValidScheme(scheme string) bool {
	switch scheme {
	case "blob", "data", "file", "http", "https", "jsr", "npm":
		return true
	default:
		return false
	}
}

// AuthHeader is a caller-supplied authorization-style request header. It
// is dropped when a redirect crosses origins.
type AuthHeader struct {
	Name  string
	Value string
}

// FetchLocalOptions adjusts how file: modules are read.
type FetchLocalOptions struct {
	IncludeMtime bool
}

// FetchNoFollowOptions adjusts a single fetch step.
type FetchNoFollowOptions struct {
	Local FetchLocalOptions
	// Auth, when set, is attached to remote requests unless an auth
	// token matches the URL.
	Auth *AuthHeader
	// Checksum, when set, is the expected content digest.
	Checksum *modcache.Checksum
	// Accept, when set, is sent as the Accept header.
	Accept string
	// CacheSetting overrides the fetcher-wide cache setting.
	CacheSetting *CacheSetting
}

// Options configures a FileFetcher.
type Options struct {
	AllowRemote  bool
	CacheSetting CacheSetting
	AuthTokens   AuthTokens
}

// FileFetcher resolves, fetches and caches source files.
type FileFetcher struct {
	blobStore    BlobStore
	env          modcache.Env
	httpCache    modcache.HTTPCache
	httpClient   HTTPClient
	memoryFiles  MemoryFiles
	allowRemote  bool
	cacheSetting CacheSetting
	authTokens   AuthTokens
}

// New creates a FileFetcher over the provided collaborators.
func New(blobStore BlobStore, env modcache.Env, httpCache modcache.HTTPCache, httpClient HTTPClient, memoryFiles MemoryFiles, options Options) *FileFetcher {
	if blobStore == nil {
		blobStore = NullBlobStore{}
	}
	if memoryFiles == nil {
		memoryFiles = NullMemoryFiles{}
	}
	if options.AuthTokens == nil {
		options.AuthTokens = NullAuthTokens{}
	}
	return &FileFetcher{
		blobStore:    blobStore,
		env:          env,
		httpCache:    httpCache,
		httpClient:   httpClient,
		memoryFiles:  memoryFiles,
		allowRemote:  options.AllowRemote,
		cacheSetting: options.CacheSetting,
		authTokens:   options.AuthTokens,
	}
}

// CacheSetting returns the fetcher-wide cache setting.
func (f *FileFetcher) CacheSetting() CacheSetting { return f.cacheSetting }

// FetchCached returns the cached file for a remote URL, following at
// most redirectLimit cached redirects. It never issues network requests
// and returns nil when the chain is not fully cached.
func (f *FileFetcher) FetchCached(u *url.URL, redirectLimit int) (*File, error) {
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, nil
	}

	current := u
	for i := 0; i <= redirectLimit; i++ {
		result, ok, err := f.fetchCachedNoFollow(current, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if result.File != nil {
			return result.File, nil
		}
		current = result.Redirect
	}
	return nil, &TooManyRedirectsError{URL: current.String()}
}

// Fetch fetches a module, following up to ten redirects. A caller
// supplied auth header is dropped as soon as a redirect leaves the
// original origin.
func (f *FileFetcher) Fetch(ctx context.Context, u *url.URL, options FetchNoFollowOptions) (*File, error) {
	const redirectLimit = 10
	current := u
	for i := 0; i <= redirectLimit; i++ {
		result, err := f.FetchNoFollow(ctx, current, options)
		if err != nil {
			return nil, err
		}
		if result.File != nil {
			return result.File, nil
		}
		next := result.Redirect
		if next.Scheme != current.Scheme || next.Host != current.Host {
			options.Auth = nil
		}
		current = next
	}
	return nil, &TooManyRedirectsError{URL: current.String()}
}

// FetchNoFollow fetches without following redirects. Callers should
// verify permissions of the specifier before calling this function.
func (f *FileFetcher) FetchNoFollow(ctx context.Context, u *url.URL, options FetchNoFollowOptions) (FileOrRedirect, error) {
	slog.Debug("fetch no follow", "specifier", u)

	if file := f.memoryFiles.Get(u); file != nil {
		return FileOrRedirect{File: file}, nil
	}

	switch u.Scheme {
	case "file":
		file, err := f.fetchLocal(u, options.Local)
		if err != nil {
			return FileOrRedirect{}, err
		}
		if file == nil {
			return FileOrRedirect{}, &NotFoundError{URL: u.String()}
		}
		return FileOrRedirect{File: file}, nil
	case "data":
		file, err := f.fetchDataURL(u)
		if err != nil {
			return FileOrRedirect{}, err
		}
		return FileOrRedirect{File: file}, nil
	case "blob":
		file, err := f.fetchBlobURL(ctx, u)
		if err != nil {
			return FileOrRedirect{}, err
		}
		return FileOrRedirect{File: file}, nil
	case "http", "https":
		if !f.allowRemote {
			return FileOrRedirect{}, &NoRemoteError{URL: u.String()}
		}
		return f.fetchRemoteNoFollow(ctx, u, options)
	default:
		return FileOrRedirect{}, &UnsupportedSchemeError{Scheme: u.Scheme, URL: u.String()}
	}
}

// EnsureCachedNoFollow behaves like FetchNoFollow but only guarantees
// the data is cached, avoiding loading the body into memory.
func (f *FileFetcher) EnsureCachedNoFollow(ctx context.Context, u *url.URL, options FetchNoFollowOptions) (CachedOrRedirect, error) {
	slog.Debug("ensure cached no follow", "specifier", u)

	if file := f.memoryFiles.Get(u); file != nil {
		return CachedOrRedirect{Cached: true}, nil
	}

	switch u.Scheme {
	case "file":
		p := urlToFilePath(u)
		if !f.env.IsFile(p) {
			return CachedOrRedirect{}, &NotFoundError{URL: u.String()}
		}
		return CachedOrRedirect{Cached: true}, nil
	case "data", "blob":
		return CachedOrRedirect{Cached: true}, nil
	case "http", "https":
		if !f.allowRemote {
			return CachedOrRedirect{}, &NoRemoteError{URL: u.String()}
		}
		cacheSetting := f.cacheSetting
		if options.CacheSetting != nil {
			cacheSetting = *options.CacheSetting
		}
		if f.shouldUseCache(u, cacheSetting) && f.httpCache.Contains(u) {
			// the checksum is not considered here; the bytes were
			// verified when initially downloaded
			return CachedOrRedirect{Cached: true}, nil
		}
		if cacheSetting.Kind == CacheSettingOnly {
			return CachedOrRedirect{}, &NotCachedError{URL: u.String()}
		}
		result, err := f.fetchRemoteNoFollowNoCache(ctx, u, options)
		if err != nil {
			return CachedOrRedirect{}, err
		}
		if result.Redirect != nil {
			return CachedOrRedirect{Redirect: result.Redirect}, nil
		}
		return CachedOrRedirect{Cached: true}, nil
	default:
		return CachedOrRedirect{}, &UnsupportedSchemeError{Scheme: u.Scheme, URL: u.String()}
	}
}

func (f *FileFetcher) fetchRemoteNoFollow(ctx context.Context, u *url.URL, options FetchNoFollowOptions) (FileOrRedirect, error) {
	cacheSetting := f.cacheSetting
	if options.CacheSetting != nil {
		cacheSetting = *options.CacheSetting
	}

	if f.shouldUseCache(u, cacheSetting) {
		result, ok, err := f.fetchCachedNoFollow(u, options.Checksum)
		if err != nil {
			return FileOrRedirect{}, err
		}
		if ok {
			return result, nil
		}
	}

	if cacheSetting.Kind == CacheSettingOnly {
		return FileOrRedirect{}, &NotCachedError{URL: u.String()}
	}

	return f.fetchRemoteNoFollowNoCache(ctx, u, options)
}

func (f *FileFetcher) fetchCachedNoFollow(u *url.URL, expected *modcache.Checksum) (FileOrRedirect, bool, error) {
	key, err := f.httpCache.CacheItemKey(u)
	if err != nil {
		return FileOrRedirect{}, false, &CacheReadError{URL: u.String(), Err: err}
	}
	entry, err := f.httpCache.Get(key, expected)
	if err != nil {
		var integrity *modcache.ChecksumIntegrityError
		if errors.As(err, &integrity) {
			return FileOrRedirect{}, false, err
		}
		return FileOrRedirect{}, false, &CacheReadError{URL: u.String(), Err: err}
	}
	if entry == nil {
		return FileOrRedirect{}, false, nil
	}
	result, err := fileOrRedirectFromCacheEntry(u, entry)
	if err != nil {
		return FileOrRedirect{}, false, err
	}
	return result, true, nil
}

// fetchRemoteNoFollowNoCache performs the network round-trip, writing
// the response into the cache before returning it.
func (f *FileFetcher) fetchRemoteNoFollowNoCache(ctx context.Context, u *url.URL, options FetchNoFollowOptions) (FileOrRedirect, error) {
	// surface a stored etag as a conditional request; the etag is
	// conditional-request state, so it is stripped from the entry that
	// would be replayed on a 304
	var etag string
	var etagEntry *modcache.CacheEntry
	if key, err := f.httpCache.CacheItemKey(u); err == nil {
		if entry, err := f.httpCache.Get(key, options.Checksum); err == nil && entry != nil {
			if value, ok := entry.Metadata.Headers["etag"]; ok {
				delete(entry.Metadata.Headers, "etag")
				etag = value
				etagEntry = entry
			}
		}
	}

	response, err := f.sendRequest(ctx, u, options, etag)
	if err != nil {
		return FileOrRedirect{}, err
	}

	switch response.Kind {
	case SendNotModified:
		if etagEntry == nil {
			return FileOrRedirect{}, &FetchingRemoteError{
				URL: u.String(),
				Err: errors.New("server responded 304 to an unconditional request"),
			}
		}
		return fileOrRedirectFromCacheEntry(u, etagEntry)
	case SendRedirect:
		redirect, headers, err := resolveRedirect(u, response.Headers)
		if err != nil {
			return FileOrRedirect{}, err
		}
		if err := f.httpCache.Set(u, headers, nil); err != nil {
			return FileOrRedirect{}, &CacheSaveError{URL: u.String(), Err: err}
		}
		return FileOrRedirect{Redirect: redirect}, nil
	default:
		headers := responseHeadersToHeadersMap(response.Headers)
		if err := f.httpCache.Set(u, headers, response.Body); err != nil {
			return FileOrRedirect{}, &CacheSaveError{URL: u.String(), Err: err}
		}
		if options.Checksum != nil {
			if err := options.Checksum.Check(u, response.Body); err != nil {
				return FileOrRedirect{}, err
			}
		}
		return FileOrRedirect{File: &File{
			URL:     u,
			Headers: headers,
			Source:  response.Body,
		}}, nil
	}
}

func (f *FileFetcher) sendRequest(ctx context.Context, u *url.URL, options FetchNoFollowOptions, etag string) (*SendResponse, error) {
	headers := make(http.Header, 3)
	if etag != "" {
		headers.Set("If-None-Match", etag)
	}
	if token, ok := f.authTokens.Get(u); ok {
		headers.Set("Authorization", token)
	} else if options.Auth != nil {
		headers.Set(options.Auth.Name, options.Auth.Value)
	}
	if options.Accept != "" {
		headers.Set("Accept", options.Accept)
	}

	response, err := f.httpClient.SendNoFollow(ctx, u, headers)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{URL: u.String()}
		}
		var status *StatusError
		if errors.As(err, &status) {
			return nil, &ClientStatusError{URL: u.String(), StatusCode: status.StatusCode}
		}
		return nil, &FetchingRemoteError{URL: u.String(), Err: err}
	}
	return response, nil
}

// shouldUseCache reports whether the cache should be consulted for a
// given specifier under the setting.
func (f *FileFetcher) shouldUseCache(u *url.URL, cacheSetting CacheSetting) bool {
	switch cacheSetting.Kind {
	case CacheSettingReloadAll:
		return false
	case CacheSettingUse, CacheSettingOnly:
		return true
	case CacheSettingRespectHeaders:
		key, err := f.httpCache.CacheItemKey(u)
		if err != nil {
			return false
		}
		headers, err := f.httpCache.ReadHeaders(key)
		if err != nil || headers == nil {
			return false
		}
		downloadTime, err := f.httpCache.ReadDownloadTime(key)
		if err != nil || downloadTime == nil {
			return false
		}
		return NewCacheSemantics(headers, *downloadTime, f.env.Now()).ShouldUse()
	case CacheSettingReloadSome:
		noFragment := *u
		noFragment.Fragment = ""
		noFragment.RawFragment = ""
		target := noFragment.String()
		for _, item := range cacheSetting.ReloadSome {
			if item == target {
				return false
			}
		}
		noFragment.RawQuery = ""
		prefix := noFragment.String()
		for {
			for _, item := range cacheSetting.ReloadSome {
				if item == prefix {
					return false
				}
			}
			idx := strings.LastIndexByte(prefix, '/')
			if idx < 0 {
				break
			}
			prefix = prefix[:idx]
		}
		return true
	default:
		return true
	}
}

// fetchLocal reads a module from the local filesystem through the
// environment facade. Returns nil when the file does not exist.
func (f *FileFetcher) fetchLocal(u *url.URL, options FetchLocalOptions) (*File, error) {
	p := urlToFilePath(u)
	file, err := f.env.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &ReadingLocalFileError{URL: u.String(), Err: err}
	}
	defer file.Close()

	var mtime *time.Time
	if options.IncludeMtime {
		if info, err := file.Stat(); err == nil {
			t := info.ModTime()
			mtime = &t
		}
	}
	source, err := io.ReadAll(file)
	if err != nil {
		return nil, &ReadingLocalFileError{URL: u.String(), Err: err}
	}
	// a file without an extension is treated as typescript
	var headers modcache.HeadersMap
	if path.Ext(p) == "" {
		headers = modcache.HeadersMap{"content-type": "application/typescript"}
	}
	return &File{
		URL:     u,
		Mtime:   mtime,
		Headers: headers,
		Source:  source,
	}, nil
}

func urlToFilePath(u *url.URL) string {
	return path.Clean(u.Path)
}

// fetchDataURL converts a data URL into a file, erroring when the URL is
// malformed or its base64 payload is invalid.
func (f *FileFetcher) fetchDataURL(u *url.URL) (*File, error) {
	decoded, err := dataurl.DecodeString(u.String())
	if err != nil {
		return nil, &DataURLDecodeError{URL: u.String(), Err: err}
	}
	return &File{
		URL:     u,
		Headers: modcache.HeadersMap{"content-type": decoded.MediaType.String()},
		Source:  decoded.Data,
	}, nil
}

// fetchBlobURL resolves a blob URL through the blob store.
func (f *FileFetcher) fetchBlobURL(ctx context.Context, u *url.URL) (*File, error) {
	blob, err := f.blobStore.Get(ctx, u)
	if err != nil {
		return nil, &ReadingBlobError{URL: u.String(), Err: err}
	}
	if blob == nil {
		return nil, &NotFoundError{URL: u.String()}
	}
	return &File{
		URL:     u,
		Headers: modcache.HeadersMap{"content-type": blob.MediaType},
		Source:  blob.Bytes,
	}, nil
}

// resolveRedirect extracts and resolves the location header of a
// redirect response, returning the next URL together with the stored
// headers map for the redirect record.
func resolveRedirect(requestURL *url.URL, responseHeaders http.Header) (*url.URL, modcache.HeadersMap, error) {
	location := responseHeaders.Get("Location")
	if location == "" {
		return nil, nil, &RedirectHeaderParseError{RequestURL: requestURL.String()}
	}
	slog.Debug("redirecting", "location", location)
	next, err := resolveURLFromLocation(requestURL, location)
	if err != nil {
		return nil, nil, &RedirectHeaderParseError{
			RequestURL: requestURL.String(),
			Location:   location,
			Err:        err,
		}
	}
	return next, responseHeadersToHeadersMap(responseHeaders), nil
}

// resolveURLFromLocation constructs the next URL from the base URL and a
// location header value. See https://tools.ietf.org/html/rfc3986#section-4.2
func resolveURLFromLocation(base *url.URL, location string) (*url.URL, error) {
	switch {
	case strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://"):
		// absolute uri
		return url.Parse(location)
	case strings.HasPrefix(location, "//"):
		// "//" authority path-abempty
		return url.Parse(base.Scheme + ":" + location)
	default:
		// path-absolute, path-noscheme or path-empty: pop the last
		// segment of the base path and resolve against it
		return base.Parse(location)
	}
}

// responseHeadersToHeadersMap lowers response headers into the stored
// map form, joining duplicate values with a comma.
func responseHeadersToHeadersMap(responseHeaders http.Header) modcache.HeadersMap {
	result := make(modcache.HeadersMap, len(responseHeaders))
	for key, values := range responseHeaders {
		result[strings.ToLower(key)] = strings.Join(values, ",")
	}
	return result
}
