package fetcher

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielloader/modcache"
)

// CacheSemantics decides, from stored response headers and the recorded
// download time, whether a cached entry is fresh enough to use without a
// network round-trip. It is pure and performs no I/O.
type CacheSemantics struct {
	headers      modcache.HeadersMap
	downloadTime time.Time
	now          time.Time
}

// NewCacheSemantics builds an evaluator over the stored headers of an
// entry downloaded at downloadTime, judged at now.
func NewCacheSemantics(headers modcache.HeadersMap, downloadTime, now time.Time) *CacheSemantics {
	return &CacheSemantics{headers: headers, downloadTime: downloadTime, now: now}
}

// ShouldUse reports whether the cached entry is still fresh.
func (c *CacheSemantics) ShouldUse() bool {
	directives := parseCacheControl(c.headers["cache-control"])
	if directives.noCache || directives.noStore {
		return false
	}
	if directives.immutable {
		return true
	}
	if directives.maxAge >= 0 {
		age := c.now.Sub(c.downloadTime)
		return age <= time.Duration(directives.maxAge)*time.Second
	}
	if expires := c.headers["expires"]; expires != "" {
		t, err := http.ParseTime(expires)
		return err == nil && c.now.Before(t)
	}
	return false
}

type cacheControlDirectives struct {
	noCache   bool
	noStore   bool
	immutable bool
	// maxAge is in seconds; -1 when absent
	maxAge int64
}

func parseCacheControl(value string) cacheControlDirectives {
	directives := cacheControlDirectives{maxAge: -1}
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		switch {
		case part == "no-cache":
			directives.noCache = true
		case part == "no-store":
			directives.noStore = true
		case part == "immutable":
			directives.immutable = true
		case strings.HasPrefix(part, "max-age="):
			raw := strings.Trim(strings.TrimPrefix(part, "max-age="), `"`)
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 0 {
				directives.maxAge = n
			}
		}
	}
	return directives
}
