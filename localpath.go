package modcache

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/danielloader/modcache/mediatype"
)

// localCacheSubPath is the relative path of a URL inside the local cache
// mirror, one element per path segment.
type localCacheSubPath struct {
	// hasHash is true when any segment could not be represented safely
	// and was replaced with a "#"-prefixed short hash.
	hasHash bool
	parts   []string
}

func (p localCacheSubPath) pathFromRoot(root string) string {
	return filepath.Join(append([]string{root}, p.parts...)...)
}

// relative returns the sub path joined with "/" regardless of platform.
func (p localCacheSubPath) relative() string {
	return strings.Join(p.parts, "/")
}

func (p localCacheSubPath) lastPartHashed() bool {
	return len(p.parts) > 0 && strings.HasPrefix(p.parts[len(p.parts)-1], "#")
}

// forbiddenChars are characters that cannot appear in a filename on every
// supported filesystem. https://stackoverflow.com/a/31976060/188246
var forbiddenChars = map[rune]bool{
	'?': true, '<': true, '>': true, ':': true, '*': true,
	'|': true, '\\': true, '"': true, '\'': true, '/': true,
}

// forbiddenWindowsNames are device names that cannot be used as file or
// directory names on Windows, compared case-insensitively.
// https://learn.microsoft.com/en-us/windows/win32/fileio/naming-a-file
var forbiddenWindowsNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com0": true, "com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt0": true, "lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

func hasForbiddenChars(segment string) bool {
	for _, c := range segment {
		// uppercase letters are disallowed so the layout works the same
		// on case insensitive file systems
		if forbiddenChars[c] || (c >= 'A' && c <= 'Z') {
			return true
		}
	}
	return false
}

func hasKnownSourceExtension(p string) bool {
	p = strings.ToLower(p)
	for _, ext := range []string{".js", ".ts", ".jsx", ".tsx", ".mts", ".mjs", ".json", ".wasm"} {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// shortHash renders an unrepresentable segment as
// "#<prefix>_<5-hex>[<ext>]", or "#<7-hex>[<ext>]" when no displayable
// prefix exists. This is a balancing act between readability and
// avoiding collisions.
func shortHash(data string, lastExt string) string {
	hash := checksum([]byte(data))
	// keep the paths short because of the windows path limit
	const maxLength = 20
	var sub strings.Builder
	count := 0
	for _, c := range data {
		if count >= maxLength {
			break
		}
		count++
		// don't include the query string (only use it in the hash)
		if c == '?' {
			break
		}
		if forbiddenChars[c] {
			sub.WriteByte('_')
		} else {
			sub.WriteString(strings.ToLower(string(c)))
		}
	}
	prefix := strings.TrimSuffix(sub.String(), lastExt)
	if prefix == "" {
		return "#" + hash[:7] + lastExt
	}
	return "#" + prefix + "_" + hash[:5] + lastExt
}

// shouldHashLocalPart decides whether a path segment must be replaced by
// its short hash. lastExt is non-empty only for the final segment.
func shouldHashLocalPart(part string, lastExt string) bool {
	if part == "" || len(part) > 30 {
		// keep short due to the windows path limit
		return true
	}
	var contextSpecific bool
	if lastExt != "" {
		// hash the last segment when its extension does not match the
		// one implied by the media type, so deleting the manifest cannot
		// change how the file resolves
		contextSpecific = !hasKnownSourceExtension(part) || !strings.HasSuffix(part, lastExt)
	} else {
		// a non-ending segment with a known source extension could
		// collide with a file of the same name
		contextSpecific = hasKnownSourceExtension(part)
	}

	// the hash symbol at the start designates a hashed segment
	return contextSpecific ||
		strings.HasPrefix(part, "#") ||
		hasForbiddenChars(part) ||
		(lastExt == "" && forbiddenWindowsNames[part]) ||
		strings.HasSuffix(part, ".")
}

// urlToLocalSubPath produces the human-readable mirror path for a URL.
// contentType, when known, decides the extension expected of the final
// segment.
func urlToLocalSubPath(u *url.URL, contentType string) (localCacheSubPath, error) {
	baseParts := baseURLToFilenameParts(u, "_")
	if baseParts == nil {
		return localCacheSubPath{}, &ProjectionError{URL: u.String()}
	}

	// https is the common case and is dropped from the root; any other
	// scheme is folded into the host segment
	if baseParts[0] == "https" {
		baseParts = baseParts[1:]
	} else if len(baseParts) > 1 {
		baseParts = append([]string{baseParts[0] + "_" + baseParts[1]}, baseParts[2:]...)
	}

	parts := append(baseParts, urlPathSegments(u)...)

	// fold the query string onto the last segment
	if u.RawQuery != "" {
		parts[len(parts)-1] = parts[len(parts)-1] + "?" + u.RawQuery
	}

	hasHash := false
	for i, part := range parts {
		lastExt := ""
		if i == len(parts)-1 {
			lastExt = mediatype.FromSpecifierAndContentType(u, contentType).Extension()
		}
		if shouldHashLocalPart(part, lastExt) {
			hasHash = true
			parts[i] = shortHash(part, lastExt)
		}
	}

	return localCacheSubPath{hasHash: hasHash, parts: parts}, nil
}
