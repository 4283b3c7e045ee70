// Package mediatype resolves the media type of a module from its URL and
// its content-type header, and maps media types back to the file
// extension the runtime expects for them.
package mediatype

import (
	"net/url"
	"path"
	"strings"
)

// MediaType identifies the kind of source module.
type MediaType int

const (
	Unknown MediaType = iota
	JavaScript
	Jsx
	Mjs
	Cjs
	TypeScript
	Mts
	Cts
	Dts
	Tsx
	JSON
	Wasm
)

// Extension returns the file extension implied by the media type.
// Unknown maps to ".ts": the runtime treats extensionless modules as
// TypeScript.
func (m MediaType) Extension() string {
	switch m {
	case JavaScript:
		return ".js"
	case Jsx:
		return ".jsx"
	case Mjs:
		return ".mjs"
	case Cjs:
		return ".cjs"
	case TypeScript:
		return ".ts"
	case Mts:
		return ".mts"
	case Cts:
		return ".cts"
	case Dts:
		return ".d.ts"
	case Tsx:
		return ".tsx"
	case JSON:
		return ".json"
	case Wasm:
		return ".wasm"
	default:
		return ".ts"
	}
}

func (m MediaType) String() string {
	switch m {
	case JavaScript:
		return "JavaScript"
	case Jsx:
		return "JSX"
	case Mjs:
		return "Mjs"
	case Cjs:
		return "Cjs"
	case TypeScript:
		return "TypeScript"
	case Mts:
		return "Mts"
	case Cts:
		return "Cts"
	case Dts:
		return "Dts"
	case Tsx:
		return "TSX"
	case JSON:
		return "Json"
	case Wasm:
		return "Wasm"
	default:
		return "Unknown"
	}
}

// FromSpecifier resolves the media type from the URL path extension
// alone.
func FromSpecifier(u *url.URL) MediaType {
	p := strings.ToLower(u.EscapedPath())
	switch path.Ext(p) {
	case ".ts":
		if strings.HasSuffix(p, ".d.ts") {
			return Dts
		}
		return TypeScript
	case ".mts":
		return Mts
	case ".cts":
		return Cts
	case ".tsx":
		return Tsx
	case ".js":
		return JavaScript
	case ".jsx":
		return Jsx
	case ".mjs":
		return Mjs
	case ".cjs":
		return Cjs
	case ".json":
		return JSON
	case ".wasm":
		return Wasm
	default:
		return Unknown
	}
}

// FromSpecifierAndContentType resolves the media type from the
// content-type header, falling back to the URL path extension when the
// header is empty or non-committal.
func FromSpecifierAndContentType(u *url.URL, contentType string) MediaType {
	if contentType == "" {
		return FromSpecifier(u)
	}
	return fromContentType(u, contentType)
}

// FromSpecifierAndHeaders is FromSpecifierAndContentType reading the
// content type out of a lowercase-keyed headers map.
func FromSpecifierAndHeaders(u *url.URL, headers map[string]string) MediaType {
	return FromSpecifierAndContentType(u, headers["content-type"])
}

func fromContentType(u *url.URL, contentType string) MediaType {
	essence := contentType
	if i := strings.IndexByte(essence, ';'); i >= 0 {
		essence = essence[:i]
	}
	essence = strings.ToLower(strings.TrimSpace(essence))

	switch essence {
	case "application/typescript", "text/typescript", "application/x-typescript",
		"video/vnd.dlna.mpeg-tts", "video/mp2t":
		return mapTsLikeExtension(u, TypeScript)
	case "application/javascript", "text/javascript", "application/ecmascript",
		"text/ecmascript", "application/x-javascript", "application/node":
		return mapJsLikeExtension(u, JavaScript)
	case "text/jsx":
		return Jsx
	case "text/tsx":
		return Tsx
	case "application/json", "text/json":
		return JSON
	case "application/wasm":
		return Wasm
	case "text/plain", "application/octet-stream":
		return FromSpecifier(u)
	default:
		return Unknown
	}
}

// mapTsLikeExtension refines a TypeScript-family content type using the
// path, so .d.ts declarations and .mts/.cts modules keep their identity.
func mapTsLikeExtension(u *url.URL, base MediaType) MediaType {
	p := strings.ToLower(u.EscapedPath())
	switch {
	case strings.HasSuffix(p, ".d.ts"):
		return Dts
	case strings.HasSuffix(p, ".mts"):
		return Mts
	case strings.HasSuffix(p, ".cts"):
		return Cts
	default:
		return base
	}
}

func mapJsLikeExtension(u *url.URL, base MediaType) MediaType {
	p := strings.ToLower(u.EscapedPath())
	switch {
	case strings.HasSuffix(p, ".mjs"):
		return Mjs
	case strings.HasSuffix(p, ".cjs"):
		return Cjs
	default:
		return base
	}
}
