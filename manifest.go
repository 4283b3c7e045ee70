package modcache

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/danielloader/modcache/mediatype"
)

// manifestModule is one "modules" value in the local manifest: the subset
// of response headers that must be preserved for the URL.
type manifestModule struct {
	Headers map[string]string `json:"headers,omitempty"`
}

func (m manifestModule) contentType() string {
	return m.Headers["content-type"]
}

func (m manifestModule) equal(other manifestModule) bool {
	if len(m.Headers) != len(other.Headers) {
		return false
	}
	for k, v := range m.Headers {
		if other.Headers[k] != v {
			return false
		}
	}
	return true
}

// serializedManifest is the JSON shape of <root>/manifest.json. Both maps
// are keyed by URL string; encoding/json writes map keys sorted, keeping
// the file deterministic and diff-friendly.
type serializedManifest struct {
	Folders map[string]string         `json:"folders,omitempty"`
	Modules map[string]manifestModule `json:"modules,omitempty"`
}

// localCacheManifest guards the manifest of a local cache directory. The
// in-memory copy and the file rewrite are serialised under one lock;
// cross-process safety relies on atomic-rename semantics.
type localCacheManifest struct {
	env      Env
	filePath string

	mu         sync.RWMutex
	serialized serializedManifest
	// reverseMapping maps "/"-joined relative sub paths back to URLs.
	// Only maintained in LSP mode.
	reverseMapping map[string]*url.URL
}

func newLocalCacheManifest(env Env, filePath string, useReverseMapping bool) *localCacheManifest {
	m := &localCacheManifest{env: env, filePath: filePath}
	if text, err := env.ReadFile(filePath); err == nil {
		if err := json.Unmarshal(text, &m.serialized); err != nil {
			slog.Debug("failed deserializing local cache manifest", "path", filePath, "error", err)
			m.serialized = serializedManifest{}
		}
	}
	if m.serialized.Folders == nil {
		m.serialized.Folders = map[string]string{}
	}
	if m.serialized.Modules == nil {
		m.serialized.Modules = map[string]manifestModule{}
	}
	if useReverseMapping {
		m.reverseMapping = map[string]*url.URL{}
		for rawURL, module := range m.serialized.Modules {
			if _, ok := module.Headers["location"]; ok {
				continue
			}
			u, err := url.Parse(rawURL)
			if err != nil {
				continue
			}
			subPath, err := urlToLocalSubPath(u, module.contentType())
			if err != nil {
				continue
			}
			m.reverseMapping[subPath.relative()] = u
		}
		for rawURL, localPath := range m.serialized.Folders {
			u, err := url.Parse(rawURL)
			if err != nil {
				continue
			}
			m.reverseMapping[localPath] = u
		}
	}
	return m
}

// manifestHeaderKeysToKeep is the preserved header subset, alphabetical
// for cleanliness in the output.
var manifestHeaderKeysToKeep = []string{
	"content-type",
	"location",
	"x-deno-warning",
	"x-typescript-types",
}

// insertData records a stored module in the manifest, tracking any hashed
// ancestor directories, and rewrites the file when something changed.
func (m *localCacheManifest) insertData(subPath localCacheSubPath, u *url.URL, originalHeaders HeadersMap) {
	headersSubset := map[string]string{}
	for _, key := range manifestHeaderKeysToKeep {
		// the content-type is only worth preserving when dropping it
		// would change the derived media type
		if key == "content-type" &&
			mediatype.FromSpecifier(u) == mediatype.FromSpecifierAndHeaders(u, originalHeaders) {
			continue
		}
		if value, ok := originalHeaders[key]; ok {
			headersSubset[key] = value
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	urlKey := u.String()
	hasChanged := false
	if len(headersSubset) == 0 && !subPath.lastPartHashed() {
		// the filesystem path alone reconstructs the entry
		if _, ok := m.serialized.Modules[urlKey]; ok {
			delete(m.serialized.Modules, urlKey)
			if m.reverseMapping != nil {
				delete(m.reverseMapping, subPath.relative())
			}
			hasChanged = true
		}
	} else {
		newModule := manifestModule{Headers: headersSubset}
		if existing, ok := m.serialized.Modules[urlKey]; !ok || !existing.equal(newModule) {
			m.serialized.Modules[urlKey] = newModule
			if m.reverseMapping != nil {
				m.reverseMapping[subPath.relative()] = u
			}
			hasChanged = true
		}
	}

	if subPath.hasHash {
		if m.addHashedDirectories(subPath, u) {
			hasChanged = true
		}
	}

	if hasChanged {
		// don't bother ensuring the directory here because it will
		// eventually be created by files being added to the cache
		if err := m.env.AtomicWriteFile(m.filePath, m.serializedJSON()); err != nil {
			slog.Debug("failed saving local cache manifest", "path", m.filePath, "error", err)
		}
	}
}

// addHashedDirectories records every hashed ancestor directory of the
// sub path so the reverse map can recover the original URL.
func (m *localCacheManifest) addHashedDirectories(subPath localCacheSubPath, u *url.URL) bool {
	if len(subPath.parts) < 2 {
		return false
	}
	urlPathParts := urlPathSegments(u)
	changed := false
	for i, localPart := range subPath.parts[1 : len(subPath.parts)-1] {
		if !strings.HasPrefix(localPart, "#") {
			continue
		}
		dirURL := *u
		dirURL.Path = "/" + strings.Join(urlPathParts[:i+1], "/") + "/"
		dirURL.RawPath = ""
		dirURL.RawQuery = ""
		dirURL.Fragment = ""
		dirURL.RawFragment = ""
		dirKey := dirURL.String()
		localPath := strings.Join(subPath.parts[:i+2], "/")
		if m.serialized.Folders[dirKey] == localPath {
			continue
		}
		m.serialized.Folders[dirKey] = localPath
		if m.reverseMapping != nil {
			parsed := dirURL
			m.reverseMapping[localPath] = &parsed
		}
		changed = true
	}
	return changed
}

func (m *localCacheManifest) serializedJSON() []byte {
	out := serializedManifest{}
	if len(m.serialized.Folders) > 0 {
		out.Folders = m.serialized.Folders
	}
	if len(m.serialized.Modules) > 0 {
		out.Modules = m.serialized.Modules
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return data
}

// getStoredHeaders returns the preserved header subset for a URL.
func (m *localCacheManifest) getStoredHeaders(u *url.URL) (HeadersMap, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	module, ok := m.serialized.Modules[u.String()]
	if !ok {
		return nil, false
	}
	headers := make(HeadersMap, len(module.Headers))
	for k, v := range module.Headers {
		headers[k] = v
	}
	return headers, true
}

func (m *localCacheManifest) getContentType(u *url.URL) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serialized.Modules[u.String()].contentType()
}

// getReverseMapping resolves a "/"-joined relative path back to its URL.
// Only valid in LSP mode.
func (m *localCacheManifest) getReverseMapping(relative string) (*url.URL, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.reverseMapping[relative]
	return u, ok
}
