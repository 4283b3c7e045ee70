// Package npmcache maps package-manager downloads onto cache directory
// names: (name, version, copy index, registry) in one direction, and any
// subpath under a known registry root back to the package id in the
// other.
package npmcache

import (
	"encoding/base32"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// FolderID identifies one installed copy of a package version.
type FolderID struct {
	// Name is the package name, possibly scoped ("@types/node").
	Name    string
	Version string
	// CopyIndex disambiguates a version installed more than once with
	// different peer-dependency closures.
	CopyIndex int
}

// CacheDir is the cache directory of downloaded packages.
type CacheDir struct {
	rootDir string
	// registry URLs discovered via configuration, turned into safe
	// directory names
	knownRegistryDirnames []string
}

// New returns a CacheDir rooted at rootDir, resolving package ids
// against the known registry URLs.
func New(rootDir string, knownRegistryURLs []*url.URL) *CacheDir {
	dirnames := make([]string, 0, len(knownRegistryURLs))
	for _, u := range knownRegistryURLs {
		dirnames = append(dirnames, rootURLToSafeLocalDirname(u))
	}
	return &CacheDir{
		rootDir:               filepath.Clean(rootDir),
		knownRegistryDirnames: dirnames,
	}
}

// RootDir returns the cache root.
func (c *CacheDir) RootDir() string { return c.rootDir }

// PackageFolder returns the directory for one installed copy of a
// package version. Copy index zero is elided; higher indexes are
// appended to the version as "<version>_<n>".
func (c *CacheDir) PackageFolder(name, version string, copyIndex int, registryURL *url.URL) string {
	versionDir := version
	if copyIndex > 0 {
		versionDir = version + "_" + strconv.Itoa(copyIndex)
	}
	return filepath.Join(c.PackageNameFolder(name, registryURL), versionDir)
}

// PackageNameFolder returns the directory holding every cached version
// of a package.
func (c *CacheDir) PackageNameFolder(name string, registryURL *url.URL) string {
	dir := c.registryFolder(registryURL)
	if strings.ToLower(name) != name {
		// the encoded directory could collide with an actual package
		// name, so prefix it with an underscore since npm packages
		// can't start with one
		return filepath.Join(dir, "_"+MixedCasePackageNameEncode(name))
	}
	for _, part := range strings.Split(name, "/") {
		dir = filepath.Join(dir, part)
	}
	return dir
}

func (c *CacheDir) registryFolder(registryURL *url.URL) string {
	return filepath.Join(c.rootDir, filepath.FromSlash(rootURLToSafeLocalDirname(registryURL)))
}

// ResolveFolderID recovers the package id from any path under a known
// registry root. Returns false for paths outside every known registry.
func (c *CacheDir) ResolveFolderID(p string) (FolderID, bool) {
	var relative string
	found := false
	for _, dirname := range c.knownRegistryDirnames {
		registryRoot := filepath.Join(c.rootDir, filepath.FromSlash(dirname))
		rel, err := filepath.Rel(registryRoot, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		relative = filepath.ToSlash(rel)
		found = true
		break
	}
	if !found {
		return FolderID{}, false
	}

	// decode the leading part if it is a mixed-case encoded name
	// Ex. _{base32(package_name)}/
	if rest, ok := strings.CutPrefix(relative, "_"); ok {
		parts := strings.Split(rest, "/")
		decoded, ok := MixedCasePackageNameDecode(parts[0])
		if !ok {
			return FolderID{}, false
		}
		parts[0] = decoded
		relative = strings.Join(parts, "/")
	}

	// examples:
	//   chalk/5.0.1
	//   @types/chalk/5.0.1
	//   some-package/5.0.1_1 -- peer-dependency copy of the folder
	take := 2
	if strings.HasPrefix(relative, "@") {
		take = 3
	}
	parts := strings.Split(relative, "/")
	if len(parts) < take {
		return FolderID{}, false
	}
	parts = parts[:take]
	versionPart := parts[len(parts)-1]
	name := strings.Join(parts[:len(parts)-1], "/")

	version := versionPart
	copyIndex := 0
	if v, count, ok := strings.Cut(versionPart, "_"); ok {
		n, err := strconv.Atoi(count)
		if err != nil {
			return FolderID{}, false
		}
		version = v
		copyIndex = n
	}
	return FolderID{Name: name, Version: version, CopyIndex: copyIndex}, true
}

var lowercaseBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// MixedCasePackageNameEncode encodes a package name containing uppercase
// characters. Base32 is used because it is reversible and its character
// set survives lowercasing.
func MixedCasePackageNameEncode(name string) string {
	return strings.ToLower(lowercaseBase32.EncodeToString([]byte(name)))
}

// MixedCasePackageNameDecode reverses MixedCasePackageNameEncode.
func MixedCasePackageNameDecode(name string) (string, bool) {
	decoded, err := lowercaseBase32.DecodeString(strings.ToUpper(name))
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

// rootURLToSafeLocalDirname returns a safe local directory name for a
// registry URL.
//
// For example: https://deno.land:8080/path -> deno.land_8080/path
func rootURLToSafeLocalDirname(root *url.URL) string {
	var result strings.Builder
	result.WriteString(sanitizeSegment(root.Hostname()))
	if port := root.Port(); port != "" {
		if result.Len() > 0 {
			result.WriteByte('_')
		}
		result.WriteString(port)
	}
	parts := []string{result.String()}
	for _, segment := range strings.Split(root.EscapedPath(), "/") {
		if segment == "" {
			continue
		}
		parts = append(parts, sanitizeSegment(segment))
	}
	return strings.Join(parts, "/")
}

func sanitizeSegment(text string) string {
	return strings.Map(func(c rune) rune {
		if isBannedSegmentChar(c) {
			return '_'
		}
		return c
	}, text)
}

// isBannedSegmentChar reports characters not supported on all kinds of
// filesystems, plus the path separators.
func isBannedSegmentChar(c rune) bool {
	switch c {
	case '/', '\\', '<', '>', ':', '"', '|', '?', '*':
		return true
	default:
		return false
	}
}
