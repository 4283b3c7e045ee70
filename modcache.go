// Package modcache implements the on-disk HTTP module cache used by a
// runtime that fetches remote source modules and persists them for reuse
// across invocations.
//
// Two storage backends coexist: a global cache keyed by a deterministic
// URL hash (the shared system cache) and a local cache keyed by a
// human-readable filesystem mirror of the remote URL layout (for
// project-pinned "vendored" dependencies). Both implement the HTTPCache
// interface, as does an in-memory backend used for tests and ephemeral
// workflows. The fetcher subpackage coordinates scheme dispatch,
// redirects, conditional revalidation and checksum enforcement on top of
// a backend.
package modcache

// CachePerm is the file mode used to save a file in the disk caches.
const CachePerm = 0o644

// HeadersMap maps lowercase ASCII header names to values. Duplicate
// response values are joined with a literal comma, which conflates them
// with comma-containing values; this is an accepted limitation of the
// stored format.
type HeadersMap = map[string]string
