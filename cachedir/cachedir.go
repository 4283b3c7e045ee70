// Package cachedir resolves the root directory of the global module
// cache.
package cachedir

import (
	"errors"
	"os"
	"path/filepath"
)

// RootEnvVar overrides the resolved cache root when set.
const RootEnvVar = "MODCACHE_DIR"

// ErrNoCacheOrHomeDir is returned when no cache root can be resolved.
// Set MODCACHE_DIR or make a user cache directory available.
var ErrNoCacheOrHomeDir = errors.New("could not resolve global module cache directory: set MODCACHE_DIR or make a cache or home directory available")

// Resolve returns the absolute cache root. customRoot wins when
// non-empty, then the MODCACHE_DIR environment variable, then the OS
// user cache directory, then a dot directory under the home directory.
func Resolve(customRoot string) (string, error) {
	root := customRoot
	if root == "" {
		root = os.Getenv(RootEnvVar)
	}
	if root == "" {
		if cacheDir, err := os.UserCacheDir(); err == nil {
			// all files written here are cache files, so the OS cache
			// dir is the right default
			root = filepath.Join(cacheDir, "modcache")
		} else if homeDir, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(homeDir, ".modcache")
		} else {
			return "", ErrNoCacheOrHomeDir
		}
	}
	if filepath.IsAbs(root) {
		return root, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, root), nil
}
