package cachedir

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCustomRootWins(t *testing.T) {
	t.Setenv(RootEnvVar, "/from/env")
	root, err := Resolve("/custom/root")
	require.NoError(t, err)
	assert.Equal(t, "/custom/root", root)
}

func TestResolveEnvVar(t *testing.T) {
	t.Setenv(RootEnvVar, "/from/env")
	root, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "/from/env", root)
}

func TestResolveRelativeRootIsAnchored(t *testing.T) {
	t.Setenv(RootEnvVar, "relative/cache")
	root, err := Resolve("")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(root))
	assert.True(t, strings.HasSuffix(root, filepath.Join("relative", "cache")))
}

func TestResolveDefault(t *testing.T) {
	t.Setenv(RootEnvVar, "")
	root, err := Resolve("")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(root))
}
