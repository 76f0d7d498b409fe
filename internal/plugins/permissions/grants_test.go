package permissions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/qcat/internal/plugins/auth"
)

const grantsYAML = `
groups:
  reviewers:
    permissions: [review, assign]
  publishers:
    permissions: [publish]
  unccd_kh:
    permissions: [flag_unccd, unflag_unccd]
    scopes: [country_KH]
`

func TestLoadGrants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(grantsYAML), 0o600))

	g, err := LoadGrants(path)
	require.NoError(t, err)
	assert.Len(t, g.Groups, 3)
	assert.Equal(t, []string{"reviewers"}, g.GroupsWith(Review))
	assert.Equal(t, []string{"publishers"}, g.GroupsWith(Publish))
}

func TestLoadGrants_EmptyPath(t *testing.T) {
	g, err := LoadGrants("")
	require.NoError(t, err)
	assert.Empty(t, g.Groups)
}

func TestParseGrants_RejectsMembershipPermissions(t *testing.T) {
	_, err := ParseGrants([]byte("groups:\n  everyone:\n    permissions: [edit, delete]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"edit"`)
	assert.Contains(t, err.Error(), `"delete"`)
}

func TestGrants_Facts(t *testing.T) {
	g, err := ParseGrants([]byte(grantsYAML))
	require.NoError(t, err)

	f := g.Facts(&auth.User{
		ID:     "u1",
		Groups: []string{"reviewers", "unccd_kh", "unknown"},
		Scopes: []string{"country_LA"},
	})
	assert.Equal(t, []Permission{Assign, FlagUNCCD, Review, UnflagUNCCD}, f.Global)
	assert.Equal(t, []string{"country_KH", "country_LA"}, f.Scopes)
	assert.True(t, f.Covers("country_KH"))
	assert.False(t, f.Covers("country_TH"))
	assert.False(t, f.Covers(""))

	super := g.Facts(&auth.User{ID: "root", IsSuperuser: true})
	assert.True(t, super.HasGlobal(Publish))
	assert.True(t, super.Covers("anything"))
}
