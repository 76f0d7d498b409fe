package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

type stubDirectory struct {
	groups map[string][]string
	supers []string
	err    error
	asked  [][]string
}

func (s *stubDirectory) UsersInGroups(_ context.Context, groups []string) ([]string, error) {
	s.asked = append(s.asked, groups)
	var out []string
	for _, g := range groups {
		out = append(out, s.groups[g]...)
	}
	return out, s.err
}

func (s *stubDirectory) SuperuserIDs(context.Context) ([]string, error) {
	return s.supers, nil
}

func TestAudience_GrantedUsers(t *testing.T) {
	dir := &stubDirectory{
		groups: map[string][]string{"reviewers": {"gina"}, "publishers": {"paul"}},
		supers: []string{"root"},
	}
	a := Audience{
		Grants: &Grants{Groups: map[string]Grant{
			"reviewers":  {Permissions: []Permission{Review}},
			"publishers": {Permissions: []Permission{Publish}},
		}},
		Users: dir,
	}
	ctx := context.Background()

	got, err := a.GrantedUsers(ctx, questionnaires.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, []string{"gina", "root"}, got)

	got, err = a.GrantedUsers(ctx, questionnaires.StatusReviewed)
	require.NoError(t, err)
	assert.Equal(t, []string{"paul", "root"}, got)

	dir.asked = nil
	got, err = a.GrantedUsers(ctx, questionnaires.StatusDraft)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, dir.asked, "statuses without a step permission need no lookup")
}

func TestAudience_DirectoryError(t *testing.T) {
	a := Audience{
		Grants: &Grants{Groups: map[string]Grant{"reviewers": {Permissions: []Permission{Review}}}},
		Users:  &stubDirectory{err: errors.New("store down")},
	}
	_, err := a.GrantedUsers(context.Background(), questionnaires.StatusSubmitted)
	assert.Error(t, err)
}
