package permissions

import (
	"context"

	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// GroupDirectory lists users by group and the superusers.
// auth.AuthService satisfies it.
type GroupDirectory interface {
	UsersInGroups(ctx context.Context, groups []string) ([]string, error)
	SuperuserIDs(ctx context.Context) ([]string, error)
}

// Audience finds the users who act on a status through global grants
// alone, without a membership on the questionnaire.
type Audience struct {
	Grants *Grants
	Users  GroupDirectory
}

// GrantedUsers returns the members of every group granting the step
// permission of status, plus the superusers, who hold every global
// permission. Statuses without a step permission have no such users.
func (a Audience) GrantedUsers(ctx context.Context, status questionnaires.Status) ([]string, error) {
	p := StepPermission(status)
	if p == "" {
		return nil, nil
	}

	var out []string
	if a.Grants != nil {
		if groups := a.Grants.GroupsWith(p); len(groups) > 0 {
			ids, err := a.Users.UsersInGroups(ctx, groups)
			if err != nil {
				return nil, err
			}
			out = append(out, ids...)
		}
	}
	supers, err := a.Users.SuperuserIDs(ctx)
	if err != nil {
		return nil, err
	}
	return append(out, supers...), nil
}
