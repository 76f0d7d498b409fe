// Package permissions decides what a user may do with one questionnaire
// version. Resolve is a pure function over facts about the user (global
// grants derived from directory groups, scopes) and the questionnaire (status,
// the user's roles on it, flags, country). Service gathers those facts from
// the store for callers that only have ids.
package permissions

import (
	"sort"

	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// Permission is an action a user may take on a questionnaire.
type Permission string

const (
	Edit        Permission = "edit"
	Submit      Permission = "submit"
	Review      Permission = "review"
	Publish     Permission = "publish"
	Assign      Permission = "assign"
	Delete      Permission = "delete"
	FlagUNCCD   Permission = "flag_unccd"
	UnflagUNCCD Permission = "unflag_unccd"
)

// globalPermissions may be granted to directory groups.
var globalPermissions = map[Permission]bool{
	Review:      true,
	Publish:     true,
	Assign:      true,
	FlagUNCCD:   true,
	UnflagUNCCD: true,
}

// ScopeAll in a user's scopes covers every country.
const ScopeAll = "*"

// Set is an unordered set of permissions.
type Set map[Permission]struct{}

// Has reports whether p is in the set.
func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the permissions in lexical order.
func (s Set) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Set) add(ps ...Permission) {
	for _, p := range ps {
		s[p] = struct{}{}
	}
}

// Facts is what the resolver knows about a user independently of any
// questionnaire.
type Facts struct {
	UserID string

	// Global are the permissions granted through directory groups.
	Global []Permission

	// Scopes restrict scoped grants, e.g. to country codes.
	Scopes []string

	IsStaff     bool
	IsSuperuser bool
}

// HasGlobal reports whether the user holds p through a group grant.
func (f Facts) HasGlobal(p Permission) bool {
	for _, g := range f.Global {
		if g == p {
			return true
		}
	}
	return false
}

// Covers reports whether the user's scopes include scope.
func (f Facts) Covers(scope string) bool {
	for _, s := range f.Scopes {
		if s == ScopeAll || (scope != "" && s == scope) {
			return true
		}
	}
	return false
}

// Subject is what the resolver knows about the questionnaire version.
type Subject struct {
	Status questionnaires.Status

	// Roles are the roles of the user on this version.
	Roles []questionnaires.Role

	Flags     []questionnaires.Flag
	Country   string
	IsDeleted bool
}

func (s Subject) hasRole(roles ...questionnaires.Role) bool {
	for _, have := range s.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

func (s Subject) hasFlag(f questionnaires.Flag) bool {
	for _, have := range s.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// Input is everything Resolve looks at.
type Input struct {
	User          Facts
	Questionnaire Subject

	// LockedByOther is true when another user holds an active lock on the
	// questionnaire's code.
	LockedByOther bool

	// HasPendingSibling is true when another version of the same code is
	// Draft, Submitted, Reviewed or Rejected.
	HasPendingSibling bool
}
