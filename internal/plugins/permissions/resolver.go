package permissions

import (
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// Resolve returns the permissions of in.User on in.Questionnaire. Rules are
// additive; their order does not matter.
func Resolve(in Input) Set {
	set := Set{}
	q := in.Questionnaire
	if q.IsDeleted {
		return set
	}

	// Membership roles.
	if q.hasRole(questionnaires.RoleCompiler) {
		set.add(Edit)
		if q.Status == questionnaires.StatusDraft || q.Status == questionnaires.StatusRejected {
			set.add(Submit)
		}
		if q.Status == questionnaires.StatusDraft {
			set.add(Assign)
		}
		if q.Status != questionnaires.StatusPublic && !in.LockedByOther {
			set.add(Delete)
		}
	}
	if q.hasRole(questionnaires.RoleEditor) &&
		(q.Status == questionnaires.StatusDraft || q.Status == questionnaires.StatusSubmitted) {
		set.add(Edit)
	}
	if q.hasRole(questionnaires.RoleReviewer) && q.Status == questionnaires.StatusSubmitted {
		set.add(Edit, Review)
	}
	if q.hasRole(questionnaires.RolePublisher) && q.Status == questionnaires.StatusReviewed {
		set.add(Edit, Publish)
	}
	if q.hasRole(questionnaires.RoleSecretariat) {
		switch q.Status {
		case questionnaires.StatusSubmitted:
			set.add(Edit, Review, Assign)
		case questionnaires.StatusReviewed:
			set.add(Edit, Publish, Assign)
		}
	}

	// Global grants apply only at the matching workflow step.
	u := in.User
	switch q.Status {
	case questionnaires.StatusSubmitted:
		if u.HasGlobal(Review) {
			set.add(Edit, Review)
		}
		if u.HasGlobal(Assign) {
			set.add(Assign)
		}
	case questionnaires.StatusReviewed:
		if u.HasGlobal(Publish) {
			set.add(Edit, Publish)
		}
		if u.HasGlobal(Assign) {
			set.add(Assign)
		}
	case questionnaires.StatusPublic:
		if !in.HasPendingSibling && u.Covers(q.Country) {
			flagged := q.hasFlag(questionnaires.FlagUNCCD)
			if !flagged && u.HasGlobal(FlagUNCCD) {
				set.add(FlagUNCCD)
			}
			if flagged && u.HasGlobal(UnflagUNCCD) {
				set.add(UnflagUNCCD)
			}
		}
	}

	if in.LockedByOther {
		delete(set, Edit)
	}
	return set
}

// ActingRoles returns the membership roles whose holders are expected to act
// on a questionnaire in the given status: compilers submit drafts, reviewers
// review submissions, publishers publish reviewed versions.
func ActingRoles(status questionnaires.Status) []questionnaires.Role {
	switch status {
	case questionnaires.StatusDraft:
		return []questionnaires.Role{questionnaires.RoleCompiler}
	case questionnaires.StatusSubmitted:
		return []questionnaires.Role{questionnaires.RoleReviewer, questionnaires.RoleSecretariat}
	case questionnaires.StatusReviewed:
		return []questionnaires.Role{questionnaires.RolePublisher, questionnaires.RoleSecretariat}
	}
	return nil
}

// StepPermission returns the global permission that moves a questionnaire
// out of status, or "" when no global grant applies.
func StepPermission(status questionnaires.Status) Permission {
	switch status {
	case questionnaires.StatusSubmitted:
		return Review
	case questionnaires.StatusReviewed:
		return Publish
	}
	return ""
}

// GlobalStatuses returns the statuses the user may act on through group
// grants alone, regardless of membership.
func GlobalStatuses(f Facts) []questionnaires.Status {
	var out []questionnaires.Status
	for _, s := range []questionnaires.Status{questionnaires.StatusSubmitted, questionnaires.StatusReviewed} {
		if f.HasGlobal(StepPermission(s)) {
			out = append(out, s)
		}
	}
	return out
}

// CanActOn reports whether a user with the given facts and roles on a
// questionnaire is expected to move it out of status.
func CanActOn(f Facts, roles []questionnaires.Role, status questionnaires.Status) bool {
	if p := StepPermission(status); p != "" && f.HasGlobal(p) {
		return true
	}
	return Subject{Roles: roles}.hasRole(ActingRoles(status)...)
}
