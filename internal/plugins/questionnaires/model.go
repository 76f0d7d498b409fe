// Package questionnaires owns the questionnaire tables: versions of a case
// sharing one code, their memberships, flags and links. It holds the domain
// enumerations used by every other part of the review engine and the SQL that
// reads and mutates them. Orchestration (versioning, transitions) lives in
// the workflow plugin, which composes these repository calls in one
// transaction.
package questionnaires

import (
	"encoding/json"
	"time"
)

// Status is the review state of one questionnaire version.
type Status int

// Status values are persisted; never renumber them.
const (
	StatusDraft     Status = 1
	StatusSubmitted Status = 2
	StatusReviewed  Status = 3
	StatusPublic    Status = 4
	StatusRejected  Status = 5
	StatusInactive  Status = 6
)

var statusNames = map[Status]string{
	StatusDraft:     "draft",
	StatusSubmitted: "submitted",
	StatusReviewed:  "reviewed",
	StatusPublic:    "public",
	StatusRejected:  "rejected",
	StatusInactive:  "inactive",
}

// String returns the lowercase name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether s is one of the enumerated statuses.
func (s Status) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsPending reports whether a version in this status is still being worked
// on, i.e. blocks the creation of another version for the same code.
func (s Status) IsPending() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusReviewed, StatusRejected:
		return true
	}
	return false
}

// IsWorkflowStep reports whether the status is a step someone has to act on
// (submit, review or publish).
func (s Status) IsWorkflowStep() bool {
	return s == StatusDraft || s == StatusSubmitted || s == StatusReviewed
}

// StatusFromString parses a status name. ok is false for unknown names.
func StatusFromString(name string) (Status, bool) {
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// PendingStatuses lists the statuses for which IsPending is true.
var PendingStatuses = []Status{StatusDraft, StatusSubmitted, StatusReviewed, StatusRejected}

// Role is the relationship of a user to one questionnaire version.
type Role string

const (
	RoleCompiler       Role = "compiler"
	RoleEditor         Role = "editor"
	RoleReviewer       Role = "reviewer"
	RolePublisher      Role = "publisher"
	RoleSecretariat    Role = "secretariat"
	RoleLandUser       Role = "landuser"
	RoleResourcePerson Role = "resourceperson"
	RoleFlagger        Role = "flagger"
)

// FunctionalRoles are carried over when a new version is created from a
// Public one. Informational roles (land user, resource person) belong to the
// content of a version and are not copied.
var FunctionalRoles = []Role{RoleCompiler, RoleEditor, RoleReviewer, RolePublisher}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleCompiler, RoleEditor, RoleReviewer, RolePublisher,
		RoleSecretariat, RoleLandUser, RoleResourcePerson, RoleFlagger:
		return true
	}
	return false
}

// Flag is a domain tag on a questionnaire version.
type Flag string

// FlagUNCCD marks a case as a UNCCD best practice.
const FlagUNCCD Flag = "unccd_bp"

// Questionnaire is one version of a case.
type Questionnaire struct {
	ID                int64           `json:"id"`
	Code              string          `json:"code"`
	Version           int             `json:"version"`
	Status            Status          `json:"status"`
	UUID              string          `json:"uuid"`
	Data              json.RawMessage `json:"data"`
	ConfigurationCode string          `json:"configuration_code"`
	OriginalLocale    string          `json:"original_locale"`
	Translations      []string        `json:"translations"`
	Created           time.Time       `json:"created"`
	Updated           time.Time       `json:"updated"`
	IsDeleted         bool            `json:"-"`
}

// Membership ties a user to a questionnaire version with a role.
type Membership struct {
	QuestionnaireID int64  `json:"questionnaire_id"`
	UserID          string `json:"user_id"`
	Role            Role   `json:"role"`

	// DisplayName is joined from users at query time.
	DisplayName string `json:"display_name,omitempty"`
}

// UserIDs returns the distinct user ids of the memberships, in order of
// first appearance.
func UserIDs(members []Membership) []string {
	seen := make(map[string]struct{}, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		ids = append(ids, m.UserID)
	}
	return ids
}

// RolesOf returns the roles the given user holds among members.
func RolesOf(members []Membership, userID string) []Role {
	var roles []Role
	for _, m := range members {
		if m.UserID == userID {
			roles = append(roles, m.Role)
		}
	}
	return roles
}
