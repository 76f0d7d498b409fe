// Package workflow moves questionnaires through their review lifecycle. It
// owns versioning (creating and editing versions) and the transitions
// between statuses, composing the questionnaire tables, editorial locks and
// change logs in one serializable transaction per operation.
package workflow

import (
	"encoding/json"
	"time"

	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
	"github.com/keyxmakerx/qcat/internal/plugins/permissions"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// Kind names a transition.
type Kind string

const (
	KindSubmit   Kind = "submit"
	KindReview   Kind = "review"
	KindPublish  Kind = "publish"
	KindReject   Kind = "reject"
	KindAssign   Kind = "assign"
	KindUnassign Kind = "unassign"
	KindFlag     Kind = "flag"
	KindUnflag   Kind = "unflag"
	KindDelete   Kind = "delete"
)

// IsValid reports whether k is a known transition.
func (k Kind) IsValid() bool {
	switch k {
	case KindSubmit, KindReview, KindPublish, KindReject, KindAssign,
		KindUnassign, KindFlag, KindUnflag, KindDelete:
		return true
	}
	return false
}

// required returns the permission a transition needs on a questionnaire in
// the given status. Rejecting a reviewed version is a publisher's call.
func (k Kind) required(status questionnaires.Status) permissions.Permission {
	switch k {
	case KindSubmit:
		return permissions.Submit
	case KindReview:
		return permissions.Review
	case KindPublish:
		return permissions.Publish
	case KindReject:
		if status == questionnaires.StatusReviewed {
			return permissions.Publish
		}
		return permissions.Review
	case KindAssign, KindUnassign:
		return permissions.Assign
	case KindFlag:
		return permissions.FlagUNCCD
	case KindUnflag:
		return permissions.UnflagUNCCD
	case KindDelete:
		return permissions.Delete
	}
	return ""
}

// allowedFrom lists the statuses a transition may start from.
var allowedFrom = map[Kind][]questionnaires.Status{
	KindSubmit:   {questionnaires.StatusDraft, questionnaires.StatusRejected},
	KindReview:   {questionnaires.StatusSubmitted},
	KindPublish:  {questionnaires.StatusReviewed},
	KindReject:   {questionnaires.StatusSubmitted, questionnaires.StatusReviewed},
	KindAssign:   {questionnaires.StatusDraft, questionnaires.StatusSubmitted, questionnaires.StatusReviewed},
	KindUnassign: {questionnaires.StatusDraft, questionnaires.StatusSubmitted, questionnaires.StatusReviewed},
	KindFlag:     {questionnaires.StatusPublic},
	KindUnflag:   {questionnaires.StatusPublic},
	KindDelete: {
		questionnaires.StatusDraft, questionnaires.StatusSubmitted, questionnaires.StatusReviewed,
		questionnaires.StatusRejected, questionnaires.StatusInactive,
	},
}

// next returns the status a status-changing transition leads to.
func next(k Kind, from questionnaires.Status) questionnaires.Status {
	switch k {
	case KindSubmit:
		return questionnaires.StatusSubmitted
	case KindReview:
		return questionnaires.StatusReviewed
	case KindPublish:
		return questionnaires.StatusPublic
	case KindReject:
		if from == questionnaires.StatusReviewed {
			return questionnaires.StatusSubmitted
		}
		return questionnaires.StatusDraft
	}
	return from
}

// assignableRoles may be given or taken through assign and unassign.
// Compilers are set on creation; flaggers by flagging.
var assignableRoles = map[questionnaires.Role]bool{
	questionnaires.RoleEditor:         true,
	questionnaires.RoleReviewer:       true,
	questionnaires.RolePublisher:      true,
	questionnaires.RoleSecretariat:    true,
	questionnaires.RoleLandUser:       true,
	questionnaires.RoleResourcePerson: true,
}

// TransitionInput is one request to move a questionnaire.
type TransitionInput struct {
	UserID          string
	QuestionnaireID int64
	Kind            Kind

	// Message is the reviewer's note, kept on status change logs.
	Message string

	// Member and Role name the membership for assign and unassign.
	Member string
	Role   questionnaires.Role
}

// TransitionResult is the questionnaire after a transition and the log it
// wrote. Flagging returns the new version.
type TransitionResult struct {
	Questionnaire *questionnaires.Questionnaire `json:"questionnaire"`
	Log           *notifications.Log            `json:"log"`
}

// CreateNewInput creates a questionnaire or changes the content of one.
type CreateNewInput struct {
	// Code is only used for new questionnaires; empty lets the code
	// generator name it.
	Code              string
	ConfigurationCode string
	Data              json.RawMessage
	UserID            string

	// PreviousVersionID is the version being edited, 0 for a new
	// questionnaire.
	PreviousVersionID int64

	// Status of a new questionnaire; zero means Draft.
	Status questionnaires.Status

	// Languages are the locales the content is written in, the original
	// first.
	Languages []string
	Created   time.Time
}

// FinishEditingInput tells others that a user is done editing.
type FinishEditingInput struct {
	UserID          string
	QuestionnaireID int64

	// Receivers default to the compilers of the version.
	Receivers []string
	Message   string
}

// VersionDiff lists the question groups that differ between two versions.
type VersionDiff struct {
	From    int64    `json:"from"`
	To      int64    `json:"to"`
	Changed []string `json:"changed"`
}
