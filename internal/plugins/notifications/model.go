// Package notifications stores the append-only change logs of questionnaires
// and answers the per-user inbox queries over them: the visible list, the
// pending ("todo") list and the unread count.
package notifications

import (
	"fmt"
	"time"

	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// Action identifies what happened to a questionnaire.
type Action int

// Action values are stored in notification_logs.action.
const (
	ActionCreate        Action = 1
	ActionDelete        Action = 2
	ActionChangeStatus  Action = 3
	ActionAddMember     Action = 4
	ActionRemoveMember  Action = 5
	ActionEditContent   Action = 6
	ActionFinishEditing Action = 7
)

var actionNames = map[Action]string{
	ActionCreate:        "create",
	ActionDelete:        "delete",
	ActionChangeStatus:  "change_status",
	ActionAddMember:     "add_member",
	ActionRemoveMember:  "remove_member",
	ActionEditContent:   "edit_content",
	ActionFinishEditing: "finish_editing",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	_, ok := actionNames[a]
	return ok
}

// IsMailable reports whether logs of this action are ever mailed. Creation
// and content edits only show up in the inbox.
func (a Action) IsMailable() bool {
	return a.IsValid() && a != ActionCreate && a != ActionEditContent
}

// MailableActions lists the actions a user may opt in to by mail, in order.
var MailableActions = []Action{
	ActionDelete,
	ActionChangeStatus,
	ActionAddMember,
	ActionRemoveMember,
	ActionFinishEditing,
}

// PayloadKind names the typed sub-record a log carries.
type PayloadKind string

const (
	PayloadStatus      PayloadKind = "status"
	PayloadMember      PayloadKind = "member"
	PayloadContent     PayloadKind = "content"
	PayloadInformation PayloadKind = "information"
)

// PayloadKind returns the payload variant every log of this action carries.
func (a Action) PayloadKind() PayloadKind {
	switch a {
	case ActionCreate, ActionDelete, ActionChangeStatus:
		return PayloadStatus
	case ActionAddMember, ActionRemoveMember:
		return PayloadMember
	case ActionEditContent:
		return PayloadContent
	case ActionFinishEditing:
		return PayloadInformation
	}
	return ""
}

// StatusUpdate is the payload of create, delete and status change logs.
type StatusUpdate struct {
	Status     questionnaires.Status `json:"status"`
	IsRejected bool                  `json:"is_rejected"`
	Message    string                `json:"message,omitempty"`
}

// MemberUpdate is the payload of membership changes.
type MemberUpdate struct {
	AffectedID   string              `json:"affected_id"`
	AffectedName string              `json:"affected_name,omitempty"`
	Role         questionnaires.Role `json:"role"`
}

// InformationUpdate carries free text, e.g. "finished editing".
type InformationUpdate struct {
	Info string `json:"info"`
}

// Log is a stored log with its payload and some questionnaire context.
type Log struct {
	ID                  int64                 `json:"id"`
	Created             time.Time             `json:"created"`
	Action              Action                `json:"action"`
	CatalystID          string                `json:"catalyst_id"`
	CatalystName        string                `json:"catalyst_name"`
	QuestionnaireID     int64                 `json:"questionnaire_id"`
	QuestionnaireCode   string                `json:"questionnaire_code"`
	QuestionnaireStatus questionnaires.Status `json:"questionnaire_status"`
	WasProcessed        bool                  `json:"-"`

	Status      *StatusUpdate      `json:"status_update,omitempty"`
	Member      *MemberUpdate      `json:"member_update,omitempty"`
	Information *InformationUpdate `json:"information_update,omitempty"`
}

// IsCurrentStatus reports whether a status change log still describes the
// questionnaire's status, i.e. nobody moved it on since.
func (l *Log) IsCurrentStatus() bool {
	return l.Action == ActionChangeStatus && l.Status != nil && l.Status.Status == l.QuestionnaireStatus
}

// NewLog is the input of LogRepository.Append.
type NewLog struct {
	Action          Action
	CatalystID      string
	QuestionnaireID int64
	Created         time.Time

	// Receivers replaces the membership-derived subscribers when non-nil.
	// The catalyst is removed either way.
	Receivers []string

	// NoSubscribers stores the log without subscribers (creation logs).
	NoSubscribers bool

	Status      *StatusUpdate
	Member      *MemberUpdate
	Information *InformationUpdate
}

// validate checks that the payload matches the action.
func (n *NewLog) validate() error {
	if !n.Action.IsValid() {
		return fmt.Errorf("unknown action %d", int(n.Action))
	}
	if n.CatalystID == "" || n.QuestionnaireID == 0 {
		return fmt.Errorf("%s log needs a catalyst and a questionnaire", n.Action)
	}
	var ok bool
	switch n.Action.PayloadKind() {
	case PayloadStatus:
		ok = n.Status != nil && n.Member == nil && n.Information == nil
	case PayloadMember:
		ok = n.Member != nil && n.Status == nil && n.Information == nil
	case PayloadContent:
		ok = n.Status == nil && n.Member == nil && n.Information == nil
	case PayloadInformation:
		ok = n.Information != nil && n.Status == nil && n.Member == nil
	}
	if !ok {
		return fmt.Errorf("%s log needs exactly a %s payload", n.Action, n.Action.PayloadKind())
	}
	return nil
}

// --- Inbox ---

// Filter narrows an inbox listing.
type Filter struct {
	Page          int
	PerPage       int
	OnlyTodo      bool
	Questionnaire string
	IncludeRead   bool
}

// normalize applies paging defaults and bounds.
func (f Filter) normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 20
	}
	if f.PerPage > 100 {
		f.PerPage = 100
	}
	return f
}

// InboxItem is a log as seen by one user.
type InboxItem struct {
	Log
	IsRead bool `json:"is_read"`
	IsTodo bool `json:"is_todo"`
}

// Page is one page of an inbox listing.
type Page struct {
	Items   []InboxItem `json:"items"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
}

// Viewer is the user an inbox query runs for: who they are and which
// statuses their group grants let them act on.
type Viewer struct {
	UserID   string
	Statuses []questionnaires.Status
}
