package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/content"
	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/i18n"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
	"github.com/keyxmakerx/qcat/internal/plugins/permissions"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
	"github.com/keyxmakerx/qcat/internal/sanitize"
)

// Authorizer resolves what a user may do with a version.
// permissions.Service satisfies it.
type Authorizer interface {
	For(ctx context.Context, userID string, qn *questionnaires.Questionnaire) (permissions.Set, error)
}

// LockGuard is the part of the lock manager the workflow relies on.
// locks.LockService satisfies it.
type LockGuard interface {
	RequireFreeTx(ctx context.Context, tx *sql.Tx, code, userID string) error
	Release(ctx context.Context, userID, code string) error
}

// UnreadInvalidator drops cached unread counts.
// notifications.InboxService satisfies it.
type UnreadInvalidator interface {
	InvalidateUnread(ctx context.Context, userIDs ...string)
}

// StepAudience lists the users acting on a status through global grants.
// permissions.Audience satisfies it.
type StepAudience interface {
	GrantedUsers(ctx context.Context, status questionnaires.Status) ([]string, error)
}

// UserDirectory looks up users. auth.AuthService satisfies it.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*auth.User, error)
}

// Deps bundles the collaborators of the versioning service and the
// workflow engine.
type Deps struct {
	Repo      questionnaires.QuestionnaireRepository
	Logs      notifications.LogRepository
	Auth      Authorizer
	Locks     LockGuard
	Users     UserDirectory
	Unread    UnreadInvalidator
	Audience  StepAudience
	Validator content.Validator
	Codes     questionnaires.CodeGenerator
	DB        database.Querier
	Txs       database.Transactor
}

// VersioningService creates questionnaires and edits their content. Editing
// a Public version forks a new Draft version; any other version is edited
// in place.
type VersioningService struct {
	Deps
	now func() time.Time
}

// NewVersioningService creates a versioning service.
func NewVersioningService(deps Deps) *VersioningService {
	if deps.Codes == nil {
		deps.Codes = questionnaires.ConfigurationCodeGenerator{}
	}
	if deps.Validator == nil {
		deps.Validator = content.ShapeValidator{}
	}
	return &VersioningService{
		Deps: deps,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a visible version.
func (s *VersioningService) Get(ctx context.Context, id int64) (*questionnaires.Questionnaire, error) {
	qn, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, database.StoreError(err)
	}
	return qn, nil
}

// GetByCode returns the latest visible version of a code.
func (s *VersioningService) GetByCode(ctx context.Context, code string) (*questionnaires.Questionnaire, error) {
	qn, err := s.Repo.FindLatestByCode(ctx, code)
	if err != nil {
		return nil, database.StoreError(err)
	}
	return qn, nil
}

// ListVersions returns every visible version of a code, oldest first.
func (s *VersioningService) ListVersions(ctx context.Context, code string) ([]questionnaires.Questionnaire, error) {
	versions, err := s.Repo.ListVersions(ctx, code)
	if err != nil {
		return nil, database.StoreError(err)
	}
	if len(versions) == 0 {
		return nil, apperror.NewNotFound("questionnaire not found")
	}
	return versions, nil
}

// Members returns the memberships of a version.
func (s *VersioningService) Members(ctx context.Context, id int64) ([]questionnaires.Membership, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	members, err := s.Repo.Members(ctx, s.DB, id)
	if err != nil {
		return nil, database.StoreError(err)
	}
	return members, nil
}

// CompareVersions returns the question groups that differ between two
// versions of the same code.
func (s *VersioningService) CompareVersions(ctx context.Context, fromID, toID int64) (*VersionDiff, error) {
	from, err := s.Get(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.Get(ctx, toID)
	if err != nil {
		return nil, err
	}
	if from.Code != to.Code {
		return nil, apperror.NewBadRequest("versions belong to different questionnaires")
	}
	changed, err := content.CompareRaw(from.Data, to.Data)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("comparing versions: %w", err))
	}
	return &VersionDiff{From: fromID, To: toID, Changed: changed}, nil
}

// CreateNew stores content. Without a previous version it creates a
// questionnaire; otherwise it edits the previous version, forking a new
// Draft when that version is Public.
func (s *VersioningService) CreateNew(ctx context.Context, in CreateNewInput) (*questionnaires.Questionnaire, error) {
	if in.Status == 0 {
		in.Status = questionnaires.StatusDraft
	}
	if !in.Status.IsValid() {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid status %d", in.Status))
	}
	if in.UserID == "" {
		return nil, apperror.NewMissingContext()
	}
	if in.Created.IsZero() {
		in.Created = s.now()
	}

	var prev *questionnaires.Questionnaire
	if in.PreviousVersionID != 0 {
		var err error
		if prev, err = s.Get(ctx, in.PreviousVersionID); err != nil {
			return nil, err
		}
		if err := s.requireEdit(ctx, in.UserID, prev); err != nil {
			return nil, err
		}
		in.ConfigurationCode = prev.ConfigurationCode
	} else if in.ConfigurationCode == "" {
		return nil, apperror.NewValidation("configuration code is required")
	}

	data, fields, err := s.Validator.Clean(ctx, in.Data, in.ConfigurationCode)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("validating content: %w", err))
	}
	if len(fields) > 0 {
		return nil, apperror.NewValidationFailed(fields)
	}
	in.Data = data

	var (
		qn     *questionnaires.Questionnaire
		logs   *notifications.Log
		notify []string
	)
	err = s.Txs.WithTx(ctx, database.Serializable, func(tx *sql.Tx) error {
		var err error
		switch {
		case prev == nil:
			qn, logs, err = s.create(ctx, tx, in)
		case prev.Status == questionnaires.StatusPublic:
			qn, logs, err = s.fork(ctx, tx, in, prev)
		default:
			qn, logs, err = s.edit(ctx, tx, in, prev)
		}
		if err != nil || logs.Action != notifications.ActionEditContent {
			return err
		}
		notify, err = s.Logs.Subscribers(ctx, tx, logs.ID)
		return err
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperror.NewConflict("another version of this questionnaire was created meanwhile")
		}
		return nil, database.StoreError(err)
	}

	slog.Info("questionnaire saved",
		slog.Int64("questionnaire_id", qn.ID),
		slog.String("code", qn.Code),
		slog.Int("version", qn.Version),
		slog.String("action", logs.Action.String()),
	)
	s.Unread.InvalidateUnread(ctx, notify...)
	return qn, nil
}

// requireEdit checks the permission to change the content of prev. A
// submitted version may only be changed by whoever may review it, a
// reviewed one by whoever may publish it.
func (s *VersioningService) requireEdit(ctx context.Context, userID string, prev *questionnaires.Questionnaire) error {
	if prev.Status == questionnaires.StatusInactive {
		return apperror.NewInvalidState("inactive versions cannot be edited")
	}
	set, err := s.Auth.For(ctx, userID, prev)
	if err != nil {
		return err
	}
	need := permissions.Edit
	switch prev.Status {
	case questionnaires.StatusSubmitted:
		need = permissions.Review
	case questionnaires.StatusReviewed:
		need = permissions.Publish
	}
	if !set.Has(permissions.Edit) || !set.Has(need) {
		return apperror.NewForbidden("you are not allowed to edit this questionnaire")
	}
	return nil
}

// create inserts version 1 of a new code with the user as compiler.
func (s *VersioningService) create(ctx context.Context, tx *sql.Tx, in CreateNewInput) (*questionnaires.Questionnaire, *notifications.Log, error) {
	locale := i18n.Locale(ctx)
	if len(in.Languages) > 0 {
		locale = in.Languages[0]
	}
	qn := &questionnaires.Questionnaire{
		Code:              in.Code,
		Version:           1,
		Status:            in.Status,
		UUID:              uuid.NewString(),
		Data:              in.Data,
		ConfigurationCode: in.ConfigurationCode,
		OriginalLocale:    locale,
		Translations:      languages(locale, in.Languages),
		Created:           in.Created,
		Updated:           in.Created,
	}
	if err := s.Repo.Create(ctx, tx, qn); err != nil {
		return nil, nil, err
	}
	if qn.Code == "" {
		qn.Code = s.Codes.Code(qn)
		if err := s.Repo.SetCode(ctx, tx, qn.ID, qn.Code); err != nil {
			return nil, nil, err
		}
	}
	if _, err := s.Repo.AddMember(ctx, tx, qn.ID, in.UserID, questionnaires.RoleCompiler); err != nil {
		return nil, nil, err
	}

	l, err := s.Logs.Append(ctx, tx, &notifications.NewLog{
		Action:          notifications.ActionCreate,
		CatalystID:      in.UserID,
		QuestionnaireID: qn.ID,
		Created:         in.Created,
		NoSubscribers:   true,
		Status:          &notifications.StatusUpdate{Status: qn.Status},
	})
	if err != nil {
		return nil, nil, err
	}
	return qn, l, nil
}

// edit replaces the content of a version that is still being worked on.
func (s *VersioningService) edit(ctx context.Context, tx *sql.Tx, in CreateNewInput, prev *questionnaires.Questionnaire) (*questionnaires.Questionnaire, *notifications.Log, error) {
	qn, err := s.Repo.FindForUpdate(ctx, tx, prev.ID)
	if err != nil {
		return nil, nil, err
	}
	if qn.Status != prev.Status {
		return nil, nil, apperror.NewInvalidState("the questionnaire changed its status meanwhile")
	}
	if err := s.Locks.RequireFreeTx(ctx, tx, qn.Code, in.UserID); err != nil {
		return nil, nil, err
	}
	if err := s.Repo.UpdateData(ctx, tx, qn.ID, in.Data, in.Created); err != nil {
		return nil, nil, err
	}
	qn.Data = in.Data
	qn.Updated = in.Created

	l, err := s.Logs.Append(ctx, tx, &notifications.NewLog{
		Action:          notifications.ActionEditContent,
		CatalystID:      in.UserID,
		QuestionnaireID: qn.ID,
		Created:         in.Created,
	})
	if err != nil {
		return nil, nil, err
	}
	return qn, l, nil
}

// fork creates the next Draft version of a Public questionnaire. At most
// one version of a code may be pending at a time.
func (s *VersioningService) fork(ctx context.Context, tx *sql.Tx, in CreateNewInput, prev *questionnaires.Questionnaire) (*questionnaires.Questionnaire, *notifications.Log, error) {
	if err := s.Locks.RequireFreeTx(ctx, tx, prev.Code, in.UserID); err != nil {
		return nil, nil, err
	}
	qn, err := s.nextVersion(ctx, tx, prev, questionnaires.StatusDraft, in.Data, in.Created)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.Repo.AddMember(ctx, tx, qn.ID, in.UserID, questionnaires.RoleCompiler); err != nil {
		return nil, nil, err
	}

	l, err := s.Logs.Append(ctx, tx, &notifications.NewLog{
		Action:          notifications.ActionCreate,
		CatalystID:      in.UserID,
		QuestionnaireID: qn.ID,
		Created:         in.Created,
		NoSubscribers:   true,
		Status:          &notifications.StatusUpdate{Status: qn.Status},
	})
	if err != nil {
		return nil, nil, err
	}
	return qn, l, nil
}

// nextVersion inserts version max+1 of prev's code carrying its uuid and
// functional memberships. It fails with a conflict when the code already has
// a pending version.
func (s *VersioningService) nextVersion(ctx context.Context, tx *sql.Tx, prev *questionnaires.Questionnaire, status questionnaires.Status, data json.RawMessage, now time.Time) (*questionnaires.Questionnaire, error) {
	pending, err := s.Repo.HasPendingVersion(ctx, tx, prev.Code, 0)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, apperror.NewConflict("this questionnaire already has a version in progress")
	}
	latest, err := s.Repo.MaxVersion(ctx, tx, prev.Code)
	if err != nil {
		return nil, err
	}

	qn := &questionnaires.Questionnaire{
		Code:              prev.Code,
		Version:           latest + 1,
		Status:            status,
		UUID:              prev.UUID,
		Data:              data,
		ConfigurationCode: prev.ConfigurationCode,
		OriginalLocale:    prev.OriginalLocale,
		Translations:      prev.Translations,
		Created:           now,
		Updated:           now,
	}
	if err := s.Repo.Create(ctx, tx, qn); err != nil {
		return nil, err
	}
	if err := s.Repo.CopyMembers(ctx, tx, prev.ID, qn.ID, questionnaires.FunctionalRoles); err != nil {
		return nil, err
	}
	return qn, nil
}

// FinishEditing releases the user's lock and tells the receivers (by
// default the compilers) that the user is done.
func (s *VersioningService) FinishEditing(ctx context.Context, in FinishEditingInput) (*notifications.Log, error) {
	qn, err := s.Get(ctx, in.QuestionnaireID)
	if err != nil {
		return nil, err
	}
	set, err := s.Auth.For(ctx, in.UserID, qn)
	if err != nil {
		return nil, err
	}
	if !set.Has(permissions.Edit) {
		return nil, apperror.NewForbidden("you are not allowed to edit this questionnaire")
	}

	receivers := in.Receivers
	if len(receivers) == 0 {
		compilers, err := s.Repo.MembersWithRoles(ctx, qn.ID, []questionnaires.Role{questionnaires.RoleCompiler})
		if err != nil {
			return nil, database.StoreError(err)
		}
		receivers = questionnaires.UserIDs(compilers)
	}

	info := sanitize.Message(in.Message)
	if info == "" {
		user, err := s.Users.GetUser(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		info = fmt.Sprintf("%s finished editing", displayName(user))
	}

	var l *notifications.Log
	err = s.Txs.WithTx(ctx, nil, func(tx *sql.Tx) error {
		var err error
		l, err = s.Logs.Append(ctx, tx, &notifications.NewLog{
			Action:          notifications.ActionFinishEditing,
			CatalystID:      in.UserID,
			QuestionnaireID: qn.ID,
			Created:         s.now(),
			Receivers:       receivers,
			Information:     &notifications.InformationUpdate{Info: info},
		})
		return err
	})
	if err != nil {
		return nil, database.StoreError(err)
	}

	if err := s.Locks.Release(ctx, in.UserID, qn.Code); err != nil {
		slog.Warn("releasing lock after finish editing",
			slog.String("code", qn.Code),
			slog.String("user_id", in.UserID),
			slog.Any("error", err),
		)
	}
	s.Unread.InvalidateUnread(ctx, receivers...)
	return l, nil
}

// languages returns the translations of a new version: the original locale
// first, then the others without duplicates.
func languages(original string, given []string) []string {
	out := []string{original}
	for _, l := range given {
		if l != "" && !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

func displayName(u *auth.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
