package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
	"github.com/keyxmakerx/qcat/internal/sanitize"
	"github.com/keyxmakerx/qcat/internal/search"
)

// Service runs workflow transitions. Every transition resolves the caller's
// permissions, checks the current status, then mutates the version and
// appends its log in one serializable transaction holding the version's
// row. Lock release and search indexing happen after the commit.
type Service struct {
	*VersioningService
	index search.Indexer
}

// NewService creates the workflow engine on top of a versioning service.
func NewService(versions *VersioningService, index search.Indexer) *Service {
	if index == nil {
		index = search.NewIndexer("", 0)
	}
	return &Service{VersioningService: versions, index: index}
}

// outcome is what a transition body hands to the post-commit steps.
type outcome struct {
	qn      *questionnaires.Questionnaire
	log     *notifications.Log
	notify  []string
	put     []questionnaires.Questionnaire
	removed []questionnaires.Questionnaire
}

// Transition applies in.Kind to a questionnaire version.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (*TransitionResult, error) {
	if !in.Kind.IsValid() {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown transition %q", in.Kind))
	}
	if in.UserID == "" {
		return nil, apperror.NewMissingContext()
	}

	qn, err := s.Get(ctx, in.QuestionnaireID)
	if err != nil {
		return nil, err
	}
	set, err := s.Auth.For(ctx, in.UserID, qn)
	if err != nil {
		return nil, err
	}
	if need := in.Kind.required(qn.Status); !set.Has(need) {
		return nil, apperror.NewForbidden(fmt.Sprintf("you are not allowed to %s this questionnaire", in.Kind))
	}
	if !slices.Contains(allowedFrom[in.Kind], qn.Status) {
		return nil, apperror.NewInvalidState(fmt.Sprintf("cannot %s a questionnaire in status %s", in.Kind, qn.Status))
	}
	if err := s.validate(ctx, in); err != nil {
		return nil, err
	}

	// Public versions of the code that deletion will take out of the index.
	var deletedPublic []questionnaires.Questionnaire
	if in.Kind == KindDelete {
		versions, err := s.Repo.ListVersions(ctx, qn.Code)
		if err != nil {
			return nil, database.StoreError(err)
		}
		for _, v := range versions {
			if v.Status == questionnaires.StatusPublic {
				deletedPublic = append(deletedPublic, v)
			}
		}
	}

	now := s.now()
	var out outcome
	err = s.Txs.WithTx(ctx, database.Serializable, func(tx *sql.Tx) error {
		locked, err := s.Repo.FindForUpdate(ctx, tx, qn.ID)
		if err != nil {
			return err
		}
		if locked.Status != qn.Status {
			return apperror.NewInvalidState("the questionnaire changed its status meanwhile")
		}

		out = outcome{}
		switch in.Kind {
		case KindSubmit, KindReview, KindPublish, KindReject:
			err = s.changeStatus(ctx, tx, in, locked, now, &out)
		case KindAssign, KindUnassign:
			err = s.changeMember(ctx, tx, in, locked, now, &out)
		case KindFlag, KindUnflag:
			err = s.changeFlag(ctx, tx, in, locked, now, &out)
		case KindDelete:
			err = s.deleteCode(ctx, tx, in, locked, now, &out)
		}
		if err != nil {
			return err
		}

		subscribers, err := s.Logs.Subscribers(ctx, tx, out.log.ID)
		if err != nil {
			return err
		}
		out.notify = append(out.notify, subscribers...)
		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperror.NewConflict("another version of this questionnaire was created meanwhile")
		}
		return nil, database.StoreError(err)
	}
	if in.Kind == KindDelete {
		out.removed = deletedPublic
	}

	slog.Info("questionnaire transition",
		slog.String("kind", string(in.Kind)),
		slog.Int64("questionnaire_id", out.qn.ID),
		slog.String("code", out.qn.Code),
		slog.String("status", out.qn.Status.String()),
		slog.String("user_id", in.UserID),
	)

	s.afterCommit(ctx, in.UserID, &out)
	return &TransitionResult{Questionnaire: out.qn, Log: out.log}, nil
}

// validate checks the transition arguments that do not depend on the store
// state.
func (s *Service) validate(ctx context.Context, in TransitionInput) error {
	if in.Kind != KindAssign && in.Kind != KindUnassign {
		return nil
	}
	fields := map[string]string{}
	if in.Member == "" {
		fields["user"] = "is required"
	}
	if !assignableRoles[in.Role] {
		fields["role"] = fmt.Sprintf("%q cannot be assigned", in.Role)
	}
	if len(fields) > 0 {
		return apperror.NewValidationFailed(fields)
	}
	if in.Kind == KindAssign {
		if _, err := s.Users.GetUser(ctx, in.Member); err != nil {
			return err
		}
	}
	return nil
}

// changeStatus moves the version to the next status of a submit, review,
// publish or reject.
func (s *Service) changeStatus(ctx context.Context, tx *sql.Tx, in TransitionInput, qn *questionnaires.Questionnaire, now time.Time, out *outcome) error {
	to := next(in.Kind, qn.Status)

	switch in.Kind {
	case KindReview, KindReject:
		if err := s.attachReviewer(ctx, tx, qn.ID, in.UserID); err != nil {
			return err
		}
	case KindPublish:
		// The unique public code index admits one Public version per code,
		// so the previous one goes first.
		demoted, err := s.Repo.DemotePublic(ctx, tx, qn.Code, qn.ID)
		if err != nil {
			return err
		}
		out.removed = demoted
	}

	if err := s.Repo.UpdateStatus(ctx, tx, qn.ID, to, now); err != nil {
		return err
	}
	qn.Status = to
	qn.Updated = now

	l, err := s.Logs.Append(ctx, tx, &notifications.NewLog{
		Action:          notifications.ActionChangeStatus,
		CatalystID:      in.UserID,
		QuestionnaireID: qn.ID,
		Created:         now,
		Status: &notifications.StatusUpdate{
			Status:     to,
			IsRejected: in.Kind == KindReject,
			Message:    sanitize.Message(in.Message),
		},
	})
	if err != nil {
		return err
	}

	out.qn = qn
	out.log = l
	if in.Kind == KindPublish {
		out.put = []questionnaires.Questionnaire{*qn}
	}
	return nil
}

// attachReviewer makes a user without any role on the version its reviewer,
// so a global reviewer keeps seeing the questionnaire afterwards.
func (s *Service) attachReviewer(ctx context.Context, tx *sql.Tx, id int64, userID string) error {
	members, err := s.Repo.Members(ctx, tx, id)
	if err != nil {
		return err
	}
	if len(questionnaires.RolesOf(members, userID)) > 0 {
		return nil
	}
	_, err = s.Repo.AddMember(ctx, tx, id, userID, questionnaires.RoleReviewer)
	return err
}

func (s *Service) changeMember(ctx context.Context, tx *sql.Tx, in TransitionInput, qn *questionnaires.Questionnaire, now time.Time, out *outcome) error {
	action := notifications.ActionAddMember
	if in.Kind == KindAssign {
		added, err := s.Repo.AddMember(ctx, tx, qn.ID, in.Member, in.Role)
		if err != nil {
			return err
		}
		if !added {
			return apperror.NewConflict(fmt.Sprintf("the user already is %s of this questionnaire", in.Role))
		}
	} else {
		action = notifications.ActionRemoveMember
		removed, err := s.Repo.RemoveMember(ctx, tx, qn.ID, in.Member, in.Role)
		if err != nil {
			return err
		}
		if !removed {
			return apperror.NewNotFound(fmt.Sprintf("the user is not %s of this questionnaire", in.Role))
		}
	}

	l, err := s.Logs.Append(ctx, tx, &notifications.NewLog{
		Action:          action,
		CatalystID:      in.UserID,
		QuestionnaireID: qn.ID,
		Created:         now,
		Member:          &notifications.MemberUpdate{AffectedID: in.Member, Role: in.Role},
	})
	if err != nil {
		return err
	}
	out.qn = qn
	out.log = l
	out.notify = []string{in.Member}
	return nil
}

// changeFlag creates a Reviewed version of a Public questionnaire with the
// flag set or cleared. The version goes through publishing again.
func (s *Service) changeFlag(ctx context.Context, tx *sql.Tx, in TransitionInput, qn *questionnaires.Questionnaire, now time.Time, out *outcome) error {
	flags, err := s.Repo.Flags(ctx, tx, qn.ID)
	if err != nil {
		return err
	}
	nv, err := s.nextVersion(ctx, tx, qn, questionnaires.StatusReviewed, qn.Data, now)
	if err != nil {
		return err
	}
	for _, f := range flags {
		if f == questionnaires.FlagUNCCD {
			continue
		}
		if err := s.Repo.SetFlag(ctx, tx, nv.ID, f); err != nil {
			return err
		}
	}

	message := fmt.Sprintf("unflagged as %s", questionnaires.FlagUNCCD)
	if in.Kind == KindFlag {
		message = fmt.Sprintf("flagged as %s", questionnaires.FlagUNCCD)
		if err := s.Repo.SetFlag(ctx, tx, nv.ID, questionnaires.FlagUNCCD); err != nil {
			return err
		}
		if _, err := s.Repo.AddMember(ctx, tx, nv.ID, in.UserID, questionnaires.RoleFlagger); err != nil {
			return err
		}
	}
	if note := sanitize.Message(in.Message); note != "" {
		message += ": " + note
	}

	l, err := s.Logs.Append(ctx, tx, &notifications.NewLog{
		Action:          notifications.ActionChangeStatus,
		CatalystID:      in.UserID,
		QuestionnaireID: nv.ID,
		Created:         now,
		Status:          &notifications.StatusUpdate{Status: nv.Status, Message: message},
	})
	if err != nil {
		return err
	}
	out.qn = nv
	out.log = l
	return nil
}

// deleteCode tombstones every version of the code, provided nobody else is
// editing it.
func (s *Service) deleteCode(ctx context.Context, tx *sql.Tx, in TransitionInput, qn *questionnaires.Questionnaire, now time.Time, out *outcome) error {
	if err := s.Locks.RequireFreeTx(ctx, tx, qn.Code, in.UserID); err != nil {
		return err
	}
	// The log is appended first so its subscribers are taken from the
	// memberships before they disappear from view.
	l, err := s.Logs.Append(ctx, tx, &notifications.NewLog{
		Action:          notifications.ActionDelete,
		CatalystID:      in.UserID,
		QuestionnaireID: qn.ID,
		Created:         now,
		Status:          &notifications.StatusUpdate{Status: qn.Status},
	})
	if err != nil {
		return err
	}
	if _, err := s.Repo.MarkCodeDeleted(ctx, tx, qn.Code); err != nil {
		return err
	}
	qn.IsDeleted = true
	out.qn = qn
	out.log = l
	return nil
}

// afterCommit runs the side effects of a committed transition. None of them
// can undo it, so failures are only logged.
func (s *Service) afterCommit(ctx context.Context, userID string, out *outcome) {
	if err := s.Locks.Release(ctx, userID, out.qn.Code); err != nil {
		slog.Warn("releasing lock after transition",
			slog.String("code", out.qn.Code),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
	s.Unread.InvalidateUnread(ctx, append(out.notify, s.grantedViewers(ctx, out.log)...)...)

	if len(out.put) > 0 {
		docs := documents(out.put)
		linked, err := s.linked(ctx, out.put[0].ID)
		if err != nil {
			slog.Warn("loading linked questionnaires", slog.Int64("questionnaire_id", out.put[0].ID), slog.Any("error", err))
		}
		docs = append(docs, documents(linked)...)
		if err := s.index.Put(ctx, docs); err != nil {
			slog.Error("indexing questionnaires", slog.Int("documents", len(docs)), slog.Any("error", err))
		}
	}
	if len(out.removed) > 0 {
		if err := s.index.Delete(ctx, documents(out.removed)); err != nil {
			slog.Error("removing questionnaires from index", slog.Int("documents", len(out.removed)), slog.Any("error", err))
		}
	}
}

// grantedViewers returns the users who see a status change log through a
// global grant without being subscribed to it.
func (s *Service) grantedViewers(ctx context.Context, l *notifications.Log) []string {
	if s.Audience == nil || l == nil || l.Action != notifications.ActionChangeStatus || l.Status == nil {
		return nil
	}
	ids, err := s.Audience.GrantedUsers(ctx, l.Status.Status)
	if err != nil {
		slog.Warn("listing granted users for unread invalidation",
			slog.Int64("log_id", l.ID),
			slog.Any("error", err),
		)
		return nil
	}
	return ids
}

// linked returns the Public questionnaires linked to id.
func (s *Service) linked(ctx context.Context, id int64) ([]questionnaires.Questionnaire, error) {
	ids, err := s.Repo.LinkedIDs(ctx, id)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	found, err := s.Repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	public := found[:0]
	for _, q := range found {
		if q.Status == questionnaires.StatusPublic {
			public = append(public, q)
		}
	}
	return public, nil
}

func documents(qs []questionnaires.Questionnaire) []search.Document {
	docs := make([]search.Document, len(qs))
	for i, q := range qs {
		docs[i] = search.Document{
			ID:                q.ID,
			Code:              q.Code,
			Version:           q.Version,
			ConfigurationCode: q.ConfigurationCode,
			Updated:           q.Updated,
			Data:              q.Data,
		}
	}
	return docs
}
