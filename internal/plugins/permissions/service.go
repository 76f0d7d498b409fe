package permissions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/content"
	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// UserDirectory returns a user with groups and scopes. auth.AuthService
// satisfies it.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*auth.User, error)
}

// LockChecker reports whether someone other than userID holds an active
// lock on code. The locks plugin satisfies it.
type LockChecker interface {
	LockedByOther(ctx context.Context, code, userID string) (bool, error)
}

// Service gathers the facts Resolve needs from the store.
type Service struct {
	users  UserDirectory
	repo   questionnaires.QuestionnaireRepository
	locks  LockChecker
	db     database.Querier
	grants *Grants
}

// NewService creates a permission service.
func NewService(users UserDirectory, repo questionnaires.QuestionnaireRepository, locks LockChecker, db database.Querier, grants *Grants) *Service {
	if grants == nil {
		grants = &Grants{Groups: map[string]Grant{}}
	}
	return &Service{users: users, repo: repo, locks: locks, db: db, grants: grants}
}

// Grants returns the configured group grants.
func (s *Service) Grants() *Grants {
	return s.grants
}

// Facts loads the resolver facts of a user.
func (s *Service) Facts(ctx context.Context, userID string) (Facts, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return Facts{}, err
	}
	return s.grants.Facts(user), nil
}

// For resolves the permissions of userID on qn.
func (s *Service) For(ctx context.Context, userID string, qn *questionnaires.Questionnaire) (Set, error) {
	facts, err := s.Facts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.ForFacts(ctx, facts, qn)
}

// ForFacts resolves permissions for already loaded user facts.
func (s *Service) ForFacts(ctx context.Context, facts Facts, qn *questionnaires.Questionnaire) (Set, error) {
	members, err := s.repo.Members(ctx, s.db, qn.ID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("loading members: %w", err))
	}
	flags, err := s.repo.Flags(ctx, s.db, qn.ID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("loading flags: %w", err))
	}
	locked, err := s.locks.LockedByOther(ctx, qn.Code, facts.UserID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking lock: %w", err))
	}

	in := Input{
		User: facts,
		Questionnaire: Subject{
			Status:    qn.Status,
			Roles:     questionnaires.RolesOf(members, facts.UserID),
			Flags:     flags,
			IsDeleted: qn.IsDeleted,
		},
		LockedByOther: locked,
	}

	// Country and sibling state only matter for flagging a Public version.
	if qn.Status == questionnaires.StatusPublic {
		data, err := content.Decode(qn.Data)
		if err != nil {
			slog.Warn("undecodable questionnaire data",
				slog.Int64("questionnaire_id", qn.ID),
				slog.Any("error", err),
			)
		} else {
			in.Questionnaire.Country = content.Country(data)
		}
		if in.HasPendingSibling, err = s.repo.HasPendingVersion(ctx, s.db, qn.Code, qn.ID); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("checking pending versions: %w", err))
		}
	}

	return Resolve(in), nil
}

// Require returns apperror Forbidden unless userID holds p on qn.
func (s *Service) Require(ctx context.Context, userID string, qn *questionnaires.Questionnaire, p Permission) error {
	set, err := s.For(ctx, userID, qn)
	if err != nil {
		return err
	}
	if !set.Has(p) {
		return apperror.NewForbidden(fmt.Sprintf("you are not allowed to %s this questionnaire", p))
	}
	return nil
}
