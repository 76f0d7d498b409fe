package mailprefs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/i18n"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
)

// UserDirectory resolves users. auth.AuthService satisfies it.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*auth.User, error)
}

// PreferencesService manages mail preferences and their signed links.
type PreferencesService interface {
	// Get returns the user's preferences, creating defaults on first use.
	// language seeds the default language of a new row.
	Get(ctx context.Context, userID, language string) (*Preferences, error)

	// ForUsers returns preferences for every given user, creating missing
	// rows with defaults.
	ForUsers(ctx context.Context, userIDs []string) (map[string]Preferences, error)

	Update(ctx context.Context, userID string, in UpdateInput) (*Preferences, error)

	// Token signs a link token for p; ResolveToken reverses it.
	Token(p *Preferences) (string, error)
	ResolveToken(ctx context.Context, token string) (*Preferences, error)

	// SettingsURL and UnsubscribeURL are the links printed in mails. Both
	// open the token form; the unsubscribe link preselects "none".
	SettingsURL(p *Preferences) (string, error)
	UnsubscribeURL(p *Preferences) (string, error)

	// SetDefaults creates default rows for all users without one.
	SetDefaults(ctx context.Context) (int64, error)
}

// preferencesService implements PreferencesService.
type preferencesService struct {
	repo    PreferencesRepository
	users   UserDirectory
	salt    []byte
	baseURL string
}

// NewPreferencesService creates a preferences service. salt signs the link
// tokens and baseURL prefixes the links.
func NewPreferencesService(repo PreferencesRepository, users UserDirectory, salt, baseURL string) PreferencesService {
	return &preferencesService{repo: repo, users: users, salt: []byte(salt), baseURL: baseURL}
}

func (s *preferencesService) Get(ctx context.Context, userID, language string) (*Preferences, error) {
	p, err := s.repo.FindByUser(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !apperror.Is(err, apperror.TypeNotFound) {
		return nil, database.StoreError(err)
	}

	if !i18n.IsSupported(language) {
		language = i18n.DefaultLanguage
	}
	if err := s.repo.EnsureDefaults(ctx, []string{userID}, language); err != nil {
		return nil, database.StoreError(err)
	}
	p, err = s.repo.FindByUser(ctx, userID)
	if err != nil {
		return nil, database.StoreError(err)
	}
	return p, nil
}

func (s *preferencesService) ForUsers(ctx context.Context, userIDs []string) (map[string]Preferences, error) {
	prefs, err := s.repo.FindByUsers(ctx, userIDs)
	if err != nil {
		return nil, database.StoreError(err)
	}

	var missing []string
	for _, id := range userIDs {
		if _, ok := prefs[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return prefs, nil
	}

	if err := s.repo.EnsureDefaults(ctx, missing, i18n.DefaultLanguage); err != nil {
		return nil, database.StoreError(err)
	}
	created, err := s.repo.FindByUsers(ctx, missing)
	if err != nil {
		return nil, database.StoreError(err)
	}
	for id, p := range created {
		prefs[id] = p
	}
	return prefs, nil
}

func (s *preferencesService) Update(ctx context.Context, userID string, in UpdateInput) (*Preferences, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, userID, i18n.DefaultLanguage)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if in.Subscription != nil {
		sub := *in.Subscription
		switch {
		case !sub.IsValid():
			fields["subscription"] = fmt.Sprintf("unknown subscription %q", sub)
		case sub == SubscriptionTodo && !user.IsStaff:
			fields["subscription"] = "choose either none or all"
		default:
			p.Subscription = sub
		}
	}
	// Non-staff users never see the action checkboxes.
	if in.WantedActions != nil && user.IsStaff {
		actions, err := validateActions(*in.WantedActions)
		if err != nil {
			fields["wanted_actions"] = err.Error()
		} else {
			p.WantedActions = actions
		}
	}
	if in.Language != nil {
		if !i18n.IsSupported(*in.Language) {
			fields["language"] = fmt.Sprintf("unsupported language %q", *in.Language)
		} else if *in.Language != p.Language {
			p.Language = *in.Language
			p.HasChangedLanguage = true
		}
	}
	if len(fields) > 0 {
		return nil, apperror.NewValidationFailed(fields)
	}

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, database.StoreError(err)
	}
	slog.Info("mail preferences updated",
		slog.String("user_id", userID),
		slog.String("subscription", string(p.Subscription)),
	)
	return p, nil
}

func (s *preferencesService) Token(p *Preferences) (string, error) {
	token, err := signToken(s.salt, p.ID)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("signing preferences token: %w", err))
	}
	return token, nil
}

func (s *preferencesService) ResolveToken(ctx context.Context, token string) (*Preferences, error) {
	id, err := parseToken(s.salt, token)
	if err != nil {
		return nil, apperror.NewNotFound("this link is no longer valid")
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.TypeNotFound) {
			return nil, apperror.NewNotFound("this link is no longer valid")
		}
		return nil, database.StoreError(err)
	}
	return p, nil
}

func (s *preferencesService) SettingsURL(p *Preferences) (string, error) {
	token, err := s.Token(p)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/notifications/preferences/" + token, nil
}

func (s *preferencesService) UnsubscribeURL(p *Preferences) (string, error) {
	link, err := s.SettingsURL(p)
	if err != nil {
		return "", err
	}
	return link + "?subscription=" + string(SubscriptionNone), nil
}

func (s *preferencesService) SetDefaults(ctx context.Context) (int64, error) {
	n, err := s.repo.CreateMissing(ctx)
	if err != nil {
		return 0, database.StoreError(err)
	}
	slog.Info("created default mail preferences", slog.Int64("count", n))
	return n, nil
}
