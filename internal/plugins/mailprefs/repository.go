package mailprefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/i18n"
	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
)

// PreferencesRepository defines the data access contract for mail
// preferences. There is at most one row per user.
type PreferencesRepository interface {
	FindByUser(ctx context.Context, userID string) (*Preferences, error)
	FindByID(ctx context.Context, id int64) (*Preferences, error)
	FindByUsers(ctx context.Context, userIDs []string) (map[string]Preferences, error)

	// EnsureDefaults creates default rows for the given users unless they
	// have one. Existing rows are left untouched.
	EnsureDefaults(ctx context.Context, userIDs []string, language string) error

	// CreateMissing creates default rows for every user without one.
	CreateMissing(ctx context.Context) (int64, error)

	Update(ctx context.Context, p *Preferences) error
}

// preferencesRepository implements PreferencesRepository with MariaDB queries.
type preferencesRepository struct {
	db *sql.DB
}

// NewPreferencesRepository creates a repository backed by the pool.
func NewPreferencesRepository(db *sql.DB) PreferencesRepository {
	return &preferencesRepository{db: db}
}

const preferencesColumns = `id, user_id, subscription, wanted_actions, language, has_changed_language`

func (r *preferencesRepository) FindByUser(ctx context.Context, userID string) (*Preferences, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+preferencesColumns+` FROM mail_preferences WHERE user_id = ?`, userID)
	return scanPreferences(row)
}

func (r *preferencesRepository) FindByID(ctx context.Context, id int64) (*Preferences, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+preferencesColumns+` FROM mail_preferences WHERE id = ?`, id)
	return scanPreferences(row)
}

func (r *preferencesRepository) FindByUsers(ctx context.Context, userIDs []string) (map[string]Preferences, error) {
	out := make(map[string]Preferences, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+preferencesColumns+` FROM mail_preferences WHERE user_id IN (?)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("building preferences query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPreferences(rows)
		if err != nil {
			return nil, err
		}
		out[p.UserID] = *p
	}
	return out, rows.Err()
}

func (r *preferencesRepository) EnsureDefaults(ctx context.Context, userIDs []string, language string) error {
	if len(userIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`INSERT IGNORE INTO mail_preferences (user_id, subscription, wanted_actions, language, has_changed_language)
		 SELECT id, ?, ?, ?, FALSE FROM users WHERE id IN (?)`,
		SubscriptionAll, formatActions(notifications.MailableActions), language, userIDs,
	)
	if err != nil {
		return fmt.Errorf("building defaults query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("creating default preferences: %w", err)
	}
	return nil
}

func (r *preferencesRepository) CreateMissing(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO mail_preferences (user_id, subscription, wanted_actions, language, has_changed_language)
		 SELECT u.id, ?, ?, ?, FALSE
		 FROM users u
		 LEFT JOIN mail_preferences mp ON mp.user_id = u.id
		 WHERE mp.id IS NULL`,
		SubscriptionAll, formatActions(notifications.MailableActions), i18n.DefaultLanguage,
	)
	if err != nil {
		return 0, fmt.Errorf("creating missing preferences: %w", err)
	}
	return res.RowsAffected()
}

func (r *preferencesRepository) Update(ctx context.Context, p *Preferences) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE mail_preferences
		 SET subscription = ?, wanted_actions = ?, language = ?, has_changed_language = ?
		 WHERE id = ?`,
		p.Subscription, formatActions(p.WantedActions), p.Language, p.HasChangedLanguage, p.ID,
	); err != nil {
		return fmt.Errorf("updating preferences %d: %w", p.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreferences(row rowScanner) (*Preferences, error) {
	var p Preferences
	var actions string
	err := row.Scan(&p.ID, &p.UserID, &p.Subscription, &actions, &p.Language, &p.HasChangedLanguage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("mail preferences not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning preferences: %w", err)
	}
	p.WantedActions = parseActions(actions)
	return &p, nil
}
