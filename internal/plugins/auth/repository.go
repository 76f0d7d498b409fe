package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/database"
)

// UserRepository defines the data access contract for user operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	// Create inserts the user together with its groups and scopes.
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindByIDs returns the users with the given ids without groups and
	// scopes. Unknown ids are skipped.
	FindByIDs(ctx context.Context, ids []string) ([]User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateLastLogin(ctx context.Context, id string) error

	// IDsInGroups returns the ids of users belonging to any of groups.
	IDsInGroups(ctx context.Context, groups []string) ([]string, error)
	SuperuserIDs(ctx context.Context) ([]string, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// Create inserts a new user row and its group/scope rows in one transaction.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, display_name, password_hash, is_staff, is_superuser, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.Email, user.DisplayName, user.PasswordHash,
			user.IsStaff, user.IsSuperuser, user.CreatedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return apperror.NewConflict("an account with this email already exists")
			}
			return fmt.Errorf("inserting user: %w", err)
		}
		for _, g := range user.Groups {
			if _, err := tx.ExecContext(ctx,
				`INSERT IGNORE INTO user_groups (user_id, group_name) VALUES (?, ?)`, user.ID, g,
			); err != nil {
				return fmt.Errorf("inserting user group: %w", err)
			}
		}
		for _, s := range user.Scopes {
			if _, err := tx.ExecContext(ctx,
				`INSERT IGNORE INTO user_scopes (user_id, scope) VALUES (?, ?)`, user.ID, s,
			); err != nil {
				return fmt.Errorf("inserting user scope: %w", err)
			}
		}
		return nil
	})
}

// FindByID retrieves a user by their UUID.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findOne(ctx, `WHERE id = ?`, id)
}

// FindByEmail retrieves a user by their (lowercased) email.
// Returns apperror.NotFound if no user exists with this email.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, `WHERE email = ?`, email)
}

func (r *userRepository) findOne(ctx context.Context, where string, arg any) (*User, error) {
	query := `SELECT id, email, display_name, password_hash, is_staff, is_superuser,
	                 created_at, last_login_at
	          FROM users ` + where

	user := &User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash,
		&user.IsStaff, &user.IsSuperuser, &user.CreatedAt, &user.LastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if user.Groups, err = r.strings(ctx, `SELECT group_name FROM user_groups WHERE user_id = ? ORDER BY group_name`, user.ID); err != nil {
		return nil, fmt.Errorf("loading groups: %w", err)
	}
	if user.Scopes, err = r.strings(ctx, `SELECT scope FROM user_scopes WHERE user_id = ? ORDER BY scope`, user.ID); err != nil {
		return nil, fmt.Errorf("loading scopes: %w", err)
	}
	return user, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT id, email, display_name, is_staff, is_superuser, created_at
		 FROM users WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.IsStaff, &u.IsSuperuser, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// EmailExists returns true if a user with this email already exists.
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}
	return exists, nil
}

// UpdateLastLogin sets the last_login_at timestamp to now.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = UTC_TIMESTAMP(6) WHERE id = ?`, id,
	); err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

func (r *userRepository) IDsInGroups(ctx context.Context, groups []string) ([]string, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT DISTINCT user_id FROM user_groups WHERE group_name IN (?) ORDER BY user_id`, groups)
	if err != nil {
		return nil, fmt.Errorf("building group query: %w", err)
	}
	return r.strings(ctx, query, args...)
}

func (r *userRepository) SuperuserIDs(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `SELECT id FROM users WHERE is_superuser = TRUE ORDER BY id`)
}

func (r *userRepository) ListIDs(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `SELECT id FROM users ORDER BY id`)
}

func (r *userRepository) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
