package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keyxmakerx/qcat/internal/database"
)

// LockRepository defines the data access contract for lock rows. "Active"
// always means is_finished = false and start_ts after the given cutoff.
type LockRepository interface {
	// ActiveForUpdate returns the active locks of code and holds their row
	// locks (and the index gap) until tx ends, so two acquirers serialise.
	ActiveForUpdate(ctx context.Context, tx *sql.Tx, code string, since time.Time) ([]Lock, error)

	// Active returns the active locks of code with owner display names.
	Active(ctx context.Context, q database.Querier, code string, since time.Time) ([]Lock, error)

	Insert(ctx context.Context, q database.Querier, lock *Lock) error
	Refresh(ctx context.Context, q database.Querier, id int64, start time.Time) error

	// FinishForUser marks every lock row of (userID, code) finished.
	FinishForUser(ctx context.Context, q database.Querier, userID, code string) (int64, error)

	// FinishExpired marks every unfinished lock started at or before cutoff
	// finished.
	FinishExpired(ctx context.Context, q database.Querier, cutoff time.Time) (int64, error)

	// OwnerName returns the display name of a user, or "" if unknown.
	OwnerName(ctx context.Context, q database.Querier, userID string) (string, error)
}

// lockRepository implements LockRepository with MariaDB queries.
type lockRepository struct{}

// NewLockRepository creates a lock repository. Every method runs on the
// Querier it is handed.
func NewLockRepository() LockRepository {
	return &lockRepository{}
}

func (r *lockRepository) ActiveForUpdate(ctx context.Context, tx *sql.Tx, code string, since time.Time) ([]Lock, error) {
	// Owner names are read separately; joining users here would lock their rows.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, questionnaire_code, user_id, start_ts, is_finished
		 FROM locks
		 WHERE questionnaire_code = ? AND is_finished = FALSE AND start_ts > ?
		 ORDER BY start_ts DESC, id DESC
		 FOR UPDATE`,
		code, since,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting locks for update: %w", err)
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		var l Lock
		if err := rows.Scan(&l.ID, &l.Code, &l.UserID, &l.StartTS, &l.IsFinished); err != nil {
			return nil, fmt.Errorf("scanning lock: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *lockRepository) Active(ctx context.Context, q database.Querier, code string, since time.Time) ([]Lock, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT l.id, l.questionnaire_code, l.user_id, COALESCE(u.display_name, ''),
		        l.start_ts, l.is_finished
		 FROM locks l
		 LEFT JOIN users u ON u.id = l.user_id
		 WHERE l.questionnaire_code = ? AND l.is_finished = FALSE AND l.start_ts > ?
		 ORDER BY l.start_ts DESC, l.id DESC`,
		code, since,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active locks: %w", err)
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		var l Lock
		if err := rows.Scan(&l.ID, &l.Code, &l.UserID, &l.OwnerName, &l.StartTS, &l.IsFinished); err != nil {
			return nil, fmt.Errorf("scanning lock: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *lockRepository) Insert(ctx context.Context, q database.Querier, lock *Lock) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO locks (questionnaire_code, user_id, start_ts, is_finished)
		 VALUES (?, ?, ?, FALSE)`,
		lock.Code, lock.UserID, lock.StartTS,
	)
	if err != nil {
		return fmt.Errorf("inserting lock: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading lock id: %w", err)
	}
	lock.ID = id
	return nil
}

func (r *lockRepository) Refresh(ctx context.Context, q database.Querier, id int64, start time.Time) error {
	if _, err := q.ExecContext(ctx, `UPDATE locks SET start_ts = ? WHERE id = ?`, start, id); err != nil {
		return fmt.Errorf("refreshing lock %d: %w", id, err)
	}
	return nil
}

func (r *lockRepository) FinishForUser(ctx context.Context, q database.Querier, userID, code string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE locks SET is_finished = TRUE
		 WHERE user_id = ? AND questionnaire_code = ? AND is_finished = FALSE`,
		userID, code,
	)
	if err != nil {
		return 0, fmt.Errorf("finishing locks: %w", err)
	}
	return res.RowsAffected()
}

func (r *lockRepository) FinishExpired(ctx context.Context, q database.Querier, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE locks SET is_finished = TRUE WHERE is_finished = FALSE AND start_ts <= ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("expiring locks: %w", err)
	}
	return res.RowsAffected()
}

func (r *lockRepository) OwnerName(ctx context.Context, q database.Querier, userID string) (string, error) {
	var name string
	err := q.QueryRowContext(ctx, `SELECT display_name FROM users WHERE id = ?`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading lock owner: %w", err)
	}
	return name, nil
}
