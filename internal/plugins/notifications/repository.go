package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// LogRepository is the append-only log store. Append runs on the caller's
// transaction so a log commits together with the change it records.
type LogRepository interface {
	// Append writes the header, the frozen subscriber set and the payload.
	Append(ctx context.Context, q database.Querier, entry *NewLog) (*Log, error)

	Get(ctx context.Context, q database.Querier, id int64) (*Log, error)
	Subscribers(ctx context.Context, q database.Querier, id int64) ([]string, error)

	// ListUnprocessed returns up to limit logs not yet handled by the
	// dispatcher, oldest first.
	ListUnprocessed(ctx context.Context, limit int) ([]Log, error)

	// LockForDispatch takes the log's row lock without waiting and returns
	// its processed flag. A held lock yields an error for which
	// database.IsLockConflict is true.
	LockForDispatch(ctx context.Context, tx *sql.Tx, id int64) (bool, error)
	MarkProcessed(ctx context.Context, tx *sql.Tx, id int64) error

	// ListByQuestionnaire returns every log of every version of code,
	// newest first.
	ListByQuestionnaire(ctx context.Context, code string) ([]Log, error)
}

// logRepository implements LogRepository with MariaDB queries.
type logRepository struct {
	db *sql.DB
}

// NewLogRepository creates a log repository backed by the pool.
func NewLogRepository(db *sql.DB) LogRepository {
	return &logRepository{db: db}
}

// logColumns and logJoins read a log with its payload and questionnaire
// context. Exactly one of the payload joins matches.
const logColumns = `l.id, l.created, l.action, l.catalyst_id, COALESCE(cu.display_name, ''),
	l.questionnaire_id, qn.code, qn.status, l.was_processed,
	su.log_id IS NOT NULL, su.status, COALESCE(su.is_rejected, FALSE), COALESCE(su.message, ''),
	mu.log_id IS NOT NULL, COALESCE(mu.affected_id, ''), COALESCE(au.display_name, ''), COALESCE(mu.role, ''),
	iu.log_id IS NOT NULL, COALESCE(iu.info, '')`

const logJoins = `JOIN questionnaires qn ON qn.id = l.questionnaire_id
	LEFT JOIN users cu ON cu.id = l.catalyst_id
	LEFT JOIN status_updates su ON su.log_id = l.id
	LEFT JOIN member_updates mu ON mu.log_id = l.id
	LEFT JOIN users au ON au.id = mu.affected_id
	LEFT JOIN information_updates iu ON iu.log_id = l.id`

const logSelect = `SELECT ` + logColumns + ` FROM notification_logs l ` + logJoins

func (r *logRepository) Append(ctx context.Context, q database.Querier, entry *NewLog) (*Log, error) {
	if err := entry.validate(); err != nil {
		return nil, apperror.NewInternal(err)
	}
	created := entry.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO notification_logs (created, action, catalyst_id, questionnaire_id, was_processed)
		 VALUES (?, ?, ?, ?, FALSE)`,
		created, entry.Action, entry.CatalystID, entry.QuestionnaireID,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting log id: %w", err)
	}

	if err := r.insertSubscribers(ctx, q, id, entry); err != nil {
		return nil, err
	}
	if err := r.insertPayload(ctx, q, id, entry); err != nil {
		return nil, err
	}

	return &Log{
		ID:              id,
		Created:         created,
		Action:          entry.Action,
		CatalystID:      entry.CatalystID,
		QuestionnaireID: entry.QuestionnaireID,
		Status:          entry.Status,
		Member:          entry.Member,
		Information:     entry.Information,
	}, nil
}

// insertSubscribers freezes who is told about the log. Without explicit
// receivers they are the questionnaire's members at this instant.
func (r *logRepository) insertSubscribers(ctx context.Context, q database.Querier, id int64, entry *NewLog) error {
	if entry.NoSubscribers {
		return nil
	}

	if entry.Receivers == nil {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO notification_log_subscribers (log_id, user_id)
			 SELECT DISTINCT ?, user_id FROM questionnaire_memberships
			 WHERE questionnaire_id = ? AND user_id <> ?`,
			id, entry.QuestionnaireID, entry.CatalystID,
		); err != nil {
			return fmt.Errorf("capturing subscribers: %w", err)
		}
		return nil
	}

	seen := make(map[string]bool, len(entry.Receivers))
	var values []string
	var args []any
	for _, userID := range entry.Receivers {
		if userID == "" || userID == entry.CatalystID || seen[userID] {
			continue
		}
		seen[userID] = true
		values = append(values, "(?, ?)")
		args = append(args, id, userID)
	}
	if len(values) == 0 {
		return nil
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO notification_log_subscribers (log_id, user_id) VALUES `+strings.Join(values, ", "),
		args...,
	); err != nil {
		return fmt.Errorf("inserting receivers: %w", err)
	}
	return nil
}

func (r *logRepository) insertPayload(ctx context.Context, q database.Querier, id int64, entry *NewLog) error {
	var err error
	switch entry.Action.PayloadKind() {
	case PayloadStatus:
		var status any
		if entry.Status.Status != 0 {
			status = entry.Status.Status
		}
		_, err = q.ExecContext(ctx,
			`INSERT INTO status_updates (log_id, status, is_rejected, message) VALUES (?, ?, ?, ?)`,
			id, status, entry.Status.IsRejected, entry.Status.Message,
		)
	case PayloadMember:
		_, err = q.ExecContext(ctx,
			`INSERT INTO member_updates (log_id, affected_id, role) VALUES (?, ?, ?)`,
			id, entry.Member.AffectedID, entry.Member.Role,
		)
	case PayloadContent:
		_, err = q.ExecContext(ctx, `INSERT INTO content_updates (log_id) VALUES (?)`, id)
	case PayloadInformation:
		_, err = q.ExecContext(ctx,
			`INSERT INTO information_updates (log_id, info) VALUES (?, ?)`,
			id, entry.Information.Info,
		)
	}
	if err != nil {
		return fmt.Errorf("inserting %s payload: %w", entry.Action.PayloadKind(), err)
	}
	return nil
}

func (r *logRepository) Get(ctx context.Context, q database.Querier, id int64) (*Log, error) {
	rows, err := q.QueryContext(ctx, logSelect+` WHERE l.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("loading log %d: %w", id, err)
	}
	logs, err := scanLogs(rows)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, apperror.NewNotFound("notification not found")
	}
	return &logs[0], nil
}

func (r *logRepository) Subscribers(ctx context.Context, q database.Querier, id int64) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM notification_log_subscribers WHERE log_id = ? ORDER BY user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("listing subscribers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

func (r *logRepository) ListUnprocessed(ctx context.Context, limit int) ([]Log, error) {
	rows, err := r.db.QueryContext(ctx,
		logSelect+` WHERE l.was_processed = FALSE ORDER BY l.created, l.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unprocessed logs: %w", err)
	}
	return scanLogs(rows)
}

func (r *logRepository) LockForDispatch(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var processed bool
	err := tx.QueryRowContext(ctx,
		`SELECT was_processed FROM notification_logs WHERE id = ? FOR UPDATE NOWAIT`, id,
	).Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperror.NewNotFound("notification not found")
	}
	if err != nil {
		return false, fmt.Errorf("locking log %d: %w", id, err)
	}
	return processed, nil
}

func (r *logRepository) MarkProcessed(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE notification_logs SET was_processed = TRUE WHERE id = ?`, id); err != nil {
		return fmt.Errorf("marking log %d processed: %w", id, err)
	}
	return nil
}

func (r *logRepository) ListByQuestionnaire(ctx context.Context, code string) ([]Log, error) {
	rows, err := r.db.QueryContext(ctx,
		logSelect+` WHERE qn.code = ? ORDER BY l.created DESC, l.id DESC`, code)
	if err != nil {
		return nil, fmt.Errorf("listing logs of %s: %w", code, err)
	}
	return scanLogs(rows)
}

// logScanner matches *sql.Rows so inbox queries can append their own columns.
type logScanner interface {
	Scan(dest ...any) error
}

// scanLog reads the logSelect columns followed by extra destinations.
func scanLog(s logScanner, extra ...any) (Log, error) {
	var (
		l                               Log
		hasStatus, hasMember, hasInfo   bool
		status                          sql.NullInt64
		isRejected                      bool
		message, affectedID, affectedNm string
		role, info                      string
	)
	dest := []any{
		&l.ID, &l.Created, &l.Action, &l.CatalystID, &l.CatalystName,
		&l.QuestionnaireID, &l.QuestionnaireCode, &l.QuestionnaireStatus, &l.WasProcessed,
		&hasStatus, &status, &isRejected, &message,
		&hasMember, &affectedID, &affectedNm, &role,
		&hasInfo, &info,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return Log{}, fmt.Errorf("scanning log: %w", err)
	}

	if hasStatus {
		l.Status = &StatusUpdate{IsRejected: isRejected, Message: message}
		if status.Valid {
			l.Status.Status = questionnaires.Status(status.Int64)
		}
	}
	if hasMember {
		l.Member = &MemberUpdate{AffectedID: affectedID, AffectedName: affectedNm, Role: questionnaires.Role(role)}
	}
	if hasInfo {
		l.Information = &InformationUpdate{Info: info}
	}
	return l, nil
}

func scanLogs(rows *sql.Rows) ([]Log, error) {
	defer rows.Close()
	var out []Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// inArgs expands a query with IN (?) placeholders.
func inArgs(query string, args ...any) (string, []any, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("expanding query: %w", err)
	}
	return q, a, nil
}
