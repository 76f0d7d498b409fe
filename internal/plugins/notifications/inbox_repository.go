package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/permissions"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// InboxRepository answers the per-user projections over the log store. Each
// projection is a single statement; IN lists are expanded with sqlx.In.
type InboxRepository interface {
	// List returns one page of the visible (or todo) list and its total.
	List(ctx context.Context, v Viewer, f Filter) ([]InboxItem, int, error)

	// TodoIDs returns which of ids are on the viewer's pending list.
	TodoIDs(ctx context.Context, v Viewer, ids []int64) (map[int64]bool, error)

	// Pending returns the whole pending list, newest first.
	Pending(ctx context.Context, v Viewer) ([]InboxItem, error)
	IsPending(ctx context.Context, v Viewer, logID int64) (bool, error)

	CountUnread(ctx context.Context, v Viewer) (int, error)

	// Accessible reports whether the viewer may see or act on a log.
	Accessible(ctx context.Context, v Viewer, logID int64) (bool, error)

	SetRead(ctx context.Context, userID string, logID int64, read bool) error
	SetDeleted(ctx context.Context, userID string, logID int64) error

	// MarkAllRead swaps the viewer's read marks for fresh read marks on the
	// current visible list in one transaction.
	MarkAllRead(ctx context.Context, v Viewer) (int64, error)
}

// inboxRepository implements InboxRepository with MariaDB queries.
type inboxRepository struct {
	db  *sql.DB
	txs database.Transactor
}

// NewInboxRepository creates an inbox repository backed by the pool.
func NewInboxRepository(db *sql.DB) InboxRepository {
	return &inboxRepository{db: db, txs: database.NewTransactor(db)}
}

// editorRoles may see content edit logs.
var editorRoles = []questionnaires.Role{questionnaires.RoleCompiler, questionnaires.RoleEditor}

// actingStatuses are the statuses membership roles can act on.
var actingStatuses = []questionnaires.Status{
	questionnaires.StatusDraft,
	questionnaires.StatusSubmitted,
	questionnaires.StatusReviewed,
}

// projection is the FROM ... WHERE part of an inbox statement and its
// arguments, before IN expansion.
type projection struct {
	sql  string
	args []any
}

// visibleSource is the union of logs the viewer caused, was subscribed to
// or may act on through group grants. UNION removes duplicates.
func visibleSource(v Viewer) projection {
	branches := []string{
		`SELECT id FROM notification_logs WHERE catalyst_id = ?`,
		`SELECT log_id FROM notification_log_subscribers WHERE user_id = ?`,
	}
	args := []any{v.UserID, v.UserID}
	if len(v.Statuses) > 0 {
		branches = append(branches,
			`SELECT gsu.log_id FROM status_updates gsu
			 JOIN notification_logs gl ON gl.id = gsu.log_id
			 WHERE gl.action = ? AND gsu.status IN (?)`)
		args = append(args, ActionChangeStatus, v.Statuses)
	}
	return projection{sql: "(" + strings.Join(branches, " UNION ") + ")", args: args}
}

// visibleProjection selects the visible list. Content edits are only shown
// to compilers and editors; logs the viewer deleted are hidden.
func visibleProjection(v Viewer, f Filter) projection {
	src := visibleSource(v)
	p := projection{
		sql: `FROM ` + src.sql + ` v
		JOIN notification_logs l ON l.id = v.id
		` + logJoins + `
		LEFT JOIN read_logs r ON r.log_id = l.id AND r.user_id = ?
		WHERE COALESCE(r.is_deleted, FALSE) = FALSE
		  AND (l.action <> ? OR EXISTS (
		      SELECT 1 FROM questionnaire_memberships em
		      WHERE em.questionnaire_id = l.questionnaire_id AND em.user_id = ? AND em.role IN (?)))`,
		args: append(src.args, v.UserID, ActionEditContent, v.UserID, editorRoles),
	}
	return p.narrow(f)
}

// pendingProjection selects status change logs the viewer is expected to
// act on: the status is still current, the viewer may act on it and no
// newer log of the same questionnaire and status exists.
func pendingProjection(v Viewer, f Filter, requireUnread bool) projection {
	var acting []string
	var actingArgs []any
	for _, st := range actingStatuses {
		acting = append(acting, `(su.status = ? AND pm.role IN (?))`)
		actingArgs = append(actingArgs, st, permissions.ActingRoles(st))
	}

	mayAct := `EXISTS (
		SELECT 1 FROM questionnaire_memberships pm
		WHERE pm.questionnaire_id = l.questionnaire_id AND pm.user_id = ?
		  AND (` + strings.Join(acting, " OR ") + `))`
	args := []any{v.UserID, ActionChangeStatus, v.UserID}
	args = append(args, actingArgs...)
	if len(v.Statuses) > 0 {
		mayAct = `(su.status IN (?) OR ` + mayAct + `)`
		args = append([]any{v.UserID, ActionChangeStatus, v.Statuses, v.UserID}, actingArgs...)
	}

	stmt := `FROM notification_logs l
		` + logJoins + `
		LEFT JOIN read_logs r ON r.log_id = l.id AND r.user_id = ?
		WHERE COALESCE(r.is_deleted, FALSE) = FALSE
		  AND l.action = ?
		  AND qn.is_deleted = FALSE
		  AND su.status = qn.status
		  AND ` + mayAct + `
		  AND NOT EXISTS (
		      SELECT 1 FROM notification_logs nl
		      JOIN status_updates ns ON ns.log_id = nl.id
		      WHERE nl.questionnaire_id = l.questionnaire_id AND nl.action = l.action
		        AND ns.status = su.status
		        AND (nl.created > l.created OR (nl.created = l.created AND nl.id > l.id)))`
	if requireUnread {
		stmt += ` AND COALESCE(r.is_read, FALSE) = FALSE`
	}
	p := projection{sql: stmt, args: args}
	f.IncludeRead = true
	return p.narrow(f)
}

// narrow applies the filter's questionnaire and read restrictions.
func (p projection) narrow(f Filter) projection {
	if f.Questionnaire != "" {
		p.sql += ` AND qn.code = ?`
		p.args = append(p.args, f.Questionnaire)
	}
	if !f.IncludeRead {
		p.sql += ` AND COALESCE(r.is_read, FALSE) = FALSE`
	}
	return p
}

// with appends a condition to the projection.
func (p projection) with(cond string, args ...any) projection {
	p.sql += ` AND ` + cond
	p.args = append(append([]any{}, p.args...), args...)
	return p
}

func (r *inboxRepository) List(ctx context.Context, v Viewer, f Filter) ([]InboxItem, int, error) {
	f = f.normalize()
	p := visibleProjection(v, f)
	if f.OnlyTodo {
		p = pendingProjection(v, f, true)
	}

	total, err := r.count(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []InboxItem{}, 0, nil
	}

	items, err := r.selectItems(ctx, p, f.PerPage, (f.Page-1)*f.PerPage)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *inboxRepository) TodoIDs(ctx context.Context, v Viewer, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	p := pendingProjection(v, Filter{}, true).with(`l.id IN (?)`, ids)
	query, args, err := inArgs(`SELECT l.id `+p.sql, p.args...)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting todo ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning todo id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (r *inboxRepository) Pending(ctx context.Context, v Viewer) ([]InboxItem, error) {
	items, err := r.selectItems(ctx, pendingProjection(v, Filter{}, true), 0, 0)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].IsTodo = true
	}
	return items, nil
}

func (r *inboxRepository) IsPending(ctx context.Context, v Viewer, logID int64) (bool, error) {
	return r.exists(ctx, pendingProjection(v, Filter{}, true).with(`l.id = ?`, logID))
}

func (r *inboxRepository) CountUnread(ctx context.Context, v Viewer) (int, error) {
	return r.count(ctx, visibleProjection(v, Filter{}))
}

func (r *inboxRepository) Accessible(ctx context.Context, v Viewer, logID int64) (bool, error) {
	ok, err := r.exists(ctx, visibleProjection(v, Filter{IncludeRead: true}).with(`l.id = ?`, logID))
	if err != nil || ok {
		return ok, err
	}
	return r.exists(ctx, pendingProjection(v, Filter{}, false).with(`l.id = ?`, logID))
}

func (r *inboxRepository) SetRead(ctx context.Context, userID string, logID int64, read bool) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO read_logs (log_id, user_id, is_read, is_deleted) VALUES (?, ?, ?, FALSE)
		 ON DUPLICATE KEY UPDATE is_read = VALUES(is_read)`,
		logID, userID, read,
	); err != nil {
		return fmt.Errorf("marking log %d read=%v: %w", logID, read, err)
	}
	return nil
}

func (r *inboxRepository) SetDeleted(ctx context.Context, userID string, logID int64) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO read_logs (log_id, user_id, is_read, is_deleted) VALUES (?, ?, FALSE, TRUE)
		 ON DUPLICATE KEY UPDATE is_deleted = TRUE`,
		logID, userID,
	); err != nil {
		return fmt.Errorf("marking log %d deleted: %w", logID, err)
	}
	return nil
}

func (r *inboxRepository) MarkAllRead(ctx context.Context, v Viewer) (int64, error) {
	p := visibleProjection(v, Filter{IncludeRead: true})
	query, args, err := inArgs(
		`INSERT IGNORE INTO read_logs (log_id, user_id, is_read, is_deleted)
		 SELECT l.id, ?, TRUE, FALSE `+p.sql,
		append([]any{v.UserID}, p.args...)...,
	)
	if err != nil {
		return 0, err
	}

	var inserted int64
	err = r.txs.WithTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM read_logs WHERE user_id = ? AND is_deleted = FALSE`, v.UserID,
		); err != nil {
			return fmt.Errorf("clearing read marks: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("inserting read marks: %w", err)
		}
		inserted, err = res.RowsAffected()
		return err
	})
	return inserted, err
}

// selectItems runs a projection ordered newest first. limit 0 means all.
func (r *inboxRepository) selectItems(ctx context.Context, p projection, limit, offset int) ([]InboxItem, error) {
	stmt := `SELECT ` + logColumns + `, COALESCE(r.is_read, FALSE) ` + p.sql +
		` ORDER BY l.created DESC, l.id DESC`
	args := p.args
	if limit > 0 {
		stmt += ` LIMIT ? OFFSET ?`
		args = append(append([]any{}, args...), limit, offset)
	}
	query, args, err := inArgs(stmt, args...)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing inbox: %w", err)
	}
	defer rows.Close()

	items := []InboxItem{}
	for rows.Next() {
		var item InboxItem
		l, err := scanLog(rows, &item.IsRead)
		if err != nil {
			return nil, err
		}
		item.Log = l
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *inboxRepository) count(ctx context.Context, p projection) (int, error) {
	query, args, err := inArgs(`SELECT COUNT(*) `+p.sql, p.args...)
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting inbox: %w", err)
	}
	return n, nil
}

func (r *inboxRepository) exists(ctx context.Context, p projection) (bool, error) {
	query, args, err := inArgs(`SELECT EXISTS (SELECT 1 `+p.sql+`)`, p.args...)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking inbox access: %w", err)
	}
	return ok, nil
}
