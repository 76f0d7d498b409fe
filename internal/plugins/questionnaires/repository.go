package questionnaires

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/database"
)

// QuestionnaireRepository defines the data access contract for questionnaire
// versions and their memberships, flags and links. Methods that take a
// database.Querier run on the caller's transaction (or the pool); the others
// read from the pool. Deleted versions are invisible to every finder.
type QuestionnaireRepository interface {
	Create(ctx context.Context, q database.Querier, qn *Questionnaire) error
	SetCode(ctx context.Context, q database.Querier, id int64, code string) error
	UpdateData(ctx context.Context, q database.Querier, id int64, data json.RawMessage, updated time.Time) error
	UpdateStatus(ctx context.Context, q database.Querier, id int64, status Status, updated time.Time) error

	// DemotePublic sets every Public version of code other than exceptID to
	// Inactive and returns the demoted versions.
	DemotePublic(ctx context.Context, tx *sql.Tx, code string, exceptID int64) ([]Questionnaire, error)

	// MarkCodeDeleted tombstones every version of code.
	MarkCodeDeleted(ctx context.Context, q database.Querier, code string) (int64, error)

	FindByID(ctx context.Context, id int64) (*Questionnaire, error)
	FindByIDs(ctx context.Context, ids []int64) ([]Questionnaire, error)

	// FindForUpdate re-reads a version holding its row lock until tx ends.
	FindForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*Questionnaire, error)

	// FindLatestByCode returns the highest visible version of a code.
	FindLatestByCode(ctx context.Context, code string) (*Questionnaire, error)
	ListVersions(ctx context.Context, code string) ([]Questionnaire, error)

	// HasPendingVersion reports whether code has a Draft, Submitted, Reviewed
	// or Rejected version other than excludeID.
	HasPendingVersion(ctx context.Context, q database.Querier, code string, excludeID int64) (bool, error)
	MaxVersion(ctx context.Context, q database.Querier, code string) (int, error)

	Members(ctx context.Context, q database.Querier, id int64) ([]Membership, error)
	MembersWithRoles(ctx context.Context, id int64, roles []Role) ([]Membership, error)
	AddMember(ctx context.Context, q database.Querier, id int64, userID string, role Role) (bool, error)
	RemoveMember(ctx context.Context, q database.Querier, id int64, userID string, role Role) (bool, error)
	CopyMembers(ctx context.Context, q database.Querier, fromID, toID int64, roles []Role) error

	Flags(ctx context.Context, q database.Querier, id int64) ([]Flag, error)
	SetFlag(ctx context.Context, q database.Querier, id int64, flag Flag) error
	ClearFlag(ctx context.Context, q database.Querier, id int64, flag Flag) error

	// LinkedIDs returns the ids of the visible questionnaires linked to id
	// in either direction.
	LinkedIDs(ctx context.Context, id int64) ([]int64, error)
}

// questionnaireRepository implements QuestionnaireRepository with MariaDB queries.
type questionnaireRepository struct {
	db *sql.DB
}

// NewQuestionnaireRepository creates a new repository backed by the given DB pool.
func NewQuestionnaireRepository(db *sql.DB) QuestionnaireRepository {
	return &questionnaireRepository{db: db}
}

const questionnaireColumns = `id, code, version, status, uuid, data, configuration_code,
	original_locale, translations, created, updated, is_deleted`

// Create inserts a version and sets qn.ID. Code may be empty; the caller sets
// it with SetCode once the id is known.
func (r *questionnaireRepository) Create(ctx context.Context, q database.Querier, qn *Questionnaire) error {
	translations, err := json.Marshal(orEmpty(qn.Translations))
	if err != nil {
		return fmt.Errorf("marshaling translations: %w", err)
	}
	data := qn.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO questionnaires (code, version, status, uuid, data, configuration_code,
		                             original_locale, translations, created, updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		qn.Code, qn.Version, qn.Status, qn.UUID, []byte(data), qn.ConfigurationCode,
		qn.OriginalLocale, translations, qn.Created, qn.Updated,
	)
	if err != nil {
		return fmt.Errorf("inserting questionnaire: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting questionnaire id: %w", err)
	}
	qn.ID = id
	return nil
}

func (r *questionnaireRepository) SetCode(ctx context.Context, q database.Querier, id int64, code string) error {
	if _, err := q.ExecContext(ctx, `UPDATE questionnaires SET code = ? WHERE id = ?`, code, id); err != nil {
		return fmt.Errorf("setting questionnaire code: %w", err)
	}
	return nil
}

func (r *questionnaireRepository) UpdateData(ctx context.Context, q database.Querier, id int64, data json.RawMessage, updated time.Time) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE questionnaires SET data = ?, updated = ? WHERE id = ?`,
		[]byte(data), updated, id,
	); err != nil {
		return fmt.Errorf("updating questionnaire data: %w", err)
	}
	return nil
}

func (r *questionnaireRepository) UpdateStatus(ctx context.Context, q database.Querier, id int64, status Status, updated time.Time) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE questionnaires SET status = ?, updated = ? WHERE id = ?`,
		status, updated, id,
	); err != nil {
		return fmt.Errorf("updating questionnaire status: %w", err)
	}
	return nil
}

func (r *questionnaireRepository) DemotePublic(ctx context.Context, tx *sql.Tx, code string, exceptID int64) ([]Questionnaire, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+questionnaireColumns+` FROM questionnaires
		 WHERE code = ? AND status = ? AND id <> ? AND is_deleted = FALSE
		 FOR UPDATE`,
		code, StatusPublic, exceptID,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting public versions: %w", err)
	}
	demoted, err := scanQuestionnaires(rows)
	if err != nil {
		return nil, err
	}
	if len(demoted) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(demoted))
	for i := range demoted {
		ids[i] = demoted[i].ID
		demoted[i].Status = StatusInactive
	}
	query, args, err := sqlx.In(`UPDATE questionnaires SET status = ? WHERE id IN (?)`, StatusInactive, ids)
	if err != nil {
		return nil, fmt.Errorf("building demote query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("demoting public versions: %w", err)
	}
	return demoted, nil
}

func (r *questionnaireRepository) MarkCodeDeleted(ctx context.Context, q database.Querier, code string) (int64, error) {
	res, err := q.ExecContext(ctx, `UPDATE questionnaires SET is_deleted = TRUE WHERE code = ?`, code)
	if err != nil {
		return 0, fmt.Errorf("deleting questionnaire versions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted versions: %w", err)
	}
	return n, nil
}

// FindByID returns apperror.NotFound for unknown or deleted versions.
func (r *questionnaireRepository) FindByID(ctx context.Context, id int64) (*Questionnaire, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+questionnaireColumns+` FROM questionnaires WHERE id = ? AND is_deleted = FALSE`, id)
	return scanOne(row)
}

func (r *questionnaireRepository) FindByIDs(ctx context.Context, ids []int64) ([]Questionnaire, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+questionnaireColumns+` FROM questionnaires WHERE id IN (?) AND is_deleted = FALSE ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("building questionnaire query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing questionnaires: %w", err)
	}
	return scanQuestionnaires(rows)
}

func (r *questionnaireRepository) FindForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*Questionnaire, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+questionnaireColumns+` FROM questionnaires WHERE id = ? AND is_deleted = FALSE FOR UPDATE`, id)
	return scanOne(row)
}

func (r *questionnaireRepository) FindLatestByCode(ctx context.Context, code string) (*Questionnaire, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+questionnaireColumns+` FROM questionnaires
		 WHERE code = ? AND is_deleted = FALSE
		 ORDER BY version DESC LIMIT 1`, code)
	return scanOne(row)
}

func (r *questionnaireRepository) ListVersions(ctx context.Context, code string) ([]Questionnaire, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+questionnaireColumns+` FROM questionnaires
		 WHERE code = ? AND is_deleted = FALSE
		 ORDER BY version`, code)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return scanQuestionnaires(rows)
}

func (r *questionnaireRepository) HasPendingVersion(ctx context.Context, q database.Querier, code string, excludeID int64) (bool, error) {
	query, args, err := sqlx.In(
		`SELECT COUNT(*) FROM questionnaires
		 WHERE code = ? AND id <> ? AND is_deleted = FALSE AND status IN (?)`,
		code, excludeID, PendingStatuses,
	)
	if err != nil {
		return false, fmt.Errorf("building pending query: %w", err)
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("counting pending versions: %w", err)
	}
	return n > 0, nil
}

func (r *questionnaireRepository) MaxVersion(ctx context.Context, q database.Querier, code string) (int, error) {
	var v sql.NullInt64
	if err := q.QueryRowContext(ctx,
		`SELECT MAX(version) FROM questionnaires WHERE code = ?`, code,
	).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading max version: %w", err)
	}
	return int(v.Int64), nil
}

// Members returns the memberships of a version ordered by role then name.
func (r *questionnaireRepository) Members(ctx context.Context, q database.Querier, id int64) ([]Membership, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT m.questionnaire_id, m.user_id, m.role, COALESCE(u.display_name, '')
		 FROM questionnaire_memberships m
		 LEFT JOIN users u ON u.id = m.user_id
		 WHERE m.questionnaire_id = ?
		 ORDER BY m.role, u.display_name, m.user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	return scanMembers(rows)
}

func (r *questionnaireRepository) MembersWithRoles(ctx context.Context, id int64, roles []Role) ([]Membership, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT m.questionnaire_id, m.user_id, m.role, COALESCE(u.display_name, '')
		 FROM questionnaire_memberships m
		 LEFT JOIN users u ON u.id = m.user_id
		 WHERE m.questionnaire_id = ? AND m.role IN (?)
		 ORDER BY m.role, m.user_id`, id, roles)
	if err != nil {
		return nil, fmt.Errorf("building member query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing members by role: %w", err)
	}
	return scanMembers(rows)
}

// AddMember reports whether a new membership was created.
func (r *questionnaireRepository) AddMember(ctx context.Context, q database.Querier, id int64, userID string, role Role) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT IGNORE INTO questionnaire_memberships (questionnaire_id, user_id, role) VALUES (?, ?, ?)`,
		id, userID, role)
	if err != nil {
		return false, fmt.Errorf("adding member: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveMember reports whether a membership was removed.
func (r *questionnaireRepository) RemoveMember(ctx context.Context, q database.Querier, id int64, userID string, role Role) (bool, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM questionnaire_memberships WHERE questionnaire_id = ? AND user_id = ? AND role = ?`,
		id, userID, role)
	if err != nil {
		return false, fmt.Errorf("removing member: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *questionnaireRepository) CopyMembers(ctx context.Context, q database.Querier, fromID, toID int64, roles []Role) error {
	if len(roles) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`INSERT IGNORE INTO questionnaire_memberships (questionnaire_id, user_id, role)
		 SELECT ?, user_id, role FROM questionnaire_memberships
		 WHERE questionnaire_id = ? AND role IN (?)`,
		toID, fromID, roles)
	if err != nil {
		return fmt.Errorf("building copy query: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("copying members: %w", err)
	}
	return nil
}

func (r *questionnaireRepository) Flags(ctx context.Context, q database.Querier, id int64) ([]Flag, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT flag FROM questionnaire_flags WHERE questionnaire_id = ? ORDER BY flag`, id)
	if err != nil {
		return nil, fmt.Errorf("listing flags: %w", err)
	}
	defer rows.Close()

	var flags []Flag
	for rows.Next() {
		var f Flag
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scanning flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

func (r *questionnaireRepository) SetFlag(ctx context.Context, q database.Querier, id int64, flag Flag) error {
	if _, err := q.ExecContext(ctx,
		`INSERT IGNORE INTO questionnaire_flags (questionnaire_id, flag) VALUES (?, ?)`, id, flag,
	); err != nil {
		return fmt.Errorf("setting flag: %w", err)
	}
	return nil
}

func (r *questionnaireRepository) ClearFlag(ctx context.Context, q database.Querier, id int64, flag Flag) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM questionnaire_flags WHERE questionnaire_id = ? AND flag = ?`, id, flag,
	); err != nil {
		return fmt.Errorf("clearing flag: %w", err)
	}
	return nil
}

func (r *questionnaireRepository) LinkedIDs(ctx context.Context, id int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT l.to_id FROM questionnaire_links l
		 JOIN questionnaires q ON q.id = l.to_id AND q.is_deleted = FALSE
		 WHERE l.from_id = ?
		 UNION
		 SELECT l.from_id FROM questionnaire_links l
		 JOIN questionnaires q ON q.id = l.from_id AND q.is_deleted = FALSE
		 WHERE l.to_id = ?`, id, id)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var linked int64
		if err := rows.Scan(&linked); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		ids = append(ids, linked)
	}
	return ids, rows.Err()
}

// --- Scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestionnaire(s rowScanner) (*Questionnaire, error) {
	var (
		qn           Questionnaire
		data         []byte
		translations []byte
	)
	if err := s.Scan(
		&qn.ID, &qn.Code, &qn.Version, &qn.Status, &qn.UUID, &data,
		&qn.ConfigurationCode, &qn.OriginalLocale, &translations,
		&qn.Created, &qn.Updated, &qn.IsDeleted,
	); err != nil {
		return nil, err
	}
	qn.Data = json.RawMessage(data)
	if len(translations) > 0 {
		if err := json.Unmarshal(translations, &qn.Translations); err != nil {
			return nil, fmt.Errorf("decoding translations of questionnaire %d: %w", qn.ID, err)
		}
	}
	return &qn, nil
}

func scanOne(row *sql.Row) (*Questionnaire, error) {
	qn, err := scanQuestionnaire(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("questionnaire not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning questionnaire: %w", err)
	}
	return qn, nil
}

func scanQuestionnaires(rows *sql.Rows) ([]Questionnaire, error) {
	defer rows.Close()
	var out []Questionnaire
	for rows.Next() {
		qn, err := scanQuestionnaire(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning questionnaire: %w", err)
		}
		out = append(out, *qn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating questionnaires: %w", err)
	}
	return out, nil
}

func scanMembers(rows *sql.Rows) ([]Membership, error) {
	defer rows.Close()
	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.QuestionnaireID, &m.UserID, &m.Role, &m.DisplayName); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		m.DisplayName = strings.TrimSpace(m.DisplayName)
		out = append(out, m)
	}
	return out, rows.Err()
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
