package notifications

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// expand runs the same IN expansion the repository uses and checks that
// every placeholder has an argument.
func expand(t *testing.T, stmt string, args []any) string {
	t.Helper()
	query, out, err := inArgs(stmt, args...)
	require.NoError(t, err)
	assert.Equal(t, strings.Count(query, "?"), len(out), "placeholders and arguments differ")
	return query
}

func TestVisibleProjection_Placeholders(t *testing.T) {
	plain := Viewer{UserID: "u1"}
	reviewer := Viewer{UserID: "u2", Statuses: []questionnaires.Status{questionnaires.StatusSubmitted, questionnaires.StatusReviewed}}

	for _, v := range []Viewer{plain, reviewer} {
		for _, f := range []Filter{{}, {IncludeRead: true}, {Questionnaire: "technologies_1"}} {
			p := visibleProjection(v, f)
			query := expand(t, "SELECT COUNT(*) "+p.sql, p.args)
			assert.Contains(t, query, "UNION")
			assert.Equal(t, !f.IncludeRead, strings.Contains(query, "COALESCE(r.is_read, FALSE) = FALSE"))
		}
	}
}

func TestVisibleProjection_GlobalBranch(t *testing.T) {
	without := visibleProjection(Viewer{UserID: "u1"}, Filter{})
	assert.NotContains(t, without.sql, "gsu.status IN")

	with := visibleProjection(Viewer{UserID: "u1", Statuses: []questionnaires.Status{questionnaires.StatusSubmitted}}, Filter{})
	assert.Contains(t, with.sql, "gsu.status IN")
}

func TestPendingProjection_Placeholders(t *testing.T) {
	for _, v := range []Viewer{
		{UserID: "u1"},
		{UserID: "u2", Statuses: []questionnaires.Status{questionnaires.StatusReviewed}},
	} {
		unread := pendingProjection(v, Filter{Questionnaire: "x_1"}, true)
		query := expand(t, "SELECT l.id "+unread.sql, unread.args)
		assert.Contains(t, query, "su.status = qn.status")
		assert.Contains(t, query, "NOT EXISTS")
		assert.Equal(t, 1, strings.Count(query, "COALESCE(r.is_read, FALSE) = FALSE"))

		loose := pendingProjection(v, Filter{}, false).with("l.id = ?", int64(5))
		query = expand(t, "SELECT 1 "+loose.sql, loose.args)
		assert.NotContains(t, query, "COALESCE(r.is_read, FALSE) = FALSE")
	}
}

func TestProjection_WithDoesNotAlias(t *testing.T) {
	base := visibleProjection(Viewer{UserID: "u1"}, Filter{})
	n := len(base.args)
	_ = base.with("l.id = ?", int64(1))
	_ = base.with("l.id = ?", int64(2))
	assert.Len(t, base.args, n)
}
