package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/content"
	"github.com/keyxmakerx/qcat/internal/i18n"
	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// mockValidator implements content.Validator.
type mockValidator struct {
	cleanFn func(data json.RawMessage) (json.RawMessage, map[string]string, error)
}

func (m *mockValidator) Clean(_ context.Context, data json.RawMessage, _ string) (json.RawMessage, map[string]string, error) {
	return m.cleanFn(data)
}

var _ content.Validator = (*mockValidator)(nil)

func decoded(t *testing.T, raw json.RawMessage) content.Data {
	t.Helper()
	d, err := content.Decode(raw)
	if err != nil {
		t.Fatalf("decoding %s: %v", raw, err)
	}
	return d
}

// --- CreateNew ---

func TestCreateNew_NewQuestionnaire(t *testing.T) {
	e := newEnv()
	ctx := i18n.WithLocale(context.Background(), "fr")

	qn, err := e.svc.CreateNew(ctx, CreateNewInput{
		ConfigurationCode: "technologies",
		Data:              json.RawMessage(`{"qg_name":[{"name":"Terrasses"}]}`),
		UserID:            "anna",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if qn.Code != "technologies_1" || qn.Version != 1 || qn.Status != questionnaires.StatusDraft {
		t.Errorf("unexpected questionnaire %+v", qn)
	}
	if qn.UUID == "" {
		t.Error("expected a uuid")
	}
	if qn.OriginalLocale != "fr" || !slices.Equal(qn.Translations, []string{"fr"}) {
		t.Errorf("expected locale fr, got %q %v", qn.OriginalLocale, qn.Translations)
	}
	if e.repo.qns[qn.ID].Code != "technologies_1" {
		t.Error("expected the generated code to be stored")
	}
	if roles := questionnaires.RolesOf(e.repo.members, "anna"); !slices.Equal(roles, []questionnaires.Role{questionnaires.RoleCompiler}) {
		t.Errorf("expected compiler membership, got %v", roles)
	}

	l := e.logs.last()
	if l.Action != notifications.ActionCreate || !l.NoSubscribers || l.Status.Status != questionnaires.StatusDraft {
		t.Errorf("unexpected create log %+v", l)
	}
}

func TestCreateNew_KeepsGivenCodeAndLanguages(t *testing.T) {
	e := newEnv()
	qn, err := e.svc.CreateNew(context.Background(), CreateNewInput{
		Code:              "imported_42",
		ConfigurationCode: "technologies",
		Data:              json.RawMessage(`{}`),
		UserID:            "anna",
		Status:            questionnaires.StatusPublic,
		Languages:         []string{"es", "en", "es"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qn.Code != "imported_42" || qn.Status != questionnaires.StatusPublic {
		t.Errorf("unexpected questionnaire %+v", qn)
	}
	if qn.OriginalLocale != "es" || !slices.Equal(qn.Translations, []string{"es", "en"}) {
		t.Errorf("unexpected languages %q %v", qn.OriginalLocale, qn.Translations)
	}
}

func TestCreateNew_InvalidStatus(t *testing.T) {
	e := newEnv()
	_, err := e.svc.CreateNew(context.Background(), CreateNewInput{
		ConfigurationCode: "technologies",
		Data:              json.RawMessage(`{}`),
		UserID:            "anna",
		Status:            questionnaires.Status(9),
	})
	assertAppError(t, err, apperror.TypeValidationFailed)
	if len(e.repo.qns) != 0 {
		t.Error("expected nothing to be stored")
	}
}

func TestCreateNew_FieldErrorsStopTheWrite(t *testing.T) {
	e := newEnv()
	e.svc.Validator = &mockValidator{cleanFn: func(json.RawMessage) (json.RawMessage, map[string]string, error) {
		return nil, map[string]string{"qg_name.0.name": "required"}, nil
	}}

	_, err := e.svc.CreateNew(context.Background(), CreateNewInput{
		ConfigurationCode: "technologies",
		Data:              json.RawMessage(`{}`),
		UserID:            "anna",
	})
	assertAppError(t, err, apperror.TypeValidationFailed)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Fields["qg_name.0.name"] != "required" {
		t.Errorf("expected field errors, got %v", err)
	}
	if len(e.repo.qns) != 0 || len(e.logs.appended) != 0 {
		t.Error("expected nothing to be stored")
	}
}

func TestCreateNew_EditsDraftInPlace(t *testing.T) {
	e := newEnv()
	id := e.repo.seed("technologies_1", 1, questionnaires.StatusDraft, map[string]questionnaires.Role{
		"anna": questionnaires.RoleCompiler,
		"bea":  questionnaires.RoleEditor,
	})

	qn, err := e.svc.CreateNew(context.Background(), CreateNewInput{
		Data:              json.RawMessage(`{"qg_name":[{"name":"Stone walls"}]}`),
		UserID:            "bea",
		PreviousVersionID: id,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qn.ID != id || qn.Version != 1 {
		t.Errorf("expected the same version to be edited, got %+v", qn)
	}
	if got := decoded(t, e.repo.qns[id].Data); got["qg_name"][0]["name"] != "Stone walls" {
		t.Errorf("expected new data, got %v", got)
	}
	if !e.repo.qns[id].Updated.Equal(testNow) {
		t.Errorf("expected updated to be now, got %v", e.repo.qns[id].Updated)
	}
	if l := e.logs.last(); l.Action != notifications.ActionEditContent {
		t.Errorf("expected edit content log, got %s", l.Action)
	}
	if !slices.Equal(e.unread.users, []string{"anna"}) {
		t.Errorf("expected anna's unread count to be invalidated, got %v", e.unread.users)
	}
}

func TestCreateNew_EditSubmittedNeedsReview(t *testing.T) {
	e := newEnv()
	id := e.repo.seed("technologies_1", 1, questionnaires.StatusSubmitted, map[string]questionnaires.Role{
		"anna": questionnaires.RoleCompiler,
		"bea":  questionnaires.RoleEditor,
		"carl": questionnaires.RoleReviewer,
	})
	in := CreateNewInput{Data: json.RawMessage(`{}`), PreviousVersionID: id}

	in.UserID = "bea"
	_, err := e.svc.CreateNew(context.Background(), in)
	assertAppError(t, err, apperror.TypeForbidden)

	in.UserID = "carl"
	if _, err := e.svc.CreateNew(context.Background(), in); err != nil {
		t.Errorf("expected reviewer to edit, got %v", err)
	}
}

func TestCreateNew_ForksPublicVersion(t *testing.T) {
	e := newEnv()
	id := e.repo.seed("technologies_1", 3, questionnaires.StatusPublic, map[string]questionnaires.Role{
		"anna": questionnaires.RoleCompiler,
		"carl": questionnaires.RoleReviewer,
		"dora": questionnaires.RoleResourcePerson,
	})

	qn, err := e.svc.CreateNew(context.Background(), CreateNewInput{
		Data:              json.RawMessage(`{"qg_name":[{"name":"Terraces v4"}]}`),
		UserID:            "anna",
		PreviousVersionID: id,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qn.ID == id || qn.Version != 4 || qn.Status != questionnaires.StatusDraft {
		t.Errorf("unexpected new version %+v", qn)
	}
	if qn.Code != "technologies_1" || qn.UUID != "uuid-technologies_1" {
		t.Errorf("expected code and uuid to carry over, got %q %q", qn.Code, qn.UUID)
	}
	if e.repo.qns[id].Status != questionnaires.StatusPublic {
		t.Error("expected the public version to stay public")
	}

	members, _ := e.repo.Members(context.Background(), nil, qn.ID)
	if !slices.Equal(questionnaires.UserIDs(members), []string{"anna", "carl"}) {
		t.Errorf("expected functional members only, got %v", members)
	}
	if l := e.logs.last(); l.Action != notifications.ActionCreate || l.QuestionnaireID != qn.ID {
		t.Errorf("unexpected log %+v", l)
	}
}

func TestCreateNew_ForkConflictsWithPendingVersion(t *testing.T) {
	e := newEnv()
	id := e.repo.seed("technologies_1", 1, questionnaires.StatusPublic, map[string]questionnaires.Role{"anna": questionnaires.RoleCompiler})
	e.repo.seed("technologies_1", 2, questionnaires.StatusDraft, map[string]questionnaires.Role{"anna": questionnaires.RoleCompiler})

	_, err := e.svc.CreateNew(context.Background(), CreateNewInput{
		Data:              json.RawMessage(`{}`),
		UserID:            "anna",
		PreviousVersionID: id,
	})
	assertAppError(t, err, apperror.TypeConflict)
}

func TestCreateNew_LockedByOther(t *testing.T) {
	e := newEnv()
	id := e.repo.seed("technologies_1", 1, questionnaires.StatusDraft, map[string]questionnaires.Role{"anna": questionnaires.RoleCompiler})
	e.locks.requireFreeFn = func(code, userID string) error {
		if userID != "bea" {
			return apperror.NewLocked("bea", "Bea")
		}
		return nil
	}

	_, err := e.svc.CreateNew(context.Background(), CreateNewInput{
		Data:              json.RawMessage(`{}`),
		UserID:            "anna",
		PreviousVersionID: id,
	})
	assertAppError(t, err, apperror.TypeLocked)
	if len(e.logs.appended) != 0 {
		t.Error("expected no log")
	}
}

func TestCreateNew_InactiveVersion(t *testing.T) {
	e := newEnv()
	id := e.repo.seed("technologies_1", 1, questionnaires.StatusInactive, map[string]questionnaires.Role{"anna": questionnaires.RoleCompiler})

	_, err := e.svc.CreateNew(context.Background(), CreateNewInput{
		Data:              json.RawMessage(`{}`),
		UserID:            "anna",
		PreviousVersionID: id,
	})
	assertAppError(t, err, apperror.TypeInvalidState)
}

// --- Reads ---

func TestCompareVersions(t *testing.T) {
	e := newEnv()
	a := e.repo.seed("technologies_1", 1, questionnaires.StatusInactive, nil)
	b := e.repo.seed("technologies_1", 2, questionnaires.StatusPublic, nil)
	e.repo.qns[b].Data = json.RawMessage(`{"qg_name":[{"name":"Terraces"}],"qg_location":[{"country":"KH"}]}`)
	other := e.repo.seed("approaches_2", 1, questionnaires.StatusPublic, nil)

	diff, err := e.svc.CompareVersions(context.Background(), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(diff.Changed, []string{"qg_location"}) {
		t.Errorf("expected qg_location to differ, got %v", diff.Changed)
	}

	_, err = e.svc.CompareVersions(context.Background(), a, other)
	assertAppError(t, err, apperror.TypeBadRequest)
}

func TestListVersions_UnknownCode(t *testing.T) {
	e := newEnv()
	_, err := e.svc.ListVersions(context.Background(), "technologies_404")
	assertAppError(t, err, apperror.TypeNotFound)
}

// --- FinishEditing ---

func TestFinishEditing_TellsCompilers(t *testing.T) {
	e := newEnv()
	id := e.repo.seed("technologies_1", 1, questionnaires.StatusDraft, map[string]questionnaires.Role{
		"anna": questionnaires.RoleCompiler,
		"bea":  questionnaires.RoleEditor,
	})

	l, err := e.svc.FinishEditing(context.Background(), FinishEditingInput{UserID: "bea", QuestionnaireID: id})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Action != notifications.ActionFinishEditing || l.Information.Info != "User bea finished editing" {
		t.Errorf("unexpected log %+v", l)
	}
	if got := e.logs.subscribers[l.ID]; !slices.Equal(got, []string{"anna"}) {
		t.Errorf("expected compilers as subscribers, got %v", got)
	}
	if !slices.Equal(e.locks.released, []string{"bea:technologies_1"}) {
		t.Errorf("expected bea's lock to be released, got %v", e.locks.released)
	}
	if !slices.Equal(e.unread.users, []string{"anna"}) {
		t.Errorf("expected anna's unread count to be invalidated, got %v", e.unread.users)
	}
}

func TestFinishEditing_ExplicitReceiversAndMessage(t *testing.T) {
	e := newEnv()
	id := e.repo.seed("technologies_1", 1, questionnaires.StatusDraft, map[string]questionnaires.Role{
		"anna": questionnaires.RoleCompiler,
		"bea":  questionnaires.RoleEditor,
	})

	l, err := e.svc.FinishEditing(context.Background(), FinishEditingInput{
		UserID:          "bea",
		QuestionnaireID: id,
		Receivers:       []string{"carl", "bea"},
		Message:         "<i>Done</i> with section 2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Information.Info != "Done with section 2" {
		t.Errorf("expected sanitized message, got %q", l.Information.Info)
	}
	if got := e.logs.subscribers[l.ID]; !slices.Equal(got, []string{"carl"}) {
		t.Errorf("expected [carl], got %v", got)
	}
}

func TestFinishEditing_NeedsEdit(t *testing.T) {
	e := newEnv()
	id := e.repo.seed("technologies_1", 1, questionnaires.StatusDraft, map[string]questionnaires.Role{"anna": questionnaires.RoleCompiler})

	_, err := e.svc.FinishEditing(context.Background(), FinishEditingInput{UserID: "carl", QuestionnaireID: id})
	assertAppError(t, err, apperror.TypeForbidden)
}
