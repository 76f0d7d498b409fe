package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/config"
)

func newTestApp(t *testing.T, route string, fail error) *App {
	t.Helper()
	a := New(&config.Config{BaseURL: "http://localhost:8080"}, nil, nil)
	a.Echo.GET(route, func(c echo.Context) error { return fail })
	return a
}

func serve(a *App, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestErrorHandler_LockedCarriesOwner(t *testing.T) {
	a := newTestApp(t, "/api/v1/x", apperror.NewLocked("u-7", "Carla"))
	rec := serve(a, "/api/v1/x")

	if rec.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body.Type != apperror.TypeLocked {
		t.Errorf("expected type %q, got %q", apperror.TypeLocked, body.Type)
	}
	if body.Owner == nil || body.Owner.UserID != "u-7" || body.Owner.DisplayName != "Carla" {
		t.Errorf("expected owner u-7/Carla, got %+v", body.Owner)
	}
}

func TestErrorHandler_ValidationFields(t *testing.T) {
	a := newTestApp(t, "/api/v1/x", apperror.NewValidationFailed(map[string]string{"role": "not assignable"}))
	rec := serve(a, "/api/v1/x")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if got := decodeBody(t, rec).Fields["role"]; got != "not assignable" {
		t.Errorf("expected field error, got %q", got)
	}
}

func TestErrorHandler_InternalHidesCause(t *testing.T) {
	a := newTestApp(t, "/api/v1/x", apperror.NewInternal(errSecret))
	rec := serve(a, "/api/v1/x")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), errSecret.Error()) {
		t.Error("internal cause leaked into the response")
	}
}

func TestErrorHandler_UnknownRoute(t *testing.T) {
	a := newTestApp(t, "/api/v1/x", nil)
	rec := serve(a, "/api/v1/nope")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body.Type != apperror.TypeNotFound {
		t.Errorf("expected not_found, got %q", body.Type)
	}
}

func TestErrorHandler_PageForFormRoutes(t *testing.T) {
	a := newTestApp(t, "/notifications/preferences/:token", apperror.NewNotFound("link is no longer valid"))
	rec := serve(a, "/notifications/preferences/abc")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected HTML, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "link is no longer valid") {
		t.Error("expected the message on the page")
	}
}

var errSecret = &secretError{}

type secretError struct{}

func (*secretError) Error() string { return "dial tcp 10.0.0.5:3306: password=hunter2" }
