package workflow

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/i18n"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
	"github.com/keyxmakerx/qcat/internal/plugins/permissions"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// Handler serves the questionnaire endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a questionnaire handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Code              string          `json:"code"`
	ConfigurationCode string          `json:"configuration_code"`
	Data              json.RawMessage `json:"data"`
	Status            string          `json:"status"`
	Languages         []string        `json:"languages"`
}

// Create stores a new questionnaire (POST /api/v1/questionnaires).
func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	var status questionnaires.Status
	if req.Status != "" {
		var ok bool
		if status, ok = questionnaires.StatusFromString(req.Status); !ok {
			return apperror.NewValidation("unknown status " + strconv.Quote(req.Status))
		}
	}
	for _, l := range req.Languages {
		if !i18n.IsSupported(l) {
			return apperror.NewValidation("unsupported language " + strconv.Quote(l))
		}
	}

	qn, err := h.service.CreateNew(c.Request().Context(), CreateNewInput{
		Code:              req.Code,
		ConfigurationCode: req.ConfigurationCode,
		Data:              req.Data,
		UserID:            auth.GetUserID(c),
		Status:            status,
		Languages:         req.Languages,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, qn)
}

// Show returns one version (GET /api/v1/questionnaires/:id).
func (h *Handler) Show(c echo.Context) error {
	id, err := questionnaireID(c)
	if err != nil {
		return err
	}
	qn, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, qn)
}

// Versions lists the versions sharing the code of one version
// (GET /api/v1/questionnaires/:id/versions).
func (h *Handler) Versions(c echo.Context) error {
	id, err := questionnaireID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	qn, err := h.service.Get(ctx, id)
	if err != nil {
		return err
	}
	versions, err := h.service.ListVersions(ctx, qn.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"versions": versions})
}

// Compare lists the question groups changed between two versions
// (GET /api/v1/questionnaires/:id/compare/:other).
func (h *Handler) Compare(c echo.Context) error {
	id, err := questionnaireID(c)
	if err != nil {
		return err
	}
	other, err := strconv.ParseInt(c.Param("other"), 10, 64)
	if err != nil {
		return apperror.NewBadRequest("invalid questionnaire id")
	}
	diff, err := h.service.CompareVersions(c.Request().Context(), id, other)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, diff)
}

// Members lists the memberships of a version (GET /api/v1/questionnaires/:id/members).
func (h *Handler) Members(c echo.Context) error {
	id, err := questionnaireID(c)
	if err != nil {
		return err
	}
	members, err := h.service.Members(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"members": members})
}

type updateDataRequest struct {
	Data json.RawMessage `json:"data"`
}

// UpdateData changes the content of a version, forking a new one from a
// Public version (PUT /api/v1/questionnaires/:id/data).
func (h *Handler) UpdateData(c echo.Context) error {
	id, err := questionnaireID(c)
	if err != nil {
		return err
	}
	var req updateDataRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if len(req.Data) == 0 {
		return apperror.NewValidation("data is required")
	}

	qn, err := h.service.CreateNew(c.Request().Context(), CreateNewInput{
		Data:              req.Data,
		UserID:            auth.GetUserID(c),
		PreviousVersionID: id,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, qn)
}

// Permissions returns what the caller may do with a version
// (GET /api/v1/questionnaires/:id/permissions).
func (h *Handler) Permissions(c echo.Context) error {
	id, err := questionnaireID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	qn, err := h.service.Get(ctx, id)
	if err != nil {
		return err
	}
	set, err := h.service.Auth.For(ctx, auth.GetUserID(c), qn)
	if err != nil {
		return err
	}
	perms := set.Sorted()
	if perms == nil {
		perms = []permissions.Permission{}
	}
	return c.JSON(http.StatusOK, map[string]any{"permissions": perms})
}

type transitionRequest struct {
	Kind    Kind                `json:"kind"`
	Message string              `json:"message"`
	User    string              `json:"user"`
	Role    questionnaires.Role `json:"role"`
}

// Transition moves a version through the workflow
// (POST /api/v1/questionnaires/:id/transitions).
func (h *Handler) Transition(c echo.Context) error {
	id, err := questionnaireID(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	res, err := h.service.Transition(c.Request().Context(), TransitionInput{
		UserID:          auth.GetUserID(c),
		QuestionnaireID: id,
		Kind:            req.Kind,
		Message:         req.Message,
		Member:          req.User,
		Role:            req.Role,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type finishEditingRequest struct {
	Receivers []string `json:"receivers"`
	Message   string   `json:"message"`
}

// FinishEditing releases the caller's lock and tells the compilers
// (POST /api/v1/questionnaires/:id/finish-editing).
func (h *Handler) FinishEditing(c echo.Context) error {
	id, err := questionnaireID(c)
	if err != nil {
		return err
	}
	var req finishEditingRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	l, err := h.service.FinishEditing(c.Request().Context(), FinishEditingInput{
		UserID:          auth.GetUserID(c),
		QuestionnaireID: id,
		Receivers:       req.Receivers,
		Message:         req.Message,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

func questionnaireID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.NewBadRequest("invalid questionnaire id")
	}
	return id, nil
}
