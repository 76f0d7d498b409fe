package notifications

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
)

// Handler serves the inbox endpoints.
type Handler struct {
	service InboxService
}

// NewHandler creates an inbox handler.
func NewHandler(service InboxService) *Handler {
	return &Handler{service: service}
}

// List returns one page of the caller's inbox (GET /api/v1/notifications).
// Query parameters: page, per_page, todo, questionnaire, read.
func (h *Handler) List(c echo.Context) error {
	f := Filter{
		Page:          queryInt(c, "page"),
		PerPage:       queryInt(c, "per_page"),
		OnlyTodo:      queryBool(c, "todo"),
		Questionnaire: c.QueryParam("questionnaire"),
		IncludeRead:   c.QueryParam("read") == "" || queryBool(c, "read"),
	}
	page, err := h.service.List(c.Request().Context(), auth.GetUserID(c), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// Pending returns the caller's todo list (GET /api/v1/notifications/pending).
func (h *Handler) Pending(c echo.Context) error {
	items, err := h.service.Pending(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// Count returns the unread count (GET /api/v1/notifications/count).
func (h *Handler) Count(c echo.Context) error {
	n, err := h.service.UnreadCount(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

type markReadRequest struct {
	Read *bool `json:"read"`
}

// MarkRead toggles the read mark of one log (PUT /api/v1/notifications/:id/read).
func (h *Handler) MarkRead(c echo.Context) error {
	id, err := logID(c)
	if err != nil {
		return err
	}
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.Read == nil {
		return apperror.NewValidation("read is required")
	}
	if err := h.service.MarkRead(c.Request().Context(), auth.GetUserID(c), id, *req.Read); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete hides one log from the caller's inbox (DELETE /api/v1/notifications/:id).
func (h *Handler) Delete(c echo.Context) error {
	id, err := logID(c)
	if err != nil {
		return err
	}
	if err := h.service.MarkDeleted(c.Request().Context(), auth.GetUserID(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ReadAll marks the whole visible list read (POST /api/v1/notifications/read-all).
func (h *Handler) ReadAll(c echo.Context) error {
	if err := h.service.MarkAllRead(c.Request().Context(), auth.GetUserID(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// QuestionnaireLogs lists the caller's logs of one questionnaire code
// (GET /api/v1/questionnaires/:code/logs).
func (h *Handler) QuestionnaireLogs(c echo.Context) error {
	items, err := h.service.QuestionnaireLogs(c.Request().Context(), auth.GetUserID(c), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func logID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.NewBadRequest("invalid notification id")
	}
	return id, nil
}

func queryInt(c echo.Context, name string) int {
	n, _ := strconv.Atoi(c.QueryParam(name))
	return n
}

func queryBool(c echo.Context, name string) bool {
	b, _ := strconv.ParseBool(c.QueryParam(name))
	return b
}
