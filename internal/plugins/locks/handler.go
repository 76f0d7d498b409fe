package locks

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/qcat/internal/plugins/auth"
)

// Handler serves the lock endpoints used by the editor while a user works
// on a questionnaire.
type Handler struct {
	service LockService
}

// NewHandler creates a lock handler.
func NewHandler(service LockService) *Handler {
	return &Handler{service: service}
}

// Acquire claims or refreshes the lock on a code (POST /api/v1/locks/:code).
func (h *Handler) Acquire(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.GetUserID(c)
	code := c.Param("code")

	if _, err := h.service.Acquire(ctx, userID, code); err != nil {
		return err
	}
	st, err := h.service.Status(ctx, userID, code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// Release gives up the caller's lock (DELETE /api/v1/locks/:code).
func (h *Handler) Release(c echo.Context) error {
	if err := h.service.Release(c.Request().Context(), auth.GetUserID(c), c.Param("code")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Show returns the lock state of a code (GET /api/v1/locks/:code).
func (h *Handler) Show(c echo.Context) error {
	st, err := h.service.Status(c.Request().Context(), auth.GetUserID(c), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}
