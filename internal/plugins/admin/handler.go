package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/qcat/internal/plugins/auth"
)

// Handler serves the admin endpoints.
type Handler struct {
	service OpsService
}

// NewHandler creates an admin handler.
func NewHandler(service OpsService) *Handler {
	return &Handler{service: service}
}

// SweepLocks expires stale locks (POST /api/v1/admin/locks/sweep).
func (h *Handler) SweepLocks(c echo.Context) error {
	n, err := h.service.SweepLocks(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"expired": n})
}

// Dispatch drains the log queue once (POST /api/v1/admin/dispatch).
func (h *Handler) Dispatch(c echo.Context) error {
	stats, err := h.service.Dispatch(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// SetMailDefaults creates missing preferences (POST /api/v1/admin/mail/defaults).
func (h *Handler) SetMailDefaults(c echo.Context) error {
	n, err := h.service.SetMailDefaults(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"created": n})
}

// MailStatus checks the mail transport (GET /api/v1/admin/mail/status).
// An unreachable server answers 503 with the reason.
func (h *Handler) MailStatus(c echo.Context) error {
	status := h.service.MailStatus(c.Request().Context())
	code := http.StatusOK
	if !status.Reachable {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
