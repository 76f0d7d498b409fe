package admin

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/qcat/internal/plugins/auth"
)

// RegisterRoutes sets up the admin endpoints behind auth and the staff
// check.
func RegisterRoutes(api *echo.Group, h *Handler, authMw echo.MiddlewareFunc) {
	g := api.Group("/admin", authMw, auth.RequireStaff())
	g.POST("/locks/sweep", h.SweepLocks)
	g.POST("/dispatch", h.Dispatch)
	g.POST("/mail/defaults", h.SetMailDefaults)
	g.GET("/mail/status", h.MailStatus)
}
