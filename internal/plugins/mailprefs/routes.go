package mailprefs

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/qcat/internal/middleware"
)

// RegisterRoutes sets up the session-authenticated preferences API.
func RegisterRoutes(api *echo.Group, h *Handler, authMw echo.MiddlewareFunc) {
	g := api.Group("/preferences", authMw)
	g.GET("", h.Show)
	g.PUT("", h.Update)
}

// RegisterPageRoutes sets up the token form linked from mails. Tokens are
// bearer credentials, so the form is rate limited per IP.
func RegisterPageRoutes(e *echo.Echo, h *Handler) {
	limit := middleware.RateLimit(30, time.Minute)
	e.GET("/notifications/preferences/:token", h.Form, limit)
	e.POST("/notifications/preferences/:token", h.Submit, limit)
}
