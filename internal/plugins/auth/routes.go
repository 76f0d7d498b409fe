package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/qcat/internal/middleware"
)

// RegisterRoutes sets up the auth endpoints. Login is rate limited to 10
// attempts per IP per minute.
func RegisterRoutes(api *echo.Group, h *Handler, authMw echo.MiddlewareFunc) {
	api.POST("/auth/login", h.Login, middleware.RateLimit(10, time.Minute))
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me, authMw)
}
