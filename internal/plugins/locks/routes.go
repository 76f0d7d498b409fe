package locks

import "github.com/labstack/echo/v4"

// RegisterRoutes sets up the lock endpoints. All of them require a session.
func RegisterRoutes(api *echo.Group, h *Handler, authMw echo.MiddlewareFunc) {
	g := api.Group("/locks", authMw)
	g.GET("/:code", h.Show)
	g.POST("/:code", h.Acquire)
	g.DELETE("/:code", h.Release)
}
