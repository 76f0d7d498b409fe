package notifications

import "github.com/labstack/echo/v4"

// RegisterRoutes sets up the inbox endpoints. All of them require a session.
func RegisterRoutes(api *echo.Group, h *Handler, authMw echo.MiddlewareFunc) {
	g := api.Group("/notifications", authMw)
	g.GET("", h.List)
	g.GET("/pending", h.Pending)
	g.GET("/count", h.Count)
	g.POST("/read-all", h.ReadAll)
	g.PUT("/:id/read", h.MarkRead)
	g.DELETE("/:id", h.Delete)

	api.GET("/questionnaires/:code/logs", h.QuestionnaireLogs, authMw)
}
