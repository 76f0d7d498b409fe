package workflow

import "github.com/labstack/echo/v4"

// RegisterRoutes sets up the questionnaire endpoints. All of them require a
// session.
func RegisterRoutes(api *echo.Group, h *Handler, authMw echo.MiddlewareFunc) {
	g := api.Group("/questionnaires", authMw)
	g.POST("", h.Create)
	g.GET("/:id", h.Show)
	g.GET("/:id/versions", h.Versions)
	g.GET("/:id/compare/:other", h.Compare)
	g.GET("/:id/members", h.Members)
	g.GET("/:id/permissions", h.Permissions)
	g.PUT("/:id/data", h.UpdateData)
	g.POST("/:id/transitions", h.Transition)
	g.POST("/:id/finish-editing", h.FinishEditing)
}
