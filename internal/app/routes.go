package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/qcat/internal/plugins/admin"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
	"github.com/keyxmakerx/qcat/internal/plugins/locks"
	"github.com/keyxmakerx/qcat/internal/plugins/mailprefs"
	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
	"github.com/keyxmakerx/qcat/internal/plugins/smtp"
	"github.com/keyxmakerx/qcat/internal/plugins/workflow"
)

// healthTimeout bounds the store pings of /healthz.
const healthTimeout = 2 * time.Second

// RegisterRoutes sets up all application routes. This is the single place
// where plugin routes are aggregated.
func (a *App) RegisterRoutes(svc *Services) {
	e := a.Echo

	// Health check for container orchestration. Reports 503 while MariaDB
	// or Redis is unreachable.
	e.GET("/healthz", a.healthz)

	// Token form linked from mails; no session required.
	prefsHandler := mailprefs.NewHandler(svc.Preferences, svc.Auth)
	mailprefs.RegisterPageRoutes(e, prefsHandler)

	authMw := auth.RequireAuth(svc.Auth)
	api := e.Group("/api/v1")

	auth.RegisterRoutes(api, auth.NewHandler(svc.Auth), authMw)
	workflow.RegisterRoutes(api, workflow.NewHandler(svc.Workflow), authMw)
	locks.RegisterRoutes(api, locks.NewHandler(svc.Locks), authMw)
	notifications.RegisterRoutes(api, notifications.NewHandler(svc.Inbox), authMw)
	mailprefs.RegisterRoutes(api, prefsHandler, authMw)

	transport := smtp.NewTransport(MailSettings(a.Config.Mail))
	ops := admin.NewOpsService(svc.Locks, svc.Dispatcher(a.Config, transport), svc.Preferences, transport)
	admin.RegisterRoutes(api, admin.NewHandler(ops), authMw)
}

func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	status := map[string]string{"status": "ok", "mariadb": "ok", "redis": "ok"}
	code := http.StatusOK
	if err := a.DB.PingContext(ctx); err != nil {
		status["mariadb"] = "unreachable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		status["redis"] = "unreachable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
