package mailprefs

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/i18n"
	"github.com/keyxmakerx/qcat/internal/middleware"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
	"github.com/keyxmakerx/qcat/internal/templates/layouts"
)

// Handler serves the preferences API and the token form linked from mails.
type Handler struct {
	service PreferencesService
	users   UserDirectory
}

// NewHandler creates a preferences handler.
func NewHandler(service PreferencesService, users UserDirectory) *Handler {
	return &Handler{service: service, users: users}
}

// Show returns the caller's preferences (GET /api/v1/preferences).
func (h *Handler) Show(c echo.Context) error {
	language := i18n.DefaultLanguage
	if s := auth.GetSession(c); s != nil && s.Language != "" {
		language = s.Language
	}
	p, err := h.service.Get(c.Request().Context(), auth.GetUserID(c), language)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// Update changes the caller's preferences (PUT /api/v1/preferences).
func (h *Handler) Update(c echo.Context) error {
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	p, err := h.service.Update(c.Request().Context(), auth.GetUserID(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// Form renders the preferences form for a mailed token
// (GET /notifications/preferences/:token).
func (h *Handler) Form(c echo.Context) error {
	p, err := h.service.ResolveToken(c.Request().Context(), c.Param("token"))
	if err != nil {
		return err
	}

	sub := p.Subscription
	if q := Subscription(c.QueryParam("subscription")); q.IsValid() {
		sub = q
	}
	return h.render(c, p, sub, nil)
}

// Submit saves the form (POST /notifications/preferences/:token).
func (h *Handler) Submit(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.service.ResolveToken(ctx, c.Param("token"))
	if err != nil {
		return err
	}

	in := UpdateInput{}
	if v := c.FormValue("subscription"); v != "" {
		sub := Subscription(v)
		in.Subscription = &sub
	}
	if v := c.FormValue("language"); v != "" {
		in.Language = &v
	}
	if form, err := c.FormParams(); err == nil {
		actions := []int{}
		for _, raw := range form["wanted_actions"] {
			if n, err := strconv.Atoi(raw); err == nil {
				actions = append(actions, n)
			}
		}
		in.WantedActions = &actions
	}

	updated, err := h.service.Update(ctx, p.UserID, in)
	if err != nil {
		if apperror.Is(err, apperror.TypeValidationFailed) {
			return h.render(c, p, p.Subscription, func(ctx context.Context) context.Context {
				return layouts.WithFlashError(ctx, apperror.SafeMessage(err))
			})
		}
		return err
	}
	return h.render(c, updated, updated.Subscription, func(ctx context.Context) context.Context {
		return layouts.WithFlashSuccess(ctx, i18n.Printer(ctx).Sprintf(i18n.PrefsSaved))
	})
}

// render shows the form in the preferences' language.
func (h *Handler) render(c echo.Context, p *Preferences, sub Subscription, decorate func(context.Context) context.Context) error {
	ctx := c.Request().Context()
	user, err := h.users.GetUser(ctx, p.UserID)
	if err != nil {
		return err
	}

	ctx = i18n.WithLocale(ctx, p.Language)
	ctx = layouts.WithCSRFToken(ctx, middleware.GetCSRFToken(c))
	if decorate != nil {
		ctx = decorate(ctx)
	}
	c.SetRequest(c.Request().WithContext(ctx))

	return middleware.Render(c, http.StatusOK, preferencesPage(formView{
		Action:       c.Request().URL.Path,
		Prefs:        p,
		IsStaff:      user.IsStaff,
		Subscription: sub,
	}))
}
