// data.go provides typed context helpers for passing page data from
// handlers to templ components. Only simple types are stored so the layouts
// package never imports plugin types.
//
// Data flow: Handler -> Go Context -> templ component
package layouts

import "context"

// ctxKey is a private type for context keys to prevent collisions.
type ctxKey string

const (
	keyCSRFToken    ctxKey = "layout_csrf_token"
	keyFlashSuccess ctxKey = "layout_flash_success"
	keyFlashError   ctxKey = "layout_flash_error"
)

// WithCSRFToken stores the form token rendered by CSRFField.
func WithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, keyCSRFToken, token)
}

// CSRFToken returns the stored form token, or "".
func CSRFToken(ctx context.Context) string {
	v, _ := ctx.Value(keyCSRFToken).(string)
	return v
}

// WithFlashSuccess stores a success message shown above the page body.
func WithFlashSuccess(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, keyFlashSuccess, msg)
}

// FlashSuccess returns the stored success message, or "".
func FlashSuccess(ctx context.Context) string {
	v, _ := ctx.Value(keyFlashSuccess).(string)
	return v
}

// WithFlashError stores an error message shown above the page body.
func WithFlashError(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, keyFlashError, msg)
}

// FlashError returns the stored error message, or "".
func FlashError(ctx context.Context) string {
	v, _ := ctx.Value(keyFlashError).(string)
	return v
}
