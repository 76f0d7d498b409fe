// Package i18n holds the languages mails can be written in and carries the
// active locale through a context.Context. Rendering a mail for a recipient
// derives a child context with the recipient's locale; the caller's context
// is never modified, so the previous locale is back in effect as soon as the
// render returns, on every exit path.
package i18n

import (
	"context"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// DefaultLanguage is used when a user has no (valid) preference.
const DefaultLanguage = "en"

// supported lists the mail languages in display order.
var supported = []language.Tag{
	language.English,
	language.French,
	language.Spanish,
	language.Russian,
	language.Khmer,
	language.Lao,
	language.Arabic,
	language.Portuguese,
}

var matcher = language.NewMatcher(supported)

// Languages returns the ISO 639-1 codes of the supported languages.
func Languages() []string {
	codes := make([]string, len(supported))
	for i, tag := range supported {
		codes[i] = baseCode(tag)
	}
	return codes
}

// IsSupported reports whether code is one of the supported language codes.
func IsSupported(code string) bool {
	for _, tag := range supported {
		if baseCode(tag) == code {
			return true
		}
	}
	return false
}

// Match picks the best supported language for an Accept-Language header.
func Match(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return DefaultLanguage
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return DefaultLanguage
	}
	return baseCode(supported[idx])
}

type localeKey struct{}

// WithLocale returns a child context whose active locale is code. Unknown
// codes fall back to DefaultLanguage.
func WithLocale(ctx context.Context, code string) context.Context {
	if !IsSupported(code) {
		code = DefaultLanguage
	}
	return context.WithValue(ctx, localeKey{}, code)
}

// Locale returns the active locale code of ctx.
func Locale(ctx context.Context) string {
	if code, ok := ctx.Value(localeKey{}).(string); ok {
		return code
	}
	return DefaultLanguage
}

// Printer returns a message printer for the active locale of ctx.
func Printer(ctx context.Context) *message.Printer {
	return message.NewPrinter(language.Make(Locale(ctx)), message.Catalog(cat))
}

// Scope runs fn with the locale switched to code. The locale of ctx is
// untouched when Scope returns, whether fn succeeded, failed or panicked.
func Scope(ctx context.Context, code string, fn func(ctx context.Context, p *message.Printer) error) error {
	scoped := WithLocale(ctx, code)
	return fn(scoped, Printer(scoped))
}

func baseCode(tag language.Tag) string {
	base, _ := tag.Base()
	return strings.ToLower(base.String())
}

// cat holds the mail translations. Keys are the English format strings.
var cat = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range translations {
		for key, msg := range entries {
			// SetString only fails for malformed tags, which are literals here.
			_ = b.SetString(tag, key, msg)
		}
	}
	return b
}()
