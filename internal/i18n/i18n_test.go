package i18n

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/message"
)

func TestLocale_DefaultsToEnglish(t *testing.T) {
	assert.Equal(t, "en", Locale(context.Background()))
	assert.Equal(t, "en", Locale(WithLocale(context.Background(), "xx")))
	assert.Equal(t, "fr", Locale(WithLocale(context.Background(), "fr")))
}

func TestScope_RestoresOnError(t *testing.T) {
	ctx := WithLocale(context.Background(), "es")
	boom := errors.New("render failed")

	err := Scope(ctx, "fr", func(scoped context.Context, p *message.Printer) error {
		assert.Equal(t, "fr", Locale(scoped))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "es", Locale(ctx))
}

func TestPrinter_Translates(t *testing.T) {
	fr := Printer(WithLocale(context.Background(), "fr"))
	assert.Equal(t, "Ana a supprimé le questionnaire technologies_1", fr.Sprintf(SubjectDelete, "Ana", "technologies_1"))

	// Languages without a translation fall back to the English text.
	lo := Printer(WithLocale(context.Background(), "lo"))
	assert.Equal(t, "Ana deleted the questionnaire technologies_1", lo.Sprintf(SubjectDelete, "Ana", "technologies_1"))
	ru := Printer(WithLocale(context.Background(), "ru"))
	assert.Equal(t, "Reviewed", ru.Sprintf(StatusReviewed))
}

func TestMatch(t *testing.T) {
	assert.Equal(t, "fr", Match("fr-CH, fr;q=0.9, en;q=0.8"))
	assert.Equal(t, "en", Match(""))
	assert.Equal(t, "es", Match("es-419"))
}

func TestLanguages(t *testing.T) {
	assert.Equal(t, []string{"en", "fr", "es", "ru", "km", "lo", "ar", "pt"}, Languages())
	assert.True(t, IsSupported("km"))
	assert.False(t, IsSupported("de"))
}
