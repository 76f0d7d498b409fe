// Package sanitize cleans user-provided text before it is stored in a log
// payload and later rendered into mails and inbox entries. Review messages
// are plain text: any markup a reviewer pastes is stripped with bluemonday.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxMessageLength caps review messages (in runes).
const MaxMessageLength = 5000

// policy is the singleton strict policy. Initialized once via sync.Once.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared sanitization policy, initializing it on first call.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text strips every HTML element from input and returns the plain text.
// Entities produced by the sanitizer are decoded again so the result can be
// escaped exactly once by whichever template renders it.
func Text(input string) string {
	if input == "" {
		return ""
	}
	return html.UnescapeString(getPolicy().Sanitize(input))
}

// Message prepares a free-text review message for storage: markup is
// stripped, surrounding whitespace trimmed, line endings normalised and the
// length capped at MaxMessageLength runes.
func Message(input string) string {
	s := Text(input)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxMessageLength {
		s = string([]rune(s)[:MaxMessageLength])
	}
	return s
}
