package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestText_StripsMarkup(t *testing.T) {
	got := Text(`Please fix <b>section 3</b><script>alert(1)</script>`)
	if strings.Contains(got, "<") {
		t.Errorf("expected markup to be stripped, got %q", got)
	}
	if !strings.Contains(got, "section 3") {
		t.Errorf("expected text content to survive, got %q", got)
	}
}

func TestText_KeepsPlainPunctuation(t *testing.T) {
	got := Text("Fish & chips \"quoted\"")
	if got != "Fish & chips \"quoted\"" {
		t.Errorf("expected entities decoded, got %q", got)
	}
}

func TestMessage_TrimsAndCaps(t *testing.T) {
	if got := Message("  \r\nhello\r\n  "); got != "hello" {
		t.Errorf("expected trimmed message, got %q", got)
	}

	long := strings.Repeat("é", MaxMessageLength+10)
	if n := utf8.RuneCountInString(Message(long)); n != MaxMessageLength {
		t.Errorf("expected %d runes, got %d", MaxMessageLength, n)
	}
}

func TestMessage_Empty(t *testing.T) {
	if Message("") != "" {
		t.Error("expected empty message to stay empty")
	}
}
