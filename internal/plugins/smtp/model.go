// Package smtp is the outbound mail transport. Settings come from the
// environment (see config.MailConfig); the dispatcher hands it one rendered
// message per recipient.
package smtp

import "errors"

// ErrUnreachable wraps failures to reach or authenticate against the mail
// server, as opposed to a single rejected recipient. The CLI maps it to its
// own exit code.
var ErrUnreachable = errors.New("mail transport unreachable")

// Encryption modes.
const (
	EncryptionStartTLS = "starttls"
	EncryptionSSL      = "ssl"
	EncryptionNone     = "none"
)

// Settings is the SMTP server configuration.
type Settings struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Encryption  string // "starttls", "ssl", or "none".
	FromAddress string
	FromName    string
}

// Message is one outgoing mail. Text is required; HTML is optional and sent
// as the preferred alternative when present.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string

	// Headers are added verbatim, e.g. X-QCAT-Log.
	Headers map[string]string
}
