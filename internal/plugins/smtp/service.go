package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	gosmtp "net/smtp"
	"strconv"
	"time"

	"github.com/keyxmakerx/qcat/internal/apperror"
)

// dialTimeout bounds connecting when ctx carries no earlier deadline.
const dialTimeout = 10 * time.Second

// Transport sends rendered mails.
type Transport interface {
	Send(ctx context.Context, msg Message) error

	// TestConnection connects, upgrades and authenticates without sending.
	TestConnection(ctx context.Context) error
}

// NewTransport returns an SMTP transport for settings. Without a host it
// returns a transport that only logs, for local development.
func NewTransport(settings Settings) Transport {
	if settings.Host == "" {
		return logTransport{}
	}
	if settings.Port <= 0 {
		settings.Port = 587
	}
	if settings.Encryption == "" {
		settings.Encryption = EncryptionStartTLS
	}
	return &smtpTransport{settings: settings, now: time.Now}
}

// logTransport writes mails to the log instead of sending them.
type logTransport struct{}

func (logTransport) Send(ctx context.Context, msg Message) error {
	slog.Info("mail not sent (SMTP_HOST unset)",
		slog.Any("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

func (logTransport) TestConnection(ctx context.Context) error { return nil }

// smtpTransport opens one connection per message. Mails go out from a
// batch command, so pooling connections buys little.
type smtpTransport struct {
	settings Settings
	now      func() time.Time
}

func (t *smtpTransport) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return apperror.NewValidation("mail has no recipient")
	}
	raw, err := buildMessage(t.settings, msg, t.now())
	if err != nil {
		return fmt.Errorf("building mail: %w", err)
	}

	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(t.settings.FromAddress); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

func (t *smtpTransport) TestConnection(ctx context.Context) error {
	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

// connect dials the server and applies the configured encryption and
// authentication. Every failure here wraps ErrUnreachable.
func (t *smtpTransport) connect(ctx context.Context) (*gosmtp.Client, error) {
	s := t.settings
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	tlsConfig := &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}

	var (
		conn net.Conn
		err  error
	)
	if s.Encryption == EncryptionSSL {
		dialer := &tls.Dialer{Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %v", ErrUnreachable, addr, err)
	}

	client, err := gosmtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: smtp handshake: %v", ErrUnreachable, err)
	}

	if s.Encryption == EncryptionStartTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: starting TLS: %v", ErrUnreachable, err)
		}
	}

	if s.Username != "" {
		auth := gosmtp.PlainAuth("", s.Username, s.Password, s.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: authenticating: %v", ErrUnreachable, err)
		}
	}
	return client, nil
}
