package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/a-h/templ"
	"golang.org/x/text/message"

	"github.com/keyxmakerx/qcat/internal/i18n"
	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
	"github.com/keyxmakerx/qcat/internal/sanitize"
	"github.com/keyxmakerx/qcat/internal/templates/layouts"
)

// mailInput is everything needed to render one mail for one recipient.
type mailInput struct {
	Log            *notifications.Log
	RecipientName  string
	Language       string
	Link           string
	SettingsURL    string
	UnsubscribeURL string
}

// rendered is a localized mail.
type rendered struct {
	Subject string
	Text    string
	HTML    string
}

// mailView holds the localized strings both bodies are built from.
type mailView struct {
	Greeting     string
	Subject      string
	MessageLabel string
	Message      string
	Info         string
	Addendum     string
	OpenLink     string
	Settings     string
	Unsubscribe  string

	in mailInput
	p  *message.Printer
}

var textBody = template.Must(template.New("mail").Parse(`{{.Greeting}}

{{.Subject}}
{{- if .Message}}

{{.MessageLabel}}
{{.Message}}
{{- end}}
{{- if .Info}}

{{.Info}}
{{- end}}
{{- if .Addendum}}

{{.Addendum}}
{{- end}}

{{.OpenLink}}

--
{{.Settings}}
{{.Unsubscribe}}
`))

var statusLabels = map[questionnaires.Status]string{
	questionnaires.StatusDraft:     i18n.StatusDraft,
	questionnaires.StatusSubmitted: i18n.StatusSubmitted,
	questionnaires.StatusReviewed:  i18n.StatusReviewed,
	questionnaires.StatusPublic:    i18n.StatusPublic,
	questionnaires.StatusRejected:  i18n.StatusRejected,
	questionnaires.StatusInactive:  i18n.StatusInactive,
}

// render localizes the mail in the recipient's language. The locale of ctx
// itself is left as it was.
func render(ctx context.Context, in mailInput) (rendered, error) {
	var out rendered
	err := i18n.Scope(ctx, in.Language, func(ctx context.Context, p *message.Printer) error {
		v := newMailView(p, in)

		var text strings.Builder
		if err := textBody.Execute(&text, v); err != nil {
			return fmt.Errorf("rendering text body: %w", err)
		}
		var html strings.Builder
		if err := layouts.Page(v.Subject, htmlBody(v)).Render(ctx, &html); err != nil {
			return fmt.Errorf("rendering html body: %w", err)
		}
		out = rendered{Subject: v.Subject, Text: text.String(), HTML: html.String()}
		return nil
	})
	return out, err
}

func newMailView(p *message.Printer, in mailInput) mailView {
	l := in.Log
	v := mailView{
		Greeting:     p.Sprintf(i18n.Greeting, in.RecipientName),
		Subject:      subject(p, l),
		MessageLabel: p.Sprintf(i18n.MessageLabel),
		OpenLink:     p.Sprintf(i18n.OpenLink, in.Link),
		Settings:     p.Sprintf(i18n.SettingsFooter, in.SettingsURL),
		Unsubscribe:  p.Sprintf(i18n.Unsubscribe, in.UnsubscribeURL),
		in:           in,
		p:            p,
	}
	if l.Status != nil {
		v.Message = sanitize.Text(l.Status.Message)
		if l.Action == notifications.ActionChangeStatus && !l.Status.IsRejected &&
			l.Status.Status == questionnaires.StatusPublic {
			v.Addendum = p.Sprintf(i18n.PublishAddendum)
		}
	}
	if l.Information != nil {
		v.Info = sanitize.Text(l.Information.Info)
	}
	return v
}

// subject is the one-line summary of a log, used as mail subject and as the
// headline of the body.
func subject(p *message.Printer, l *notifications.Log) string {
	catalyst := nameOr(l.CatalystName, l.CatalystID)
	code := l.QuestionnaireCode

	switch l.Action {
	case notifications.ActionCreate:
		return p.Sprintf(i18n.SubjectCreate, catalyst, code)
	case notifications.ActionDelete:
		return p.Sprintf(i18n.SubjectDelete, catalyst, code)
	case notifications.ActionChangeStatus:
		if l.Status == nil {
			break
		}
		if l.Status.IsRejected {
			return p.Sprintf(i18n.SubjectReject, catalyst, code)
		}
		return p.Sprintf(i18n.SubjectChangeStatus, catalyst, code, p.Sprintf(statusLabels[l.Status.Status]))
	case notifications.ActionAddMember, notifications.ActionRemoveMember:
		if l.Member == nil {
			break
		}
		affected := nameOr(l.Member.AffectedName, l.Member.AffectedID)
		format := i18n.SubjectAddMember
		if l.Action == notifications.ActionRemoveMember {
			format = i18n.SubjectRemoveMember
		}
		return p.Sprintf(format, catalyst, affected, string(l.Member.Role), code)
	case notifications.ActionEditContent:
		return p.Sprintf(i18n.SubjectEditContent, catalyst, code)
	case notifications.ActionFinishEditing:
		return p.Sprintf(i18n.SubjectFinishEditing, catalyst, code)
	}
	return code
}

func nameOr(name, id string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return id
}

// urlMark stands in for the URL while a sentence is escaped.
const urlMark = "\x00"

// linked formats a one-argument sentence whose argument is url and turns the
// url into an anchor.
func linked(p *message.Printer, format, url string) string {
	escaped := templ.EscapeString(p.Sprintf(format, urlMark))
	anchor := fmt.Sprintf(`<a href="%s">%s</a>`, templ.EscapeString(url), templ.EscapeString(url))
	return strings.Replace(escaped, urlMark, anchor, 1)
}

func multiline(s string) string {
	return strings.ReplaceAll(templ.EscapeString(s), "\n", "<br>")
}
