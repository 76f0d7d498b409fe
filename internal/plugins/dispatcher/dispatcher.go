// Package dispatcher drains the unprocessed change logs and mails them. Each
// log is handled in its own transaction that holds the log row with
// FOR UPDATE NOWAIT, so concurrent drains never mail the same log twice:
// the loser of the row lock skips the log and the winner flips its processed
// flag before committing.
package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
	"github.com/keyxmakerx/qcat/internal/plugins/mailprefs"
	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
	"github.com/keyxmakerx/qcat/internal/plugins/permissions"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
	"github.com/keyxmakerx/qcat/internal/plugins/smtp"
)

// LogHeader names the mail header carrying the log id.
const LogHeader = "X-QCAT-Log"

// MemberSource lists the members of a questionnaire version holding one of
// the given roles. questionnaires.QuestionnaireRepository satisfies it.
type MemberSource interface {
	MembersWithRoles(ctx context.Context, id int64, roles []questionnaires.Role) ([]questionnaires.Membership, error)
}

// UserDirectory resolves recipients. auth.AuthService satisfies it.
type UserDirectory interface {
	GetUsers(ctx context.Context, ids []string) (map[string]auth.User, error)
	UsersInGroups(ctx context.Context, groups []string) ([]string, error)
}

// PendingChecker answers whether a log is on a user's todo list.
// notifications.InboxService satisfies it.
type PendingChecker interface {
	IsPending(ctx context.Context, userID string, logID int64) (bool, error)
}

// Config tunes a Dispatcher.
type Config struct {
	// BaseURL prefixes the questionnaire links in mails.
	BaseURL string

	// StaffOnly restricts mail to staff users.
	StaffOnly bool

	// Batch caps the number of logs one Drain looks at.
	Batch int
}

// Stats summarizes one Drain.
type Stats struct {
	// Scanned is the number of unprocessed logs found.
	Scanned int `json:"scanned"`

	// Processed logs were marked processed by this drain.
	Processed int `json:"processed"`

	// Blocked logs were locked by another worker and left alone.
	Blocked int `json:"blocked"`

	// Errors counts logs that failed for a reason other than a lock.
	Errors int `json:"errors"`

	// Sent, Skipped and Failed count recipients: mails handed to the
	// transport, recipients filtered out, and mails the transport refused.
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Dispatcher mails change logs.
type Dispatcher struct {
	logs      notifications.LogRepository
	members   MemberSource
	users     UserDirectory
	prefs     mailprefs.PreferencesService
	pending   PendingChecker
	grants    *permissions.Grants
	transport smtp.Transport
	txs       database.Transactor
	cfg       Config
	now       func() time.Time
}

// New creates a Dispatcher.
func New(
	logs notifications.LogRepository,
	members MemberSource,
	users UserDirectory,
	prefs mailprefs.PreferencesService,
	pending PendingChecker,
	grants *permissions.Grants,
	transport smtp.Transport,
	txs database.Transactor,
	cfg Config,
) *Dispatcher {
	if grants == nil {
		grants = &permissions.Grants{Groups: map[string]permissions.Grant{}}
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 500
	}
	return &Dispatcher{
		logs:      logs,
		members:   members,
		users:     users,
		prefs:     prefs,
		pending:   pending,
		grants:    grants,
		transport: transport,
		txs:       txs,
		cfg:       cfg,
		now:       time.Now,
	}
}

// logResult is what processing one log produced.
type logResult struct {
	sent, skipped, failed int
	alreadyDone           bool
}

// Drain mails every unprocessed log, oldest first. A log locked by another
// worker is skipped and stays unprocessed for that worker. Drain only
// returns an error when the store cannot be reached; other per-log failures
// are logged and counted.
func (d *Dispatcher) Drain(ctx context.Context) (Stats, error) {
	start := d.now()
	logs, err := d.logs.ListUnprocessed(ctx, d.cfg.Batch)
	if err != nil {
		return Stats{}, fmt.Errorf("listing unprocessed logs: %w", err)
	}

	stats := Stats{Scanned: len(logs)}
	slog.Info("start processing logs", slog.Int("count", len(logs)))

	for i := range logs {
		if err := ctx.Err(); err != nil {
			d.logEnd(stats, start, "canceled")
			return stats, err
		}

		l := &logs[i]
		res, err := d.process(ctx, l.ID)
		switch {
		case err != nil && database.IsLockConflict(err):
			stats.Blocked++
			slog.Info("could not process log: locked by another process",
				slog.Int64("log_id", l.ID))
			continue
		case err != nil && database.IsUnavailable(err):
			d.logEnd(stats, start, "canceled")
			return stats, fmt.Errorf("processing log %d: %w", l.ID, err)
		case err != nil:
			stats.Errors++
			slog.Error("processing log failed",
				slog.Int64("log_id", l.ID),
				slog.Any("error", err),
			)
			continue
		}

		stats.Sent += res.sent
		stats.Skipped += res.skipped
		stats.Failed += res.failed
		if res.alreadyDone {
			continue
		}
		stats.Processed++
		slog.Info("sent log",
			slog.Int64("log_id", l.ID),
			slog.String("action", l.Action.String()),
			slog.String("questionnaire_code", l.QuestionnaireCode),
			slog.Int("recipients", res.sent),
		)
	}

	outcome := "finished"
	if stats.Blocked > 0 {
		outcome = "canceled"
	}
	d.logEnd(stats, start, outcome)
	return stats, nil
}

func (d *Dispatcher) logEnd(stats Stats, start time.Time, outcome string) {
	slog.Info(outcome+" processing logs",
		slog.Duration("took", d.now().Sub(start)),
		slog.Int("processed", stats.Processed),
		slog.Int("blocked", stats.Blocked),
		slog.Int("sent", stats.Sent),
		slog.Int("failed", stats.Failed),
	)
}

// process mails one log inside a transaction holding its row.
func (d *Dispatcher) process(ctx context.Context, id int64) (logResult, error) {
	var res logResult
	err := d.txs.WithTx(ctx, nil, func(tx *sql.Tx) error {
		res = logResult{}
		processed, err := d.logs.LockForDispatch(ctx, tx, id)
		if err != nil {
			return err
		}
		if processed {
			res.alreadyDone = true
			return nil
		}

		// Re-read under the lock: the questionnaire may have moved on since
		// the log was listed.
		l, err := d.logs.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if l.Action.IsMailable() {
			if res, err = d.send(ctx, tx, l); err != nil {
				return err
			}
		}
		return d.logs.MarkProcessed(ctx, tx, id)
	})
	return res, err
}

// send mails l to every recipient whose preferences ask for it. All
// lookups and rendering happen before the first mail goes out, so an error
// that rolls the log back has not mailed anyone yet. Transport errors are
// counted, not returned.
func (d *Dispatcher) send(ctx context.Context, q database.Querier, l *notifications.Log) (logResult, error) {
	msgs, skipped, err := d.prepare(ctx, q, l)
	if err != nil {
		return logResult{}, err
	}

	res := logResult{skipped: skipped}
	for _, msg := range msgs {
		if err := d.transport.Send(ctx, msg.Message); err != nil {
			res.failed++
			slog.Error("sending mail failed",
				slog.Int64("log_id", l.ID),
				slog.String("user_id", msg.userID),
				slog.Any("error", err),
			)
			continue
		}
		res.sent++
	}
	return res, nil
}

// outgoing is a rendered mail and the user it goes to.
type outgoing struct {
	smtp.Message
	userID string
}

// prepare resolves the recipients of l and renders a mail for each one that
// wants it. It reports how many recipients were filtered out.
func (d *Dispatcher) prepare(ctx context.Context, q database.Querier, l *notifications.Log) ([]outgoing, int, error) {
	ids, err := d.recipients(ctx, q, l)
	if err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return nil, 0, nil
	}

	users, err := d.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("loading recipients: %w", err)
	}
	prefs, err := d.prefs.ForUsers(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("loading mail preferences: %w", err)
	}

	var (
		out     []outgoing
		skipped int
	)
	for _, id := range ids {
		user, ok := users[id]
		p, hasPrefs := prefs[id]
		if !ok || !hasPrefs || user.Email == "" {
			skipped++
			continue
		}
		wanted, err := d.wants(ctx, l, &user, &p)
		if err != nil {
			return nil, 0, err
		}
		if !wanted {
			skipped++
			continue
		}

		msg, err := d.message(ctx, l, &user, &p)
		if err != nil {
			return nil, 0, fmt.Errorf("rendering mail for %s: %w", id, err)
		}
		out = append(out, outgoing{Message: msg, userID: id})
	}
	return out, skipped, nil
}

// recipients returns the users a log concerns, without the catalyst: its
// subscribers; for a status change still describing the questionnaire,
// everyone expected to act on that step; for a membership change, the
// affected user.
func (d *Dispatcher) recipients(ctx context.Context, q database.Querier, l *notifications.Log) ([]string, error) {
	set := newOrderedSet()

	subscribers, err := d.logs.Subscribers(ctx, q, l.ID)
	if err != nil {
		return nil, err
	}
	set.add(subscribers...)

	if l.IsCurrentStatus() && l.Status.Status.IsWorkflowStep() {
		status := l.Status.Status
		members, err := d.members.MembersWithRoles(ctx, l.QuestionnaireID, permissions.ActingRoles(status))
		if err != nil {
			return nil, fmt.Errorf("loading acting members: %w", err)
		}
		set.add(questionnaires.UserIDs(members)...)

		if p := permissions.StepPermission(status); p != "" {
			if groups := d.grants.GroupsWith(p); len(groups) > 0 {
				ids, err := d.users.UsersInGroups(ctx, groups)
				if err != nil {
					return nil, fmt.Errorf("loading %s group members: %w", p, err)
				}
				set.add(ids...)
			}
		}
	}

	if l.Member != nil {
		set.add(l.Member.AffectedID)
	}

	set.remove(l.CatalystID)
	return set.items(), nil
}

// wants applies the recipient's preferences to l.
func (d *Dispatcher) wants(ctx context.Context, l *notifications.Log, user *auth.User, p *mailprefs.Preferences) (bool, error) {
	if d.cfg.StaffOnly && !user.IsStaff {
		return false, nil
	}
	if !p.Wants(l.Action) {
		return false, nil
	}
	switch p.Subscription {
	case mailprefs.SubscriptionAll:
		return true, nil
	case mailprefs.SubscriptionTodo:
		if l.Action != notifications.ActionChangeStatus {
			return false, nil
		}
		pending, err := d.pending.IsPending(ctx, user.ID, l.ID)
		if err != nil {
			return false, fmt.Errorf("checking todo list of %s: %w", user.ID, err)
		}
		return pending, nil
	}
	return false, nil
}

func (d *Dispatcher) message(ctx context.Context, l *notifications.Log, user *auth.User, p *mailprefs.Preferences) (smtp.Message, error) {
	settingsURL, err := d.prefs.SettingsURL(p)
	if err != nil {
		return smtp.Message{}, err
	}
	unsubscribeURL, err := d.prefs.UnsubscribeURL(p)
	if err != nil {
		return smtp.Message{}, err
	}

	mail, err := render(ctx, mailInput{
		Log:            l,
		RecipientName:  nameOr(user.DisplayName, user.Email),
		Language:       p.Language,
		Link:           d.cfg.BaseURL + "/questionnaires/" + l.QuestionnaireCode,
		SettingsURL:    settingsURL,
		UnsubscribeURL: unsubscribeURL,
	})
	if err != nil {
		return smtp.Message{}, err
	}
	return smtp.Message{
		To:      []string{user.Email},
		Subject: mail.Subject,
		Text:    mail.Text,
		HTML:    mail.HTML,
		Headers: map[string]string{
			LogHeader:          strconv.FormatInt(l.ID, 10),
			"List-Unsubscribe": "<" + unsubscribeURL + ">",
		},
	}, nil
}

// orderedSet keeps insertion order so mails go out deterministically.
type orderedSet struct {
	seen  map[string]bool
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}}
}

func (s *orderedSet) add(ids ...string) {
	for _, id := range ids {
		if id == "" || s.seen[id] {
			continue
		}
		s.seen[id] = true
		s.order = append(s.order, id)
	}
}

func (s *orderedSet) remove(id string) {
	delete(s.seen, id)
}

func (s *orderedSet) items() []string {
	out := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if s.seen[id] {
			out = append(out, id)
		}
	}
	return out
}
