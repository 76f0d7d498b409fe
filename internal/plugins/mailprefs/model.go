// Package mailprefs stores how each user wants to be mailed about logs and
// signs the tokens used by the unsubscribe links in those mails.
package mailprefs

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
)

// Subscription selects which logs a user is mailed about.
type Subscription string

const (
	// SubscriptionNone sends nothing.
	SubscriptionNone Subscription = "none"
	// SubscriptionTodo sends only status changes the user has to act on.
	SubscriptionTodo Subscription = "todo"
	// SubscriptionAll sends every mailable log.
	SubscriptionAll Subscription = "all"
)

// IsValid reports whether s is a known subscription.
func (s Subscription) IsValid() bool {
	return s == SubscriptionNone || s == SubscriptionTodo || s == SubscriptionAll
}

// Subscriptions lists the choices offered to a user. The todo choice is
// only offered to staff.
func Subscriptions(isStaff bool) []Subscription {
	if isStaff {
		return []Subscription{SubscriptionNone, SubscriptionTodo, SubscriptionAll}
	}
	return []Subscription{SubscriptionNone, SubscriptionAll}
}

// Preferences is one user's mail settings.
type Preferences struct {
	ID                 int64                  `json:"id"`
	UserID             string                 `json:"user_id"`
	Subscription       Subscription           `json:"subscription"`
	WantedActions      []notifications.Action `json:"wanted_actions"`
	Language           string                 `json:"language"`
	HasChangedLanguage bool                   `json:"has_changed_language"`
}

// Wants reports whether the user opted in to mails about action.
func (p *Preferences) Wants(action notifications.Action) bool {
	return slices.Contains(p.WantedActions, action)
}

// UpdateInput is the body of a preferences update. Nil fields are left
// unchanged.
type UpdateInput struct {
	Subscription  *Subscription `json:"subscription"`
	WantedActions *[]int        `json:"wanted_actions"`
	Language      *string       `json:"language"`
}

// formatActions stores actions as comma separated integers.
func formatActions(actions []notifications.Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = strconv.Itoa(int(a))
	}
	return strings.Join(parts, ",")
}

// parseActions reads the stored form, ignoring anything that is not a
// mailable action.
func parseActions(s string) []notifications.Action {
	out := []notifications.Action{}
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if a := notifications.Action(n); a.IsMailable() && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return out
}

// validateActions converts user supplied integers, rejecting any action
// that is never mailed.
func validateActions(values []int) ([]notifications.Action, error) {
	out := []notifications.Action{}
	for _, v := range values {
		a := notifications.Action(v)
		if !a.IsMailable() {
			return nil, fmt.Errorf("action %d cannot be mailed", v)
		}
		if !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return out, nil
}
