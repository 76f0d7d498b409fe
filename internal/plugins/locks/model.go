// Package locks implements editorial locks: short-lived claims a user holds
// on a questionnaire code while editing it. An active lock blocks edits and
// deletion by everybody else until it is released or expires.
package locks

import "time"

// Lock is one lock row. A lock is active while it is not finished and its
// start time lies within the configured TTL.
type Lock struct {
	ID         int64     `json:"id"`
	Code       string    `json:"questionnaire_code"`
	UserID     string    `json:"user_id"`
	OwnerName  string    `json:"owner_name"`
	StartTS    time.Time `json:"start_ts"`
	IsFinished bool      `json:"is_finished"`
}

// ExpiresAt returns the moment the lock stops being active unless refreshed.
func (l *Lock) ExpiresAt(ttl time.Duration) time.Time {
	return l.StartTS.Add(ttl)
}

// Status is the JSON view of a code's lock state.
type Status struct {
	Code      string     `json:"questionnaire_code"`
	IsBlocked bool       `json:"is_blocked"`
	IsOwn     bool       `json:"is_own"`
	Lock      *Lock      `json:"lock,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
