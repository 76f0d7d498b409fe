// Package admin exposes operator actions to staff users over HTTP: the same
// batch jobs qcatctl runs, for deployments without a scheduler, plus a
// check of the mail transport.
package admin

import (
	"context"
	"log/slog"
	"sync"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/dispatcher"
)

// LockSweeper expires stale locks. locks.LockService satisfies it.
type LockSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Drainer mails unprocessed logs. *dispatcher.Dispatcher satisfies it.
type Drainer interface {
	Drain(ctx context.Context) (dispatcher.Stats, error)
}

// PreferenceSeeder creates missing mail preferences.
// mailprefs.PreferencesService satisfies it.
type PreferenceSeeder interface {
	SetDefaults(ctx context.Context) (int64, error)
}

// MailChecker connects to the mail server without sending.
// smtp.Transport satisfies it.
type MailChecker interface {
	TestConnection(ctx context.Context) error
}

// MailStatus reports whether the mail transport can be reached.
type MailStatus struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// OpsService runs operator actions on behalf of a staff user.
type OpsService interface {
	SweepLocks(ctx context.Context, actorID string) (int64, error)

	// Dispatch drains the log queue once. Only one HTTP-triggered drain
	// runs per process; a second one fails with a conflict.
	Dispatch(ctx context.Context, actorID string) (dispatcher.Stats, error)

	SetMailDefaults(ctx context.Context, actorID string) (int64, error)
	MailStatus(ctx context.Context) MailStatus
}

type opsService struct {
	locks   LockSweeper
	drainer Drainer
	prefs   PreferenceSeeder
	mail    MailChecker

	draining sync.Mutex
}

// NewOpsService creates the operator service.
func NewOpsService(locks LockSweeper, drainer Drainer, prefs PreferenceSeeder, mail MailChecker) OpsService {
	return &opsService{locks: locks, drainer: drainer, prefs: prefs, mail: mail}
}

func (s *opsService) SweepLocks(ctx context.Context, actorID string) (int64, error) {
	n, err := s.locks.Sweep(ctx)
	if err != nil {
		return 0, database.StoreError(err)
	}
	slog.Info("locks swept",
		slog.String("actor_id", actorID),
		slog.Int64("expired", n),
	)
	return n, nil
}

func (s *opsService) Dispatch(ctx context.Context, actorID string) (dispatcher.Stats, error) {
	if !s.draining.TryLock() {
		return dispatcher.Stats{}, apperror.NewConflict("a dispatch is already running")
	}
	defer s.draining.Unlock()

	slog.Info("dispatch requested", slog.String("actor_id", actorID))
	stats, err := s.drainer.Drain(ctx)
	if err != nil {
		return stats, database.StoreError(err)
	}
	return stats, nil
}

func (s *opsService) SetMailDefaults(ctx context.Context, actorID string) (int64, error) {
	n, err := s.prefs.SetDefaults(ctx)
	if err != nil {
		return 0, database.StoreError(err)
	}
	slog.Info("mail preference defaults created",
		slog.String("actor_id", actorID),
		slog.Int64("created", n),
	)
	return n, nil
}

func (s *opsService) MailStatus(ctx context.Context) MailStatus {
	if err := s.mail.TestConnection(ctx); err != nil {
		slog.Warn("mail transport check failed", slog.Any("error", err))
		return MailStatus{Error: err.Error()}
	}
	return MailStatus{Reachable: true}
}
