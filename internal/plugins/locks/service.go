package locks

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/database"
)

// LockService manages editorial locks. The Tx variants run inside a
// caller's transaction so a check and the mutation it guards commit together.
type LockService interface {
	// Acquire claims code for userID, refreshing an existing own lock.
	// Fails with a locked error naming the owner if another user holds it.
	Acquire(ctx context.Context, userID, code string) (*Lock, error)
	AcquireTx(ctx context.Context, tx *sql.Tx, userID, code string) (*Lock, error)

	// Release finishes every lock row of (userID, code). Releasing a code
	// the user never locked is a no-op.
	Release(ctx context.Context, userID, code string) error
	ReleaseTx(ctx context.Context, q database.Querier, userID, code string) error

	// IsBlocked reports whether code has an active lock and returns it.
	IsBlocked(ctx context.Context, code string) (bool, *Lock, error)
	IsBlockedTx(ctx context.Context, tx *sql.Tx, code string) (bool, *Lock, error)

	// ActiveLock returns the newest active lock of code, or nil.
	ActiveLock(ctx context.Context, code string) (*Lock, error)

	// LockedByOther reports whether a user other than userID holds code.
	LockedByOther(ctx context.Context, code, userID string) (bool, error)

	// RequireFreeTx fails with a locked error when a user other than userID
	// holds an active lock on code. Row locks are held until tx ends.
	RequireFreeTx(ctx context.Context, tx *sql.Tx, code, userID string) error

	// Status describes the lock state of code as seen by userID.
	Status(ctx context.Context, userID, code string) (*Status, error)

	// Sweep finishes every lock older than the TTL.
	Sweep(ctx context.Context) (int64, error)

	TTL() time.Duration
}

// lockService implements LockService.
type lockService struct {
	repo LockRepository
	db   database.Querier
	txs  database.Transactor
	ttl  time.Duration
	now  func() time.Time
}

// NewLockService creates a lock service. db serves the non-transactional
// reads; txs opens the transactions of Acquire and IsBlocked.
func NewLockService(repo LockRepository, db database.Querier, txs database.Transactor, ttl time.Duration) LockService {
	return &lockService{
		repo: repo,
		db:   db,
		txs:  txs,
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *lockService) TTL() time.Duration {
	return s.ttl
}

// cutoff is the oldest start time an active lock may have.
func (s *lockService) cutoff() time.Time {
	return s.now().Add(-s.ttl)
}

func (s *lockService) Acquire(ctx context.Context, userID, code string) (*Lock, error) {
	var lock *Lock
	err := s.txs.WithTx(ctx, nil, func(tx *sql.Tx) error {
		var err error
		lock, err = s.AcquireTx(ctx, tx, userID, code)
		return err
	})
	if err != nil {
		return nil, database.StoreError(err)
	}
	return lock, nil
}

func (s *lockService) AcquireTx(ctx context.Context, tx *sql.Tx, userID, code string) (*Lock, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}

	active, err := s.repo.ActiveForUpdate(ctx, tx, code, s.cutoff())
	if err != nil {
		return nil, err
	}

	var own *Lock
	for i := range active {
		if active[i].UserID != userID {
			return nil, s.lockedError(ctx, tx, active[i].UserID)
		}
		if own == nil {
			own = &active[i]
		}
	}

	start := s.now()
	if own != nil {
		if err := s.repo.Refresh(ctx, tx, own.ID, start); err != nil {
			return nil, err
		}
		own.StartTS = start
		return own, nil
	}

	lock := &Lock{Code: code, UserID: userID, StartTS: start}
	if err := s.repo.Insert(ctx, tx, lock); err != nil {
		return nil, err
	}
	slog.Debug("lock acquired",
		slog.String("code", code),
		slog.String("user_id", userID),
	)
	return lock, nil
}

func (s *lockService) Release(ctx context.Context, userID, code string) error {
	return s.ReleaseTx(ctx, s.db, userID, code)
}

func (s *lockService) ReleaseTx(ctx context.Context, q database.Querier, userID, code string) error {
	n, err := s.repo.FinishForUser(ctx, q, userID, code)
	if err != nil {
		return database.StoreError(err)
	}
	if n > 0 {
		slog.Debug("lock released",
			slog.String("code", code),
			slog.String("user_id", userID),
		)
	}
	return nil
}

func (s *lockService) IsBlocked(ctx context.Context, code string) (bool, *Lock, error) {
	lock, err := s.ActiveLock(ctx, code)
	if err != nil {
		return false, nil, err
	}
	return lock != nil, lock, nil
}

func (s *lockService) IsBlockedTx(ctx context.Context, tx *sql.Tx, code string) (bool, *Lock, error) {
	active, err := s.repo.ActiveForUpdate(ctx, tx, code, s.cutoff())
	if err != nil {
		return false, nil, database.StoreError(err)
	}
	if len(active) == 0 {
		return false, nil, nil
	}
	return true, &active[0], nil
}

func (s *lockService) ActiveLock(ctx context.Context, code string) (*Lock, error) {
	active, err := s.repo.Active(ctx, s.db, code, s.cutoff())
	if err != nil {
		return nil, database.StoreError(err)
	}
	if len(active) == 0 {
		return nil, nil
	}
	return &active[0], nil
}

func (s *lockService) LockedByOther(ctx context.Context, code, userID string) (bool, error) {
	active, err := s.repo.Active(ctx, s.db, code, s.cutoff())
	if err != nil {
		return false, database.StoreError(err)
	}
	for _, l := range active {
		if l.UserID != userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *lockService) RequireFreeTx(ctx context.Context, tx *sql.Tx, code, userID string) error {
	active, err := s.repo.ActiveForUpdate(ctx, tx, code, s.cutoff())
	if err != nil {
		return database.StoreError(err)
	}
	for _, l := range active {
		if l.UserID != userID {
			return s.lockedError(ctx, tx, l.UserID)
		}
	}
	return nil
}

func (s *lockService) Status(ctx context.Context, userID, code string) (*Status, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	lock, err := s.ActiveLock(ctx, code)
	if err != nil {
		return nil, err
	}
	st := &Status{Code: code, Lock: lock}
	if lock != nil {
		exp := lock.ExpiresAt(s.ttl)
		st.IsOwn = lock.UserID == userID
		st.IsBlocked = !st.IsOwn
		st.ExpiresAt = &exp
	}
	return st, nil
}

func (s *lockService) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.FinishExpired(ctx, s.db, s.cutoff())
	if err != nil {
		return 0, database.StoreError(err)
	}
	if n > 0 {
		slog.Info("expired editorial locks", slog.Int64("count", n))
	}
	return n, nil
}

// lockedError builds the locked error for ownerID with the owner's name.
func (s *lockService) lockedError(ctx context.Context, q database.Querier, ownerID string) error {
	name, err := s.repo.OwnerName(ctx, q, ownerID)
	if err != nil {
		return err
	}
	return apperror.NewLocked(ownerID, name)
}

// validateCode rejects codes that cannot name a questionnaire.
func validateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return apperror.NewValidation("questionnaire code is required")
	}
	if len(code) > 64 {
		return apperror.NewValidation(fmt.Sprintf("questionnaire code %q is too long", code))
	}
	return nil
}
