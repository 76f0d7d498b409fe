package locks

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/database"
)

// --- Mocks ---

// mockLockRepo implements LockRepository for testing.
type mockLockRepo struct {
	activeForUpdateFn func(ctx context.Context, code string, since time.Time) ([]Lock, error)
	activeFn          func(ctx context.Context, code string, since time.Time) ([]Lock, error)
	insertFn          func(ctx context.Context, lock *Lock) error
	refreshFn         func(ctx context.Context, id int64, start time.Time) error
	finishForUserFn   func(ctx context.Context, userID, code string) (int64, error)
	finishExpiredFn   func(ctx context.Context, cutoff time.Time) (int64, error)
	ownerNameFn       func(ctx context.Context, userID string) (string, error)
}

func (m *mockLockRepo) ActiveForUpdate(ctx context.Context, _ *sql.Tx, code string, since time.Time) ([]Lock, error) {
	if m.activeForUpdateFn != nil {
		return m.activeForUpdateFn(ctx, code, since)
	}
	return nil, nil
}

func (m *mockLockRepo) Active(ctx context.Context, _ database.Querier, code string, since time.Time) ([]Lock, error) {
	if m.activeFn != nil {
		return m.activeFn(ctx, code, since)
	}
	return nil, nil
}

func (m *mockLockRepo) Insert(ctx context.Context, _ database.Querier, lock *Lock) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, lock)
	}
	lock.ID = 1
	return nil
}

func (m *mockLockRepo) Refresh(ctx context.Context, _ database.Querier, id int64, start time.Time) error {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, id, start)
	}
	return nil
}

func (m *mockLockRepo) FinishForUser(ctx context.Context, _ database.Querier, userID, code string) (int64, error) {
	if m.finishForUserFn != nil {
		return m.finishForUserFn(ctx, userID, code)
	}
	return 0, nil
}

func (m *mockLockRepo) FinishExpired(ctx context.Context, _ database.Querier, cutoff time.Time) (int64, error) {
	if m.finishExpiredFn != nil {
		return m.finishExpiredFn(ctx, cutoff)
	}
	return 0, nil
}

func (m *mockLockRepo) OwnerName(ctx context.Context, _ database.Querier, userID string) (string, error) {
	if m.ownerNameFn != nil {
		return m.ownerNameFn(ctx, userID)
	}
	return "", nil
}

// fakeTxs runs transaction bodies without a database.
type fakeTxs struct {
	calls int
}

func (f *fakeTxs) WithTx(_ context.Context, _ *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	f.calls++
	return fn(nil)
}

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestLockService(repo *mockLockRepo) *lockService {
	svc := NewLockService(repo, nil, &fakeTxs{}, 15*time.Minute).(*lockService)
	svc.now = func() time.Time { return testNow }
	return svc
}

// assertAppError checks that err is an AppError of the given type.
func assertAppError(t *testing.T, err error, wantType string) {
	t.Helper()
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Type != wantType {
		t.Errorf("expected error type %q, got %q (%s)", wantType, appErr.Type, appErr.Message)
	}
}

// --- Acquire ---

func TestAcquire_InsertsWhenFree(t *testing.T) {
	var inserted *Lock
	var since time.Time
	repo := &mockLockRepo{
		activeForUpdateFn: func(_ context.Context, _ string, s time.Time) ([]Lock, error) {
			since = s
			return nil, nil
		},
		insertFn: func(_ context.Context, lock *Lock) error {
			lock.ID = 7
			inserted = lock
			return nil
		},
	}
	svc := newTestLockService(repo)

	lock, err := svc.Acquire(context.Background(), "u1", "technologies_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted == nil || lock.ID != 7 {
		t.Fatalf("expected a new lock row, got %+v", lock)
	}
	if !lock.StartTS.Equal(testNow) {
		t.Errorf("expected start %v, got %v", testNow, lock.StartTS)
	}
	if want := testNow.Add(-15 * time.Minute); !since.Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, since)
	}
	if svc.txs.(*fakeTxs).calls != 1 {
		t.Error("expected Acquire to run in a transaction")
	}
}

func TestAcquire_RefreshesOwnLock(t *testing.T) {
	var refreshed int64
	repo := &mockLockRepo{
		activeForUpdateFn: func(context.Context, string, time.Time) ([]Lock, error) {
			return []Lock{{ID: 3, Code: "c", UserID: "u1", StartTS: testNow.Add(-10 * time.Minute)}}, nil
		},
		refreshFn: func(_ context.Context, id int64, start time.Time) error {
			refreshed = id
			if !start.Equal(testNow) {
				t.Errorf("expected refresh to now, got %v", start)
			}
			return nil
		},
		insertFn: func(context.Context, *Lock) error {
			t.Error("own lock must be refreshed, not duplicated")
			return nil
		},
	}
	svc := newTestLockService(repo)

	lock, err := svc.Acquire(context.Background(), "u1", "c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshed != 3 || !lock.StartTS.Equal(testNow) {
		t.Errorf("expected lock 3 refreshed, got %+v", lock)
	}
}

func TestAcquire_HeldByOther(t *testing.T) {
	repo := &mockLockRepo{
		activeForUpdateFn: func(context.Context, string, time.Time) ([]Lock, error) {
			return []Lock{{ID: 3, Code: "c", UserID: "u2", StartTS: testNow}}, nil
		},
		ownerNameFn: func(_ context.Context, userID string) (string, error) {
			return "Bea", nil
		},
	}
	svc := newTestLockService(repo)

	_, err := svc.Acquire(context.Background(), "u1", "c")
	assertAppError(t, err, apperror.TypeLocked)

	var appErr *apperror.AppError
	errors.As(err, &appErr)
	if appErr.Owner == nil || appErr.Owner.UserID != "u2" || appErr.Owner.DisplayName != "Bea" {
		t.Errorf("expected owner u2/Bea, got %+v", appErr.Owner)
	}
}

func TestAcquire_EmptyCode(t *testing.T) {
	svc := newTestLockService(&mockLockRepo{})
	_, err := svc.Acquire(context.Background(), "u1", "  ")
	assertAppError(t, err, apperror.TypeValidationFailed)
}

func TestAcquire_DeadlockIsTransient(t *testing.T) {
	repo := &mockLockRepo{
		activeForUpdateFn: func(context.Context, string, time.Time) ([]Lock, error) {
			return nil, &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}
		},
	}
	svc := newTestLockService(repo)

	_, err := svc.Acquire(context.Background(), "u1", "c")
	assertAppError(t, err, apperror.TypeTransient)
}

// --- Release / Sweep ---

func TestRelease_FinishesUserRows(t *testing.T) {
	var gotUser, gotCode string
	repo := &mockLockRepo{
		finishForUserFn: func(_ context.Context, userID, code string) (int64, error) {
			gotUser, gotCode = userID, code
			return 2, nil
		},
	}
	svc := newTestLockService(repo)

	if err := svc.Release(context.Background(), "u1", "c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "u1" || gotCode != "c" {
		t.Errorf("expected (u1, c), got (%s, %s)", gotUser, gotCode)
	}
}

func TestSweep_UsesTTLCutoff(t *testing.T) {
	var cutoff time.Time
	repo := &mockLockRepo{
		finishExpiredFn: func(_ context.Context, c time.Time) (int64, error) {
			cutoff = c
			return 4, nil
		},
	}
	svc := newTestLockService(repo)

	n, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 expired, got %d", n)
	}
	if want := testNow.Add(-15 * time.Minute); !cutoff.Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, cutoff)
	}
}

// --- Queries ---

func TestLockedByOther(t *testing.T) {
	repo := &mockLockRepo{
		activeFn: func(context.Context, string, time.Time) ([]Lock, error) {
			return []Lock{{ID: 1, UserID: "u1"}}, nil
		},
	}
	svc := newTestLockService(repo)

	other, err := svc.LockedByOther(context.Background(), "c", "u2")
	if err != nil || !other {
		t.Errorf("expected u2 to be blocked, got %v, %v", other, err)
	}
	own, err := svc.LockedByOther(context.Background(), "c", "u1")
	if err != nil || own {
		t.Errorf("expected owner not to be blocked, got %v, %v", own, err)
	}
}

func TestRequireFreeTx(t *testing.T) {
	repo := &mockLockRepo{
		activeForUpdateFn: func(context.Context, string, time.Time) ([]Lock, error) {
			return []Lock{{ID: 1, UserID: "u1"}}, nil
		},
	}
	svc := newTestLockService(repo)

	if err := svc.RequireFreeTx(context.Background(), nil, "c", "u1"); err != nil {
		t.Errorf("owner should pass, got %v", err)
	}
	assertAppError(t, svc.RequireFreeTx(context.Background(), nil, "c", "u2"), apperror.TypeLocked)
}

func TestIsBlocked(t *testing.T) {
	svc := newTestLockService(&mockLockRepo{})
	blocked, lock, err := svc.IsBlocked(context.Background(), "c")
	if err != nil || blocked || lock != nil {
		t.Errorf("expected free code, got %v %+v %v", blocked, lock, err)
	}
}

func TestStatus(t *testing.T) {
	repo := &mockLockRepo{
		activeFn: func(context.Context, string, time.Time) ([]Lock, error) {
			return []Lock{{ID: 1, UserID: "u1", OwnerName: "Ana", StartTS: testNow}}, nil
		},
	}
	svc := newTestLockService(repo)

	st, err := svc.Status(context.Background(), "u2", "c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.IsBlocked || st.IsOwn {
		t.Errorf("expected blocked for another user, got %+v", st)
	}
	if st.ExpiresAt == nil || !st.ExpiresAt.Equal(testNow.Add(15*time.Minute)) {
		t.Errorf("unexpected expiry %v", st.ExpiresAt)
	}

	own, _ := svc.Status(context.Background(), "u1", "c")
	if own.IsBlocked || !own.IsOwn {
		t.Errorf("expected own lock, got %+v", own)
	}
}

func TestRunSweeper_DisabledReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		RunSweeper(context.Background(), newTestLockService(&mockLockRepo{}), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper with zero interval should return immediately")
	}
}
