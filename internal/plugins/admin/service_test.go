package admin

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/plugins/dispatcher"
	"github.com/keyxmakerx/qcat/internal/plugins/smtp"
)

// --- Mocks ---

type mockSweeper struct {
	sweepFn func(ctx context.Context) (int64, error)
}

func (m *mockSweeper) Sweep(ctx context.Context) (int64, error) {
	if m.sweepFn != nil {
		return m.sweepFn(ctx)
	}
	return 0, nil
}

type mockDrainer struct {
	drainFn func(ctx context.Context) (dispatcher.Stats, error)
}

func (m *mockDrainer) Drain(ctx context.Context) (dispatcher.Stats, error) {
	if m.drainFn != nil {
		return m.drainFn(ctx)
	}
	return dispatcher.Stats{}, nil
}

type mockSeeder struct {
	setDefaultsFn func(ctx context.Context) (int64, error)
}

func (m *mockSeeder) SetDefaults(ctx context.Context) (int64, error) {
	if m.setDefaultsFn != nil {
		return m.setDefaultsFn(ctx)
	}
	return 0, nil
}

type mockChecker struct {
	err error
}

func (m *mockChecker) TestConnection(ctx context.Context) error { return m.err }

func newTestService(s *mockSweeper, d *mockDrainer, p *mockSeeder, c *mockChecker) OpsService {
	if s == nil {
		s = &mockSweeper{}
	}
	if d == nil {
		d = &mockDrainer{}
	}
	if p == nil {
		p = &mockSeeder{}
	}
	if c == nil {
		c = &mockChecker{}
	}
	return NewOpsService(s, d, p, c)
}

func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

// --- Tests ---

func TestSweepLocks(t *testing.T) {
	svc := newTestService(&mockSweeper{sweepFn: func(ctx context.Context) (int64, error) {
		return 4, nil
	}}, nil, nil, nil)

	n, err := svc.SweepLocks(context.Background(), "staff-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 expired locks, got %d", n)
	}
}

func TestSweepLocks_StoreDown(t *testing.T) {
	svc := newTestService(&mockSweeper{sweepFn: func(ctx context.Context) (int64, error) {
		return 0, mysql.ErrInvalidConn
	}}, nil, nil, nil)

	_, err := svc.SweepLocks(context.Background(), "staff-1")
	assertAppError(t, err, http.StatusServiceUnavailable)
}

func TestDispatch_ReturnsStats(t *testing.T) {
	svc := newTestService(nil, &mockDrainer{drainFn: func(ctx context.Context) (dispatcher.Stats, error) {
		return dispatcher.Stats{Scanned: 2, Processed: 2, Sent: 5}, nil
	}}, nil, nil)

	stats, err := svc.Dispatch(context.Background(), "staff-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Sent != 5 || stats.Processed != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestDispatch_OneAtATime(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	svc := newTestService(nil, &mockDrainer{drainFn: func(ctx context.Context) (dispatcher.Stats, error) {
		close(started)
		<-release
		return dispatcher.Stats{}, nil
	}}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Dispatch(context.Background(), "staff-1")
		done <- err
	}()
	<-started

	_, err := svc.Dispatch(context.Background(), "staff-2")
	assertAppError(t, err, http.StatusConflict)

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}
}

func TestSetMailDefaults(t *testing.T) {
	svc := newTestService(nil, nil, &mockSeeder{setDefaultsFn: func(ctx context.Context) (int64, error) {
		return 12, nil
	}}, nil)

	n, err := svc.SetMailDefaults(context.Background(), "staff-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 12 {
		t.Errorf("expected 12 rows, got %d", n)
	}
}

func TestMailStatus(t *testing.T) {
	ok := newTestService(nil, nil, nil, &mockChecker{}).MailStatus(context.Background())
	if !ok.Reachable || ok.Error != "" {
		t.Errorf("expected reachable transport, got %+v", ok)
	}

	down := newTestService(nil, nil, nil, &mockChecker{err: smtp.ErrUnreachable}).MailStatus(context.Background())
	if down.Reachable {
		t.Error("expected unreachable transport")
	}
	if down.Error != smtp.ErrUnreachable.Error() {
		t.Errorf("expected error text, got %q", down.Error)
	}
}
