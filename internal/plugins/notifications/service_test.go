package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/plugins/permissions"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
)

// --- Mocks ---

// mockInboxRepo implements InboxRepository for testing.
type mockInboxRepo struct {
	listFn        func(ctx context.Context, v Viewer, f Filter) ([]InboxItem, int, error)
	todoIDsFn     func(ctx context.Context, v Viewer, ids []int64) (map[int64]bool, error)
	pendingFn     func(ctx context.Context, v Viewer) ([]InboxItem, error)
	isPendingFn   func(ctx context.Context, v Viewer, logID int64) (bool, error)
	countUnreadFn func(ctx context.Context, v Viewer) (int, error)
	accessibleFn  func(ctx context.Context, v Viewer, logID int64) (bool, error)
	setReadFn     func(ctx context.Context, userID string, logID int64, read bool) error
	setDeletedFn  func(ctx context.Context, userID string, logID int64) error
	markAllReadFn func(ctx context.Context, v Viewer) (int64, error)
}

func (m *mockInboxRepo) List(ctx context.Context, v Viewer, f Filter) ([]InboxItem, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, v, f)
	}
	return nil, 0, nil
}

func (m *mockInboxRepo) TodoIDs(ctx context.Context, v Viewer, ids []int64) (map[int64]bool, error) {
	if m.todoIDsFn != nil {
		return m.todoIDsFn(ctx, v, ids)
	}
	return map[int64]bool{}, nil
}

func (m *mockInboxRepo) Pending(ctx context.Context, v Viewer) ([]InboxItem, error) {
	if m.pendingFn != nil {
		return m.pendingFn(ctx, v)
	}
	return nil, nil
}

func (m *mockInboxRepo) IsPending(ctx context.Context, v Viewer, logID int64) (bool, error) {
	if m.isPendingFn != nil {
		return m.isPendingFn(ctx, v, logID)
	}
	return false, nil
}

func (m *mockInboxRepo) CountUnread(ctx context.Context, v Viewer) (int, error) {
	if m.countUnreadFn != nil {
		return m.countUnreadFn(ctx, v)
	}
	return 0, nil
}

func (m *mockInboxRepo) Accessible(ctx context.Context, v Viewer, logID int64) (bool, error) {
	if m.accessibleFn != nil {
		return m.accessibleFn(ctx, v, logID)
	}
	return true, nil
}

func (m *mockInboxRepo) SetRead(ctx context.Context, userID string, logID int64, read bool) error {
	if m.setReadFn != nil {
		return m.setReadFn(ctx, userID, logID, read)
	}
	return nil
}

func (m *mockInboxRepo) SetDeleted(ctx context.Context, userID string, logID int64) error {
	if m.setDeletedFn != nil {
		return m.setDeletedFn(ctx, userID, logID)
	}
	return nil
}

func (m *mockInboxRepo) MarkAllRead(ctx context.Context, v Viewer) (int64, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, v)
	}
	return 0, nil
}

// mockFacts implements FactsSource for testing.
type mockFacts struct {
	factsFn func(ctx context.Context, userID string) (permissions.Facts, error)
}

func (m *mockFacts) Facts(ctx context.Context, userID string) (permissions.Facts, error) {
	if m.factsFn != nil {
		return m.factsFn(ctx, userID)
	}
	return permissions.Facts{UserID: userID}, nil
}

func newTestInboxService(t *testing.T, repo *mockInboxRepo, facts *mockFacts) (InboxService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	if facts == nil {
		facts = &mockFacts{}
	}
	return NewInboxService(repo, facts, rdb, 30*time.Second), mr
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

// --- List ---

func TestList_ViewerCarriesGlobalStatuses(t *testing.T) {
	var got Viewer
	repo := &mockInboxRepo{
		listFn: func(_ context.Context, v Viewer, _ Filter) ([]InboxItem, int, error) {
			got = v
			return nil, 0, nil
		},
	}
	facts := &mockFacts{factsFn: func(_ context.Context, userID string) (permissions.Facts, error) {
		return permissions.Facts{UserID: userID, Global: []permissions.Permission{permissions.Review}}, nil
	}}
	svc, _ := newTestInboxService(t, repo, facts)

	if _, err := svc.List(context.Background(), "rev", Filter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != "rev" || len(got.Statuses) != 1 || got.Statuses[0] != questionnaires.StatusSubmitted {
		t.Errorf("unexpected viewer %+v", got)
	}
}

func TestList_MarksTodoItems(t *testing.T) {
	repo := &mockInboxRepo{
		listFn: func(_ context.Context, _ Viewer, f Filter) ([]InboxItem, int, error) {
			if f.Page != 1 || f.PerPage != 20 {
				t.Errorf("expected normalized filter, got %+v", f)
			}
			return []InboxItem{{Log: Log{ID: 1}}, {Log: Log{ID: 2}}}, 2, nil
		},
		todoIDsFn: func(_ context.Context, _ Viewer, ids []int64) (map[int64]bool, error) {
			if len(ids) != 2 {
				t.Errorf("expected both page ids, got %v", ids)
			}
			return map[int64]bool{2: true}, nil
		},
	}
	svc, _ := newTestInboxService(t, repo, nil)

	page, err := svc.List(context.Background(), "u1", Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 2 || page.Items[0].IsTodo || !page.Items[1].IsTodo {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestList_OnlyTodoSkipsLookup(t *testing.T) {
	repo := &mockInboxRepo{
		listFn: func(context.Context, Viewer, Filter) ([]InboxItem, int, error) {
			return []InboxItem{{Log: Log{ID: 9}}}, 1, nil
		},
		todoIDsFn: func(context.Context, Viewer, []int64) (map[int64]bool, error) {
			t.Error("todo listing needs no second query")
			return nil, nil
		},
	}
	svc, _ := newTestInboxService(t, repo, nil)

	page, err := svc.List(context.Background(), "u1", Filter{OnlyTodo: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !page.Items[0].IsTodo {
		t.Error("expected todo items to be flagged")
	}
}

func TestList_UnknownUser(t *testing.T) {
	facts := &mockFacts{factsFn: func(context.Context, string) (permissions.Facts, error) {
		return permissions.Facts{}, apperror.NewNotFound("user not found")
	}}
	svc, _ := newTestInboxService(t, &mockInboxRepo{}, facts)

	_, err := svc.List(context.Background(), "ghost", Filter{})
	assertAppError(t, err, apperror.TypeNotFound)
}

// --- Unread count ---

func TestUnreadCount_Cached(t *testing.T) {
	calls := 0
	repo := &mockInboxRepo{
		countUnreadFn: func(context.Context, Viewer) (int, error) {
			calls++
			return 4, nil
		},
	}
	svc, mr := newTestInboxService(t, repo, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		n, err := svc.UnreadCount(ctx, "u1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 4 {
			t.Errorf("expected 4, got %d", n)
		}
	}
	if calls != 1 {
		t.Errorf("expected one store query, got %d", calls)
	}
	if ttl := mr.TTL(unreadKeyPrefix + "u1"); ttl != 30*time.Second {
		t.Errorf("expected 30s TTL, got %v", ttl)
	}

	mr.FastForward(31 * time.Second)
	if _, err := svc.UnreadCount(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected expired cache to be refilled, got %d queries", calls)
	}
}

func TestMarkRead_InvalidatesCache(t *testing.T) {
	var read bool
	repo := &mockInboxRepo{
		countUnreadFn: func(context.Context, Viewer) (int, error) { return 1, nil },
		setReadFn: func(_ context.Context, _ string, logID int64, r bool) error {
			read = r
			return nil
		},
	}
	svc, mr := newTestInboxService(t, repo, nil)
	ctx := context.Background()

	if _, err := svc.UnreadCount(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mr.Exists(unreadKeyPrefix + "u1") {
		t.Fatal("expected cached count")
	}

	if err := svc.MarkRead(ctx, "u1", 5, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !read {
		t.Error("expected read mark to be stored")
	}
	if mr.Exists(unreadKeyPrefix + "u1") {
		t.Error("expected cache to be invalidated")
	}
}

func TestMarkRead_NotAccessible(t *testing.T) {
	repo := &mockInboxRepo{
		accessibleFn: func(context.Context, Viewer, int64) (bool, error) { return false, nil },
		setReadFn: func(context.Context, string, int64, bool) error {
			t.Error("inaccessible logs must not be marked")
			return nil
		},
	}
	svc, _ := newTestInboxService(t, repo, nil)

	assertAppError(t, svc.MarkRead(context.Background(), "u1", 5, true), apperror.TypeNotFound)
}

func TestMarkDeleted(t *testing.T) {
	var deleted int64
	repo := &mockInboxRepo{
		setDeletedFn: func(_ context.Context, _ string, logID int64) error {
			deleted = logID
			return nil
		},
	}
	svc, _ := newTestInboxService(t, repo, nil)

	if err := svc.MarkDeleted(context.Background(), "u1", 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 8 {
		t.Errorf("expected log 8 deleted, got %d", deleted)
	}
}

func TestMarkAllRead_InvalidatesCache(t *testing.T) {
	repo := &mockInboxRepo{
		countUnreadFn: func(context.Context, Viewer) (int, error) { return 3, nil },
		markAllReadFn: func(context.Context, Viewer) (int64, error) { return 3, nil },
	}
	svc, mr := newTestInboxService(t, repo, nil)
	ctx := context.Background()

	_, _ = svc.UnreadCount(ctx, "u1")
	if err := svc.MarkAllRead(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mr.Exists(unreadKeyPrefix + "u1") {
		t.Error("expected cache to be invalidated")
	}
}

func TestQuestionnaireLogs(t *testing.T) {
	repo := &mockInboxRepo{
		listFn: func(_ context.Context, _ Viewer, f Filter) ([]InboxItem, int, error) {
			if f.Questionnaire != "technologies_1" || !f.IncludeRead {
				t.Errorf("unexpected filter %+v", f)
			}
			return []InboxItem{{Log: Log{ID: 1}}}, 1, nil
		},
	}
	svc, _ := newTestInboxService(t, repo, nil)

	items, err := svc.QuestionnaireLogs(context.Background(), "u1", "technologies_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected one item, got %d", len(items))
	}

	_, err = svc.QuestionnaireLogs(context.Background(), "u1", "")
	assertAppError(t, err, apperror.TypeValidationFailed)
}

func TestInvalidateUnread_NilRedis(t *testing.T) {
	svc := NewInboxService(&mockInboxRepo{}, &mockFacts{}, nil, time.Second)
	svc.InvalidateUnread(context.Background(), "u1")

	n, err := svc.UnreadCount(context.Background(), "u1")
	if err != nil || n != 0 {
		t.Errorf("expected uncached count, got %d, %v", n, err)
	}
}
