package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/qcat/internal/apperror"
	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/permissions"
)

// unreadKeyPrefix namespaces the cached unread counts in Redis.
const unreadKeyPrefix = "notifications:unread:"

// FactsSource loads the permission facts of a user. permissions.Service
// satisfies it.
type FactsSource interface {
	Facts(ctx context.Context, userID string) (permissions.Facts, error)
}

// InboxService answers inbox queries for one user at a time.
type InboxService interface {
	List(ctx context.Context, userID string, f Filter) (*Page, error)
	Pending(ctx context.Context, userID string) ([]InboxItem, error)
	IsPending(ctx context.Context, userID string, logID int64) (bool, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID string, logID int64, read bool) error
	MarkDeleted(ctx context.Context, userID string, logID int64) error
	MarkAllRead(ctx context.Context, userID string) error
	QuestionnaireLogs(ctx context.Context, userID, code string) ([]InboxItem, error)

	// InvalidateUnread drops cached counts, e.g. after new logs reached
	// these users.
	InvalidateUnread(ctx context.Context, userIDs ...string)
}

// inboxService implements InboxService.
type inboxService struct {
	repo     InboxRepository
	facts    FactsSource
	rdb      *redis.Client
	cacheTTL time.Duration
}

// NewInboxService creates an inbox service. rdb may be nil, which disables
// the unread count cache.
func NewInboxService(repo InboxRepository, facts FactsSource, rdb *redis.Client, cacheTTL time.Duration) InboxService {
	return &inboxService{repo: repo, facts: facts, rdb: rdb, cacheTTL: cacheTTL}
}

// viewer builds the query subject for userID.
func (s *inboxService) viewer(ctx context.Context, userID string) (Viewer, error) {
	facts, err := s.facts.Facts(ctx, userID)
	if err != nil {
		return Viewer{}, err
	}
	return Viewer{UserID: userID, Statuses: permissions.GlobalStatuses(facts)}, nil
}

func (s *inboxService) List(ctx context.Context, userID string, f Filter) (*Page, error) {
	v, err := s.viewer(ctx, userID)
	if err != nil {
		return nil, err
	}
	f = f.normalize()

	items, total, err := s.repo.List(ctx, v, f)
	if err != nil {
		return nil, database.StoreError(err)
	}

	if f.OnlyTodo {
		for i := range items {
			items[i].IsTodo = true
		}
	} else if len(items) > 0 {
		ids := make([]int64, len(items))
		for i := range items {
			ids[i] = items[i].ID
		}
		todo, err := s.repo.TodoIDs(ctx, v, ids)
		if err != nil {
			return nil, database.StoreError(err)
		}
		for i := range items {
			items[i].IsTodo = todo[items[i].ID]
		}
	}

	return &Page{Items: items, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

func (s *inboxService) Pending(ctx context.Context, userID string) ([]InboxItem, error) {
	v, err := s.viewer(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.Pending(ctx, v)
	if err != nil {
		return nil, database.StoreError(err)
	}
	return items, nil
}

func (s *inboxService) IsPending(ctx context.Context, userID string, logID int64) (bool, error) {
	v, err := s.viewer(ctx, userID)
	if err != nil {
		return false, err
	}
	ok, err := s.repo.IsPending(ctx, v, logID)
	if err != nil {
		return false, database.StoreError(err)
	}
	return ok, nil
}

func (s *inboxService) UnreadCount(ctx context.Context, userID string) (int, error) {
	key := unreadKeyPrefix + userID
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, key).Result()
		switch {
		case err == nil:
			if n, convErr := strconv.Atoi(cached); convErr == nil {
				return n, nil
			}
		case !errors.Is(err, redis.Nil):
			slog.Warn("reading unread count cache", slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	v, err := s.viewer(ctx, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.CountUnread(ctx, v)
	if err != nil {
		return 0, database.StoreError(err)
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, key, n, s.cacheTTL).Err(); err != nil {
			slog.Warn("writing unread count cache", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
	return n, nil
}

// requireAccess fails with not found unless the user may see the log.
func (s *inboxService) requireAccess(ctx context.Context, userID string, logID int64) error {
	v, err := s.viewer(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.repo.Accessible(ctx, v, logID)
	if err != nil {
		return database.StoreError(err)
	}
	if !ok {
		return apperror.NewNotFound("notification not found")
	}
	return nil
}

func (s *inboxService) MarkRead(ctx context.Context, userID string, logID int64, read bool) error {
	if err := s.requireAccess(ctx, userID, logID); err != nil {
		return err
	}
	if err := s.repo.SetRead(ctx, userID, logID, read); err != nil {
		return database.StoreError(err)
	}
	s.InvalidateUnread(ctx, userID)
	return nil
}

func (s *inboxService) MarkDeleted(ctx context.Context, userID string, logID int64) error {
	if err := s.requireAccess(ctx, userID, logID); err != nil {
		return err
	}
	if err := s.repo.SetDeleted(ctx, userID, logID); err != nil {
		return database.StoreError(err)
	}
	s.InvalidateUnread(ctx, userID)
	return nil
}

func (s *inboxService) MarkAllRead(ctx context.Context, userID string) error {
	v, err := s.viewer(ctx, userID)
	if err != nil {
		return err
	}
	n, err := s.repo.MarkAllRead(ctx, v)
	if err != nil {
		return database.StoreError(err)
	}
	slog.Debug("marked all notifications read", slog.String("user_id", userID), slog.Int64("count", n))
	s.InvalidateUnread(ctx, userID)
	return nil
}

func (s *inboxService) QuestionnaireLogs(ctx context.Context, userID, code string) ([]InboxItem, error) {
	if code == "" {
		return nil, apperror.NewValidation("questionnaire code is required")
	}
	page, err := s.List(ctx, userID, Filter{Questionnaire: code, IncludeRead: true, PerPage: 100})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (s *inboxService) InvalidateUnread(ctx context.Context, userIDs ...string) {
	if s.rdb == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = unreadKeyPrefix + id
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("invalidating unread counts", slog.Int("users", len(keys)), slog.Any("error", fmt.Errorf("redis del: %w", err)))
	}
}
