package service

import (
	"context"
	"log/slog"

	"github.com/mtlprog/taskmesh/internal/domain"
)

// NotificationRepository is the query surface of the notification store.
type NotificationRepository interface {
	ListByUser(ctx context.Context, userID string, page, size int) (*domain.NotificationPage, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// NotificationService serves a user's inbox. Every operation is scoped to the
// calling user.
type NotificationService struct {
	repo NotificationRepository
}

func NewNotificationService(repo NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

// List returns one page of the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, page, size int) (*domain.NotificationPage, error) {
	page, size = domain.NormalizePage(page, size)
	return s.repo.ListByUser(ctx, userID, page, size)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead marks one notification read. A notification owned by another
// user is reported as not found.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	if err := s.repo.MarkRead(ctx, userID, notificationID); err != nil {
		return err
	}
	slog.Debug("notification marked read", "user_id", userID, "notification_id", notificationID)
	return nil
}

// MarkAllRead marks every unread notification of the user read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	slog.Info("notifications marked read", "user_id", userID, "count", n)
	return n, nil
}
