package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taskmesh/internal/domain"
)

var notificationColumns = []string{"id", "user_id", "content", "read", "dedupe_key", "created_at", "updated_at"}

// NotificationRepository handles database operations for notifications.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Content, &n.Read, &n.DedupeKey, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	return &n, nil
}

// Create inserts n unless a notification with the same dedupe key exists.
// It reports whether a row was inserted and fills in ID and timestamps.
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) (bool, error) {
	query, args, err := psql.
		Insert("notifications").
		Columns("user_id", "content", "read", "dedupe_key", "created_at", "updated_at").
		Values(n.UserID, n.Content, n.Read, n.DedupeKey, n.CreatedAt, n.CreatedAt).
		Suffix("ON CONFLICT (dedupe_key) DO NOTHING RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build Create query for notification: %w", err)
	}

	err = r.pool.QueryRow(ctx, query, args...).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create notification: %w", err)
	}
	return true, nil
}

// GetByID retrieves a notification owned by userID.
func (r *NotificationRepository) GetByID(ctx context.Context, userID, notificationID string) (*domain.Notification, error) {
	query, args, err := psql.
		Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"id": notificationID, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for notification: %w", err)
	}

	return scanNotification(r.pool.QueryRow(ctx, query, args...))
}

// ListByUser returns one page of the user's notifications, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, page, size int) (*domain.NotificationPage, error) {
	countQuery, countArgs, err := psql.
		Select("COUNT(*)").
		From("notifications").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByUser count query: %w", err)
	}

	result := &domain.NotificationPage{
		Notifications: []*domain.Notification{},
		Page:          page,
		Size:          size,
	}
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	query, args, err := psql.
		Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(size)).
		Offset(uint64((page - 1) * size)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByUser query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result.Notifications = append(result.Notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// CountUnread returns the number of unread notifications of a user.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("notifications").
		Where(sq.Eq{"user_id": userID, "read": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build CountUnread query: %w", err)
	}

	var count int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks one notification of userID as read. Marking an already read
// notification changes nothing; a notification owned by someone else is not
// found.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	query, args, err := psql.
		Update("notifications").
		Set("read", true).
		Set("updated_at", sq.Expr("CASE WHEN read THEN updated_at ELSE NOW() END")).
		Where(sq.Eq{"id": notificationID, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build MarkRead query for notification %s: %w", notificationID, err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of userID as read and returns
// how many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	query, args, err := psql.
		Update("notifications").
		Set("read", true).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"user_id": userID, "read": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build MarkAllRead query: %w", err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}
