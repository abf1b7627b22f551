package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/taskmesh/internal/broker"
	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/events"
)

// EventNotificationNew is the frame type pushed to clients for a new
// notification.
const EventNotificationNew = "notification.new"

// NotificationStore persists notifications, reporting false for a duplicate.
type NotificationStore interface {
	Create(ctx context.Context, n *domain.Notification) (bool, error)
}

// Pusher delivers a frame to every live connection of the listed users.
type Pusher interface {
	EmitToUsers(userIDs []string, eventType string, payload any) int
}

// NotificationMessage is the live representation of a notification.
type NotificationMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationBuilder turns task and comment events into notifications.
type NotificationBuilder struct {
	store  NotificationStore
	pusher Pusher
	logger *slog.Logger
}

// NewNotificationBuilder creates a builder. pusher may be nil, in which case
// notifications are only persisted.
func NewNotificationBuilder(store NotificationStore, pusher Pusher, logger *slog.Logger) *NotificationBuilder {
	return &NotificationBuilder{store: store, pusher: pusher, logger: logger}
}

// Register binds the builder's handlers on mux.
func (b *NotificationBuilder) Register(mux *broker.Mux) {
	mux.Handle(events.TopicTaskCreated, b.HandleTaskCreated)
	mux.Handle(events.TopicTaskUpdated, b.HandleTaskUpdated)
	mux.Handle(events.TopicCommentNew, b.HandleCommentNew)
}

func (b *NotificationBuilder) HandleTaskCreated(ctx context.Context, env *events.Envelope) error {
	p, err := events.Decode[events.TaskPayload](env)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("You were assigned to %q", p.Title)
	return b.notify(ctx, env, TaskCreatedRecipients(p), content)
}

func (b *NotificationBuilder) HandleTaskUpdated(ctx context.Context, env *events.Envelope) error {
	p, err := events.Decode[events.TaskPayload](env)
	if err != nil {
		return err
	}
	if p.UpdatedBy == "" {
		return fmt.Errorf("%w: %s: missing updatedBy", events.ErrMalformed, env.Topic)
	}
	content := fmt.Sprintf("Task %q was updated", p.Title)
	return b.notify(ctx, env, TaskUpdatedRecipients(p), content)
}

func (b *NotificationBuilder) HandleCommentNew(ctx context.Context, env *events.Envelope) error {
	p, err := events.Decode[events.CommentPayload](env)
	if err != nil {
		return err
	}
	content := "New comment on " + p.TaskTitle
	return b.notify(ctx, env, CommentRecipients(p), content)
}

// notify creates one notification per recipient. A failing recipient does
// not stop the others; all failures are returned joined.
func (b *NotificationBuilder) notify(ctx context.Context, env *events.Envelope, recipients []string, content string) error {
	logger := b.logger.With("event_id", env.ID, "topic", env.Topic)

	var errs []error
	created := 0
	for _, userID := range recipients {
		n := &domain.Notification{
			UserID:    userID,
			Content:   content,
			DedupeKey: env.ID + ":" + userID,
			CreatedAt: time.Now().UTC(),
		}

		ok, err := b.store.Create(ctx, n)
		if err != nil {
			logger.Error("failed to create notification", "user_id", userID, "error", err)
			errs = append(errs, fmt.Errorf("notify %s: %w", userID, err))
			continue
		}
		if !ok {
			logger.Debug("notification already exists", "user_id", userID)
			continue
		}
		created++

		if b.pusher != nil {
			delivered := b.pusher.EmitToUsers([]string{userID}, EventNotificationNew, NotificationMessage{
				ID:        n.ID,
				UserID:    n.UserID,
				Content:   n.Content,
				Read:      n.Read,
				CreatedAt: n.CreatedAt,
			})
			logger.Debug("notification pushed", "user_id", userID, "connections", delivered)
		}
	}

	logger.Info("notifications processed",
		"recipients", len(recipients),
		"created", created,
		"failed", len(errs),
	)
	return errors.Join(errs...)
}
