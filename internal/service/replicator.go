package service

import (
	"context"
	"log/slog"

	"github.com/mtlprog/taskmesh/internal/broker"
	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/events"
)

// UserStore upserts user projections, reporting whether the row changed.
type UserStore interface {
	Upsert(ctx context.Context, u *domain.UserReadModel) (bool, error)
}

// Replicator keeps a service's local copy of identity users current.
// Applying the same event twice, or an older event after a newer one, leaves
// the projection unchanged.
type Replicator struct {
	store  UserStore
	logger *slog.Logger
}

func NewReplicator(store UserStore, logger *slog.Logger) *Replicator {
	return &Replicator{store: store, logger: logger}
}

// Register binds user.created and user.updated on mux.
func (r *Replicator) Register(mux *broker.Mux) {
	mux.Handle(events.TopicUserCreated, r.HandleUser)
	mux.Handle(events.TopicUserUpdated, r.HandleUser)
}

// HandleUser applies a user event to the projection.
func (r *Replicator) HandleUser(ctx context.Context, env *events.Envelope) error {
	p, err := events.Decode[events.UserPayload](env)
	if err != nil {
		return err
	}

	written, err := r.store.Upsert(ctx, &domain.UserReadModel{
		ID:              p.ID,
		Email:           p.Email,
		Name:            p.Name,
		CreatedAt:       p.CreatedAt.UTC(),
		SourceUpdatedAt: env.OccurredAt.UTC(),
	})
	if err != nil {
		return err
	}

	if written {
		r.logger.Info("user replicated", "user_id", p.ID, "event_id", env.ID, "topic", env.Topic)
	} else {
		r.logger.Debug("stale user event ignored", "user_id", p.ID, "event_id", env.ID)
	}
	return nil
}
