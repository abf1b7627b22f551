package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taskmesh/internal/database"
	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/events"
	"github.com/mtlprog/taskmesh/internal/outbox"
	"github.com/mtlprog/taskmesh/internal/repository"
)

// UpdateUserParams is a partial profile update. Nil fields are kept.
type UpdateUserParams struct {
	Email *string
	Name  *string
}

// UserService owns identity records and announces every change on the
// outbox so other services can replicate them.
type UserService struct {
	pool       *pgxpool.Pool
	userRepo   *repository.IdentityUserRepository
	outboxRepo *repository.OutboxRepository
	notifier   OutboxNotifier
	now        func() time.Time
}

// NewUserService creates a new UserService. notifier may be nil.
func NewUserService(
	pool *pgxpool.Pool,
	userRepo *repository.IdentityUserRepository,
	outboxRepo *repository.OutboxRepository,
	notifier OutboxNotifier,
) *UserService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &UserService{
		pool:       pool,
		userRepo:   userRepo,
		outboxRepo: outboxRepo,
		notifier:   notifier,
		now:        time.Now,
	}
}

// Register creates a user and emits user.created.
func (s *UserService) Register(ctx context.Context, params domain.RegisterUserParams) (*domain.IdentityUser, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	user := &domain.IdentityUser{
		Email:     params.Email,
		Name:      params.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer database.Rollback(ctx, tx)

	if err := s.userRepo.Create(ctx, tx, user); err != nil {
		return nil, err
	}

	event, err := outbox.NewEvent(events.TopicUserCreated, userPayload(user), now)
	if err != nil {
		return nil, err
	}
	if err := s.outboxRepo.Enqueue(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("enqueue event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	s.notifier.Wake()

	slog.Info("user registered", "user_id", user.ID, "event_id", event.ID)
	return user, nil
}

// Update changes the caller's own profile and emits user.updated.
func (s *UserService) Update(ctx context.Context, actorID, userID string, params UpdateUserParams) (*domain.IdentityUser, error) {
	if actorID != userID {
		return nil, domain.ErrNotSelf
	}
	if params.Email == nil && params.Name == nil {
		return nil, domain.ErrNoChanges
	}
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer database.Rollback(ctx, tx)

	user, err := s.userRepo.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	changed := false
	if params.Email != nil {
		email := strings.TrimSpace(*params.Email)
		if email == "" {
			return nil, domain.ErrEmptyEmail
		}
		if email != user.Email {
			user.Email = email
			changed = true
		}
	}
	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			return nil, domain.ErrEmptyName
		}
		if name != user.Name {
			user.Name = name
			changed = true
		}
	}
	if !changed {
		return user, nil
	}
	user.UpdatedAt = now

	if err := s.userRepo.Update(ctx, tx, user); err != nil {
		return nil, err
	}

	event, err := outbox.NewEvent(events.TopicUserUpdated, userPayload(user), now)
	if err != nil {
		return nil, err
	}
	if err := s.outboxRepo.Enqueue(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("enqueue event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	s.notifier.Wake()

	slog.Info("user updated", "user_id", user.ID, "event_id", event.ID)
	return user, nil
}

// Get returns an identity record.
func (s *UserService) Get(ctx context.Context, userID string) (*domain.IdentityUser, error) {
	return s.userRepo.GetByID(ctx, userID)
}
