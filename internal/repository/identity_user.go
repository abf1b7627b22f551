package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taskmesh/internal/domain"
)

const uniqueViolation = "23505"

var identityUserColumns = []string{"id", "email", "name", "created_at", "updated_at"}

// IdentityUserRepository stores the identity service's own user records.
type IdentityUserRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityUserRepository creates a new IdentityUserRepository.
func NewIdentityUserRepository(pool *pgxpool.Pool) *IdentityUserRepository {
	return &IdentityUserRepository{pool: pool}
}

func scanIdentityUser(row pgx.Row) (*domain.IdentityUser, error) {
	var u domain.IdentityUser
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan identity user: %w", err)
	}
	return &u, nil
}

func mapUniqueEmail(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrEmailTaken
	}
	return err
}

// Create inserts a user within tx and fills in its ID.
func (r *IdentityUserRepository) Create(ctx context.Context, tx pgx.Tx, u *domain.IdentityUser) error {
	query, args, err := psql.
		Insert("identity_users").
		Columns("email", "name", "created_at", "updated_at").
		Values(u.Email, u.Name, u.CreatedAt, u.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for identity user: %w", err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&u.ID); err != nil {
		if mapped := mapUniqueEmail(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("create identity user: %w", err)
	}
	return nil
}

// GetByIDForUpdate retrieves a user with FOR UPDATE lock (within transaction).
func (r *IdentityUserRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*domain.IdentityUser, error) {
	query, args, err := psql.
		Select(identityUserColumns...).
		From("identity_users").
		Where(sq.Eq{"id": userID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDForUpdate query for identity user %s: %w", userID, err)
	}

	return scanIdentityUser(tx.QueryRow(ctx, query, args...))
}

// GetByID retrieves a user by ID.
func (r *IdentityUserRepository) GetByID(ctx context.Context, userID string) (*domain.IdentityUser, error) {
	query, args, err := psql.
		Select(identityUserColumns...).
		From("identity_users").
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for identity user: %w", err)
	}

	return scanIdentityUser(r.pool.QueryRow(ctx, query, args...))
}

// Update writes the mutable fields of u.
func (r *IdentityUserRepository) Update(ctx context.Context, tx pgx.Tx, u *domain.IdentityUser) error {
	query, args, err := psql.
		Update("identity_users").
		Set("email", u.Email).
		Set("name", u.Name).
		Set("updated_at", u.UpdatedAt).
		Where(sq.Eq{"id": u.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Update query for identity user %s: %w", u.ID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		if mapped := mapUniqueEmail(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("update identity user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
