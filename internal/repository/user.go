package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taskmesh/internal/domain"
)

var userColumns = []string{"id", "email", "name", "created_at", "source_updated_at"}

// UserReadModelRepository stores the local projection of identity users.
type UserReadModelRepository struct {
	pool *pgxpool.Pool
}

// NewUserReadModelRepository creates a new UserReadModelRepository.
func NewUserReadModelRepository(pool *pgxpool.Pool) *UserReadModelRepository {
	return &UserReadModelRepository{pool: pool}
}

func scanUser(row pgx.Row) (*domain.UserReadModel, error) {
	var u domain.UserReadModel
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.SourceUpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// Upsert inserts or replaces the projection of u.ID. A row whose
// SourceUpdatedAt is newer than u's is left untouched. It reports whether
// the row was written.
func (r *UserReadModelRepository) Upsert(ctx context.Context, u *domain.UserReadModel) (bool, error) {
	query, args, err := psql.
		Insert("user_read_models").
		Columns(userColumns...).
		Values(u.ID, u.Email, u.Name, u.CreatedAt, u.SourceUpdatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			source_updated_at = EXCLUDED.source_updated_at
		WHERE user_read_models.source_updated_at <= EXCLUDED.source_updated_at`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build Upsert query for user: %w", err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("upsert user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID retrieves a user projection by ID.
func (r *UserReadModelRepository) GetByID(ctx context.Context, userID string) (*domain.UserReadModel, error) {
	query, args, err := psql.
		Select(userColumns...).
		From("user_read_models").
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for user: %w", err)
	}

	return scanUser(r.pool.QueryRow(ctx, query, args...))
}

// MissingIDs returns the subset of userIDs with no local projection, sorted.
func (r *UserReadModelRepository) MissingIDs(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query, args, err := psql.
		Select("id").
		From("user_read_models").
		Where(sq.Eq{"id": userIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build MissingIDs query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	known, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect users: %w", err)
	}

	var missing []string
	for _, id := range userIDs {
		if !slices.Contains(known, id) && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	slices.Sort(missing)
	return missing, nil
}
