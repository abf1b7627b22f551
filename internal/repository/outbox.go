package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taskmesh/internal/database"
	"github.com/mtlprog/taskmesh/internal/domain"
)

var outboxColumns = []string{
	"id", "topic", "payload", "occurred_at", "status", "attempt_count",
	"next_attempt_at", "last_error", "created_at", "sent_at",
}

// OutboxRepository stores events waiting to be published.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func scanOutboxEvent(row pgx.Row) (*domain.OutboxEvent, error) {
	var e domain.OutboxEvent
	err := row.Scan(
		&e.ID,
		&e.Topic,
		&e.Payload,
		&e.OccurredAt,
		&e.Status,
		&e.AttemptCount,
		&e.NextAttemptAt,
		&e.LastError,
		&e.CreatedAt,
		&e.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan outbox event: %w", err)
	}
	return &e, nil
}

// Enqueue records an event within the caller's transaction.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx pgx.Tx, e *domain.OutboxEvent) error {
	query, args, err := psql.
		Insert("outbox_events").
		Columns("id", "topic", "payload", "occurred_at", "status", "next_attempt_at", "created_at").
		Values(e.ID, e.Topic, e.Payload, e.OccurredAt, domain.OutboxStatusPending, e.NextAttemptAt, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Enqueue query: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("enqueue outbox event %s: %w", e.Topic, err)
	}
	return nil
}

// Lease claims up to limit due events by pushing their next_attempt_at past
// the lease window. Rows locked by another dispatcher are skipped.
func (r *OutboxRepository) Lease(ctx context.Context, limit int, now time.Time, leaseTTL time.Duration) ([]*domain.OutboxEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin lease transaction: %w", err)
	}
	defer database.Rollback(ctx, tx)

	selectQuery, selectArgs, err := psql.
		Select("id").
		From("outbox_events").
		Where(sq.Eq{"status": domain.OutboxStatusPending}).
		Where(sq.LtOrEq{"next_attempt_at": now}).
		OrderBy("next_attempt_at ASC", "created_at ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lease select query: %w", err)
	}

	rows, err := tx.Query(ctx, selectQuery, selectArgs...)
	if err != nil {
		return nil, fmt.Errorf("select due outbox events: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect due outbox events: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	updateQuery, updateArgs, err := psql.
		Update("outbox_events").
		Set("next_attempt_at", now.Add(leaseTTL)).
		Where(sq.Eq{"id": ids}).
		Suffix("RETURNING " + strings.Join(outboxColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lease update query: %w", err)
	}

	rows, err = tx.Query(ctx, updateQuery, updateArgs...)
	if err != nil {
		return nil, fmt.Errorf("lease outbox events: %w", err)
	}
	defer rows.Close()

	var leased []*domain.OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		leased = append(leased, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit lease: %w", err)
	}

	slices.SortFunc(leased, func(a, b *domain.OutboxEvent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return leased, nil
}

// MarkSent records a successful publish.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string, now time.Time) error {
	return r.update(ctx, id, psql.
		Update("outbox_events").
		Set("status", domain.OutboxStatusSent).
		Set("attempt_count", sq.Expr("attempt_count + 1")).
		Set("sent_at", now).
		Set("last_error", nil))
}

// MarkRetry records a failed publish and schedules the next attempt.
func (r *OutboxRepository) MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	return r.update(ctx, id, psql.
		Update("outbox_events").
		Set("attempt_count", attempts).
		Set("next_attempt_at", nextAttemptAt).
		Set("last_error", lastError))
}

// MarkDead gives up on an event.
func (r *OutboxRepository) MarkDead(ctx context.Context, id string, attempts int, lastError string) error {
	return r.update(ctx, id, psql.
		Update("outbox_events").
		Set("status", domain.OutboxStatusDead).
		Set("attempt_count", attempts).
		Set("last_error", lastError))
}

func (r *OutboxRepository) update(ctx context.Context, id string, b sq.UpdateBuilder) error {
	query, args, err := b.Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build outbox update query for %s: %w", id, err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update outbox event %s: %w", id, err)
	}
	return nil
}

// GetByID retrieves one outbox event.
func (r *OutboxRepository) GetByID(ctx context.Context, id string) (*domain.OutboxEvent, error) {
	query, args, err := psql.
		Select(outboxColumns...).
		From("outbox_events").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for outbox event: %w", err)
	}
	return scanOutboxEvent(r.pool.QueryRow(ctx, query, args...))
}
