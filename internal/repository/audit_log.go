package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taskmesh/internal/domain"
)

// AuditLogRepository stores audit entries. It can only append and read;
// the table itself rejects updates and deletes.
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository.
func NewAuditLogRepository(pool *pgxpool.Pool) *AuditLogRepository {
	return &AuditLogRepository{pool: pool}
}

// CreateBatch appends entries in order within tx and fills in their IDs.
func (r *AuditLogRepository) CreateBatch(ctx context.Context, tx pgx.Tx, entries []*domain.AuditLogEntry) error {
	for _, entry := range entries {
		changes := entry.Changes
		if changes == nil {
			changes = []domain.FieldChange{}
		}

		query, args, err := psql.
			Insert("audit_log_entries").
			Columns("task_id", "action", "actor_id", "changes", "created_at").
			Values(entry.TaskID, entry.Action, entry.ActorID, changes, entry.CreatedAt).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}

		if err := tx.QueryRow(ctx, query, args...).Scan(&entry.ID); err != nil {
			return fmt.Errorf("create audit log entry: %w", err)
		}
	}
	return nil
}

// ListByTaskID retrieves all entries for a task in the order they were written.
func (r *AuditLogRepository) ListByTaskID(ctx context.Context, taskID string) ([]*domain.AuditLogEntry, error) {
	query, args, err := psql.
		Select("id", "task_id", "action", "actor_id", "changes", "created_at").
		From("audit_log_entries").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditLogEntry
	for rows.Next() {
		var entry domain.AuditLogEntry
		err := rows.Scan(
			&entry.ID,
			&entry.TaskID,
			&entry.Action,
			&entry.ActorID,
			&entry.Changes,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit log entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}
