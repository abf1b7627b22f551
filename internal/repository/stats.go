package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mtlprog/taskmesh/internal/domain"
)

// TaskStatsResult holds statistics over the tasks one user participates in.
type TaskStatsResult struct {
	Authored      int
	Assigned      int
	TasksByStatus map[domain.TaskStatus]int
	OverdueCount  int
}

// OutboxStats counts outbox rows per status.
type OutboxStats struct {
	Pending int
	Sent    int
	Dead    int
}

// GetTaskStats retrieves statistics for the live tasks a user authored or is
// assigned to. A task is overdue when its due date is before today and it is
// not DONE.
func (r *TaskRepository) GetTaskStats(ctx context.Context, userID string, today time.Time) (*TaskStatsResult, error) {
	where := TaskListFilters{UserID: userID}.where()

	query, args, err := psql.
		Select().
		Column(sq.Expr("COUNT(*) FILTER (WHERE author_id = ?)", userID)).
		Column(sq.Expr("COUNT(*) FILTER (WHERE ? = ANY(assigned_user_ids))", userID)).
		Column(sq.Expr("COUNT(*) FILTER (WHERE due_date < ? AND status <> ?)", today, domain.TaskStatusDone)).
		From("tasks").
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetTaskStats query: %w", err)
	}

	result := &TaskStatsResult{TasksByStatus: make(map[domain.TaskStatus]int)}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&result.Authored, &result.Assigned, &result.OverdueCount); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	// Tasks by status (current state, not historical)
	query, args, err = psql.
		Select("status", "COUNT(*)").
		From("tasks").
		Where(where).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build status count query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		result.TasksByStatus[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status rows: %w", err)
	}

	return result, nil
}

// Stats returns the number of outbox rows in each status.
func (r *OutboxRepository) Stats(ctx context.Context) (*OutboxStats, error) {
	query, args, err := psql.
		Select(
			"COUNT(*) FILTER (WHERE status = 'PENDING')",
			"COUNT(*) FILTER (WHERE status = 'SENT')",
			"COUNT(*) FILTER (WHERE status = 'DEAD')",
		).
		From("outbox_events").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Stats query: %w", err)
	}

	var stats OutboxStats
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&stats.Pending, &stats.Sent, &stats.Dead); err != nil {
		return nil, fmt.Errorf("query outbox stats: %w", err)
	}
	return &stats, nil
}
