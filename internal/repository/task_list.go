package repository

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/mtlprog/taskmesh/internal/domain"
)

// TaskListFilters holds all supported filters for task listing.
type TaskListFilters struct {
	UserID     string                // Required: author or assignee
	Statuses   []domain.TaskStatus   // Optional: filter by status
	Priorities []domain.TaskPriority // Optional: filter by priority
	Sort       []string              // Optional: sort fields (with - prefix for DESC)
	Page       int
	Size       int
}

// priorityRank orders priorities from most to least urgent.
const priorityRank = "CASE priority WHEN 'URGENT' THEN 1 WHEN 'HIGH' THEN 2 WHEN 'MEDIUM' THEN 3 WHEN 'LOW' THEN 4 END"

// sortColumns whitelists sortable fields. Anything else is rejected before
// it reaches SQL.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"due_date":   "due_date",
	"title":      "title",
	"priority":   priorityRank,
}

// ParseSort validates a comma-separated sort expression such as
// "-priority,created_at".
func ParseSort(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var fields []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if _, ok := sortColumns[strings.TrimPrefix(part, "-")]; !ok {
			return nil, &domain.ValidationError{Field: "sort", Message: fmt.Sprintf("cannot sort by %q", part)}
		}
		fields = append(fields, part)
	}
	return fields, nil
}

func (f TaskListFilters) where() sq.And {
	where := sq.And{
		sq.Eq{"deleted_at": nil},
		sq.Or{
			sq.Eq{"author_id": f.UserID},
			sq.Expr("? = ANY(assigned_user_ids)", f.UserID),
		},
	}
	if len(f.Statuses) > 0 {
		where = append(where, sq.Eq{"status": f.Statuses})
	}
	if len(f.Priorities) > 0 {
		where = append(where, sq.Eq{"priority": f.Priorities})
	}
	return where
}

func (f TaskListFilters) orderBy() []string {
	// Default: most recently updated first
	if len(f.Sort) == 0 {
		return []string{"updated_at DESC", "id DESC"}
	}

	order := make([]string, 0, len(f.Sort)+1)
	for _, field := range f.Sort {
		dir := "ASC"
		if strings.HasPrefix(field, "-") {
			dir = "DESC"
			field = field[1:]
		}
		column, ok := sortColumns[field]
		if !ok {
			continue
		}
		order = append(order, column+" "+dir+" NULLS LAST")
	}
	// Stable paging across equal keys.
	return append(order, "id DESC")
}

// List returns live tasks the user authored or is assigned to, filtered and
// sorted, together with the total count.
func (r *TaskRepository) List(ctx context.Context, filters TaskListFilters) ([]*domain.Task, int, error) {
	where := filters.where()

	countQuery, countArgs, err := psql.
		Select("COUNT(*)").
		From("tasks").
		Where(where).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(where).
		OrderBy(filters.orderBy()...).
		Limit(uint64(filters.Size)).
		Offset(uint64((filters.Page - 1) * filters.Size)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build List query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query tasks: %w", err)
	}

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}
