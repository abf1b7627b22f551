package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taskmesh/internal/audit"
	"github.com/mtlprog/taskmesh/internal/database"
	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/events"
	"github.com/mtlprog/taskmesh/internal/outbox"
	"github.com/mtlprog/taskmesh/internal/repository"
)

// OutboxNotifier is told when new outbox rows were committed.
type OutboxNotifier interface {
	Wake()
}

type noopNotifier struct{}

func (noopNotifier) Wake() {}

// TaskDetails is a task together with its history and comments.
type TaskDetails struct {
	Task     *domain.Task
	AuditLog []*domain.AuditLogEntry
	Comments []*domain.Comment
}

// TaskPage is one page of tasks.
type TaskPage struct {
	Tasks []*domain.Task
	Total int
	Page  int
	Size  int
}

// TaskService coordinates task mutations. Every mutation writes the task,
// its audit entries and its outbox event in one transaction.
type TaskService struct {
	pool        *pgxpool.Pool
	taskRepo    *repository.TaskRepository
	auditRepo   *repository.AuditLogRepository
	commentRepo *repository.CommentRepository
	userRepo    *repository.UserReadModelRepository
	outboxRepo  *repository.OutboxRepository
	notifier    OutboxNotifier
	now         func() time.Time
}

// NewTaskService creates a new TaskService. notifier may be nil.
func NewTaskService(
	pool *pgxpool.Pool,
	taskRepo *repository.TaskRepository,
	auditRepo *repository.AuditLogRepository,
	commentRepo *repository.CommentRepository,
	userRepo *repository.UserReadModelRepository,
	outboxRepo *repository.OutboxRepository,
	notifier OutboxNotifier,
) *TaskService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &TaskService{
		pool:        pool,
		taskRepo:    taskRepo,
		auditRepo:   auditRepo,
		commentRepo: commentRepo,
		userRepo:    userRepo,
		outboxRepo:  outboxRepo,
		notifier:    notifier,
		now:         time.Now,
	}
}

// ensureUsersKnown fails with ErrUserNotFound when any of userIDs has not
// been replicated locally yet.
func (s *TaskService) ensureUsersKnown(ctx context.Context, userIDs []string) error {
	missing, err := s.userRepo.MissingIDs(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("check users: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrUserNotFound, strings.Join(missing, ", "))
	}
	return nil
}

// writeHistoryAndCommit persists audit entries and the outbox event within
// the transaction, then commits.
func (s *TaskService) writeHistoryAndCommit(
	ctx context.Context,
	tx pgx.Tx,
	entries []*domain.AuditLogEntry,
	event *domain.OutboxEvent,
) error {
	if err := s.auditRepo.CreateBatch(ctx, tx, entries); err != nil {
		return fmt.Errorf("create audit entries: %w", err)
	}
	if event != nil {
		if err := s.outboxRepo.Enqueue(ctx, tx, event); err != nil {
			return fmt.Errorf("enqueue event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	if event != nil {
		s.notifier.Wake()
	}
	return nil
}

// CreateTask validates and stores a new task authored by actorID.
func (s *TaskService) CreateTask(ctx context.Context, actorID string, params domain.NewTaskParams) (*domain.Task, []*domain.AuditLogEntry, error) {
	now := s.now().UTC()
	params.AuthorID = actorID

	task, err := domain.NewTask(params, now)
	if err != nil {
		return nil, nil, err
	}

	if err := s.ensureUsersKnown(ctx, task.AssignedUserIDs); err != nil {
		return nil, nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer database.Rollback(ctx, tx)

	if err := s.taskRepo.Create(ctx, tx, task); err != nil {
		return nil, nil, err
	}

	entries := audit.Created(task, actorID, now)

	event, err := outbox.NewEvent(events.TopicTaskCreated, taskPayload(task, ""), now)
	if err != nil {
		return nil, nil, err
	}

	if err := s.writeHistoryAndCommit(ctx, tx, entries, event); err != nil {
		return nil, nil, err
	}

	slog.Info("task created",
		"task_id", task.ID,
		"user_id", actorID,
		"assignees", len(task.AssignedUserIDs),
		"event_id", event.ID,
	)

	return task, entries, nil
}

// UpdateTask applies changes requested by a participant. Resubmitting
// values equal to the current ones writes nothing and emits no event.
func (s *TaskService) UpdateTask(
	ctx context.Context,
	actorID string,
	taskID string,
	changes domain.TaskChanges,
) (*domain.Task, []*domain.AuditLogEntry, error) {
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer database.Rollback(ctx, tx)

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if !task.IsParticipant(actorID) {
		return nil, nil, domain.ErrTaskNotFound
	}

	before := task.Clone()
	if err := task.Apply(changes, now); err != nil {
		return nil, nil, err
	}

	entries := audit.Diff(before, changes, actorID, now)
	if len(entries) == 0 {
		return &before, nil, nil
	}

	if err := s.ensureUsersKnown(ctx, addedUsers(before.AssignedUserIDs, task.AssignedUserIDs)); err != nil {
		return nil, nil, err
	}

	if err := s.taskRepo.Update(ctx, tx, task); err != nil {
		return nil, nil, err
	}

	event, err := outbox.NewEvent(events.TopicTaskUpdated, taskPayload(task, actorID), now)
	if err != nil {
		return nil, nil, err
	}

	if err := s.writeHistoryAndCommit(ctx, tx, entries, event); err != nil {
		return nil, nil, err
	}

	slog.Info("task updated",
		"task_id", task.ID,
		"user_id", actorID,
		"version", task.Version,
		"audit_entries", len(entries),
		"event_id", event.ID,
	)

	return task, entries, nil
}

// DeleteTask soft-deletes a task. Only the author may delete it.
func (s *TaskService) DeleteTask(ctx context.Context, actorID, taskID string) error {
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer database.Rollback(ctx, tx)

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if !task.IsParticipant(actorID) {
		return domain.ErrTaskNotFound
	}
	if task.AuthorID != actorID {
		return domain.ErrNotTaskAuthor
	}

	task.MarkDeleted(now)
	if err := s.taskRepo.Update(ctx, tx, task); err != nil {
		return err
	}

	if err := s.writeHistoryAndCommit(ctx, tx, audit.Deleted(task, actorID, now), nil); err != nil {
		return err
	}

	slog.Info("task deleted", "task_id", task.ID, "user_id", actorID)
	return nil
}

// GetTask returns a task with its audit log and comments. Tasks the caller
// does not participate in are not found.
func (s *TaskService) GetTask(ctx context.Context, actorID, taskID string) (*TaskDetails, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsParticipant(actorID) {
		return nil, domain.ErrTaskNotFound
	}

	entries, err := s.auditRepo.ListByTaskID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get audit log: %w", err)
	}

	comments, err := s.commentRepo.ListByTaskID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get comments: %w", err)
	}

	return &TaskDetails{Task: task, AuditLog: entries, Comments: comments}, nil
}

// ListTasks returns tasks the caller authored or is assigned to. The
// filters' UserID is always replaced by actorID.
func (s *TaskService) ListTasks(ctx context.Context, actorID string, filters repository.TaskListFilters) (*TaskPage, error) {
	for _, status := range filters.Statuses {
		if !status.IsValid() {
			return nil, domain.ErrInvalidStatus
		}
	}
	for _, priority := range filters.Priorities {
		if !priority.IsValid() {
			return nil, domain.ErrInvalidPriority
		}
	}

	filters.UserID = actorID
	filters.Page, filters.Size = domain.NormalizePage(filters.Page, filters.Size)

	tasks, total, err := s.taskRepo.List(ctx, filters)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	return &TaskPage{Tasks: tasks, Total: total, Page: filters.Page, Size: filters.Size}, nil
}

// TaskStats summarizes the tasks the caller participates in.
func (s *TaskService) TaskStats(ctx context.Context, actorID string) (*repository.TaskStatsResult, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	return s.taskRepo.GetTaskStats(ctx, actorID, today)
}

// AddComment stores a comment by actorID and emits comment.new. The author
// must be known locally because the event carries their name and email.
func (s *TaskService) AddComment(ctx context.Context, actorID, taskID, content string) (*domain.Comment, error) {
	now := s.now().UTC()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.ErrEmptyComment
	}

	author, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer database.Rollback(ctx, tx)

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsParticipant(actorID) {
		return nil, domain.ErrTaskNotFound
	}

	comment := &domain.Comment{
		TaskID:    task.ID,
		AuthorID:  actorID,
		Content:   content,
		CreatedAt: now,
	}
	if err := s.commentRepo.Create(ctx, tx, comment); err != nil {
		return nil, err
	}

	event, err := outbox.NewEvent(events.TopicCommentNew, commentPayload(comment, task, author), now)
	if err != nil {
		return nil, err
	}

	if err := s.writeHistoryAndCommit(ctx, tx, nil, event); err != nil {
		return nil, err
	}

	slog.Info("comment added",
		"task_id", task.ID,
		"comment_id", comment.ID,
		"user_id", actorID,
		"event_id", event.ID,
	)

	return comment, nil
}

func addedUsers(before, after []string) []string {
	var added []string
	for _, id := range after {
		if !slices.Contains(before, id) {
			added = append(added, id)
		}
	}
	return added
}
