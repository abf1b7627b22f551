package dto

import (
	"time"

	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/repository"
	"github.com/mtlprog/taskmesh/internal/service"
)

// TaskResponse represents a task.
type TaskResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	DueDate         *string   `json:"due_date"`
	Priority        string    `json:"priority"`
	Status          string    `json:"status"`
	AuthorID        string    `json:"author_id"`
	AssignedUserIDs []string  `json:"assigned_user_ids"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TasksListResponse represents the response for GET /tasks.
type TasksListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

// FieldChangeResponse is one field transition of an audit entry.
type FieldChangeResponse struct {
	Field    string  `json:"field"`
	OldValue *string `json:"old_value"`
	NewValue *string `json:"new_value"`
}

// AuditEntryResponse represents an audit log entry.
type AuditEntryResponse struct {
	ID        string                `json:"id"`
	Action    string                `json:"action"`
	ActorID   string                `json:"actor_id"`
	Changes   []FieldChangeResponse `json:"changes"`
	CreatedAt time.Time             `json:"created_at"`
}

// CommentResponse represents a comment.
type CommentResponse struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskDetailResponse represents a task with its history and comments.
type TaskDetailResponse struct {
	Task     TaskResponse         `json:"task"`
	AuditLog []AuditEntryResponse `json:"audit_log"`
	Comments []CommentResponse    `json:"comments"`
}

// TaskMutationResponse is returned by create and update: the task and the
// audit entries the mutation produced.
type TaskMutationResponse struct {
	Task     TaskResponse         `json:"task"`
	AuditLog []AuditEntryResponse `json:"audit_log"`
}

// NotificationResponse represents a notification.
type NotificationResponse struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationsListResponse represents the response for GET /notifications.
type NotificationsListResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	Total         int                    `json:"total"`
	Page          int                    `json:"page"`
	Size          int                    `json:"size"`
}

// UnreadCountResponse represents the response for GET /notifications/unread-count.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// MarkAllReadResponse represents the response for POST /notifications/read-all.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// UserResponse represents an identity user.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskStatsResponse represents the response for GET /tasks/stats.
type TaskStatsResponse struct {
	Authored      int            `json:"authored"`
	Assigned      int            `json:"assigned"`
	TasksByStatus map[string]int `json:"tasks_by_status"`
	OverdueCount  int            `json:"overdue_count"`
}

// OutboxStatsResponse represents the response for GET /outbox/stats.
type OutboxStatsResponse struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Dead    int `json:"dead"`
}

// ToTaskResponse converts domain.Task to TaskResponse.
func ToTaskResponse(task *domain.Task) TaskResponse {
	var dueDate *string
	if task.DueDate != nil {
		d := domain.FormatDate(*task.DueDate)
		dueDate = &d
	}
	assignees := task.AssignedUserIDs
	if assignees == nil {
		assignees = []string{}
	}
	return TaskResponse{
		ID:              task.ID,
		Title:           task.Title,
		Description:     task.Description,
		DueDate:         dueDate,
		Priority:        string(task.Priority),
		Status:          string(task.Status),
		AuthorID:        task.AuthorID,
		AssignedUserIDs: assignees,
		Version:         task.Version,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.UpdatedAt,
	}
}

// ToTasksListResponse converts a service page.
func ToTasksListResponse(page *service.TaskPage) TasksListResponse {
	tasks := make([]TaskResponse, 0, len(page.Tasks))
	for _, t := range page.Tasks {
		tasks = append(tasks, ToTaskResponse(t))
	}
	return TasksListResponse{Tasks: tasks, Total: page.Total, Page: page.Page, Size: page.Size}
}

// ToAuditEntries converts audit entries.
func ToAuditEntries(entries []*domain.AuditLogEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		changes := make([]FieldChangeResponse, 0, len(e.Changes))
		for _, c := range e.Changes {
			changes = append(changes, FieldChangeResponse{Field: c.Field, OldValue: c.OldValue, NewValue: c.NewValue})
		}
		out = append(out, AuditEntryResponse{
			ID:        e.ID,
			Action:    string(e.Action),
			ActorID:   e.ActorID,
			Changes:   changes,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

// ToCommentResponse converts domain.Comment to CommentResponse.
func ToCommentResponse(c *domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		TaskID:    c.TaskID,
		AuthorID:  c.AuthorID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
}

// ToTaskDetailResponse converts service.TaskDetails.
func ToTaskDetailResponse(d *service.TaskDetails) TaskDetailResponse {
	comments := make([]CommentResponse, 0, len(d.Comments))
	for _, c := range d.Comments {
		comments = append(comments, ToCommentResponse(c))
	}
	return TaskDetailResponse{
		Task:     ToTaskResponse(d.Task),
		AuditLog: ToAuditEntries(d.AuditLog),
		Comments: comments,
	}
}

// ToNotificationsListResponse converts a notification page.
func ToNotificationsListResponse(page *domain.NotificationPage) NotificationsListResponse {
	items := make([]NotificationResponse, 0, len(page.Notifications))
	for _, n := range page.Notifications {
		items = append(items, NotificationResponse{
			ID:        n.ID,
			Content:   n.Content,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
			UpdatedAt: n.UpdatedAt,
		})
	}
	return NotificationsListResponse{Notifications: items, Total: page.Total, Page: page.Page, Size: page.Size}
}

// ToUserResponse converts domain.IdentityUser to UserResponse.
func ToUserResponse(u *domain.IdentityUser) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// ToOutboxStatsResponse converts repository.OutboxStats.
func ToOutboxStatsResponse(s *repository.OutboxStats) OutboxStatsResponse {
	return OutboxStatsResponse{Pending: s.Pending, Sent: s.Sent, Dead: s.Dead}
}

// ToTaskStatsResponse converts repository.TaskStatsResult to TaskStatsResponse.
// Every status is present, zero when no task has it.
func ToTaskStatsResponse(s *repository.TaskStatsResult) TaskStatsResponse {
	byStatus := map[string]int{
		string(domain.TaskStatusTodo):       0,
		string(domain.TaskStatusInProgress): 0,
		string(domain.TaskStatusReview):     0,
		string(domain.TaskStatusDone):       0,
	}
	for status, n := range s.TasksByStatus {
		byStatus[string(status)] = n
	}
	return TaskStatsResponse{
		Authored:      s.Authored,
		Assigned:      s.Assigned,
		TasksByStatus: byStatus,
		OverdueCount:  s.OverdueCount,
	}
}
