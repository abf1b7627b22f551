package domain

import (
	"slices"
	"strings"
	"time"
)

// DateLayout is the canonical serialization for due dates. Two due dates are
// equal when their DateLayout forms are equal.
const DateLayout = "2006-01-02"

// TaskStatus represents the workflow status of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "TODO"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusReview     TaskStatus = "REVIEW"
	TaskStatusDone       TaskStatus = "DONE"
)

// IsValid checks if the status is one of the allowed values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone:
		return true
	default:
		return false
	}
}

// TaskPriority represents the priority level of a task.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "LOW"
	TaskPriorityMedium TaskPriority = "MEDIUM"
	TaskPriorityHigh   TaskPriority = "HIGH"
	TaskPriorityUrgent TaskPriority = "URGENT"
)

// IsValid checks if the priority is one of the allowed values.
func (p TaskPriority) IsValid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	default:
		return false
	}
}

// Task is the aggregate root of the task service. It is mutated only through
// NewTask, Apply and MarkDeleted, each of which touches UpdatedAt and Version.
type Task struct {
	ID              string
	Title           string
	Description     string
	DueDate         *time.Time
	Priority        TaskPriority
	Status          TaskStatus
	AuthorID        string
	AssignedUserIDs []string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// NewTaskParams holds the fields accepted when a task is created.
type NewTaskParams struct {
	Title           string
	Description     string
	DueDate         *time.Time
	Priority        TaskPriority
	Status          TaskStatus
	AuthorID        string
	AssignedUserIDs []string
}

// NewTask validates params and builds a task. Status defaults to TODO and
// priority to MEDIUM.
func NewTask(p NewTaskParams, now time.Time) (*Task, error) {
	if p.Status == "" {
		p.Status = TaskStatusTodo
	}
	if p.Priority == "" {
		p.Priority = TaskPriorityMedium
	}

	title := strings.TrimSpace(p.Title)
	description := strings.TrimSpace(p.Description)
	changes := TaskChanges{
		Title:       &title,
		Description: &description,
		Status:      &p.Status,
		Priority:    &p.Priority,
		DueDate:     p.DueDate,
	}
	if err := changes.Validate(now); err != nil {
		return nil, err
	}

	task := &Task{
		Title:           title,
		Description:     description,
		DueDate:         canonicalDate(p.DueDate),
		Priority:        p.Priority,
		Status:          p.Status,
		AuthorID:        p.AuthorID,
		AssignedUserIDs: NormalizeUserIDs(p.AssignedUserIDs),
		CreatedAt:       now,
	}
	task.touch(now)
	return task, nil
}

// TaskChanges is a partial update. Nil fields are left untouched; ClearDueDate
// removes the due date.
type TaskChanges struct {
	Title           *string
	Description     *string
	Status          *TaskStatus
	Priority        *TaskPriority
	DueDate         *time.Time
	ClearDueDate    bool
	AssignedUserIDs *[]string
}

// IsEmpty reports whether no field was requested.
func (c TaskChanges) IsEmpty() bool {
	return c.Title == nil && c.Description == nil && c.Status == nil &&
		c.Priority == nil && c.DueDate == nil && !c.ClearDueDate && c.AssignedUserIDs == nil
}

// Validate checks the requested values against the task invariants.
func (c TaskChanges) Validate(now time.Time) error {
	if c.Title != nil && strings.TrimSpace(*c.Title) == "" {
		return ErrEmptyTitle
	}
	if c.Description != nil && strings.TrimSpace(*c.Description) == "" {
		return ErrEmptyDescription
	}
	if c.Status != nil && !c.Status.IsValid() {
		return ErrInvalidStatus
	}
	if c.Priority != nil && !c.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if c.DueDate != nil && !c.ClearDueDate {
		if FormatDate(*c.DueDate) < FormatDate(now) {
			return ErrDueDateInPast
		}
	}
	return nil
}

// Apply validates and applies changes, then touches the task.
func (t *Task) Apply(c TaskChanges, now time.Time) error {
	if c.IsEmpty() {
		return ErrNoChanges
	}
	// The current due date may already be past; resubmitting it is not a change.
	if c.DueDate != nil && !c.ClearDueDate && t.DueDate != nil && FormatDate(*c.DueDate) == FormatDate(*t.DueDate) {
		c.DueDate = nil
	}
	if err := c.Validate(now); err != nil {
		return err
	}

	if c.Title != nil {
		t.Title = strings.TrimSpace(*c.Title)
	}
	if c.Description != nil {
		t.Description = strings.TrimSpace(*c.Description)
	}
	if c.Status != nil {
		t.Status = *c.Status
	}
	if c.Priority != nil {
		t.Priority = *c.Priority
	}
	if c.ClearDueDate {
		t.DueDate = nil
	} else if c.DueDate != nil {
		t.DueDate = canonicalDate(c.DueDate)
	}
	if c.AssignedUserIDs != nil {
		t.AssignedUserIDs = NormalizeUserIDs(*c.AssignedUserIDs)
	}

	t.touch(now)
	return nil
}

// MarkDeleted soft-deletes the task.
func (t *Task) MarkDeleted(now time.Time) {
	deletedAt := now
	t.DeletedAt = &deletedAt
	t.touch(now)
}

// IsDeleted reports whether the task was soft-deleted.
func (t *Task) IsDeleted() bool {
	return t.DeletedAt != nil
}

// IsParticipant reports whether the user authored or is assigned to the task.
func (t *Task) IsParticipant(userID string) bool {
	return t.AuthorID == userID || slices.Contains(t.AssignedUserIDs, userID)
}

// Clone returns a deep copy, used as the pre-mutation snapshot for diffing.
func (t *Task) Clone() Task {
	c := *t
	c.AssignedUserIDs = slices.Clone(t.AssignedUserIDs)
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		c.DeletedAt = &d
	}
	return c
}

func (t *Task) touch(now time.Time) {
	t.UpdatedAt = now
	t.Version++
}

// NormalizeUserIDs trims, drops empties, de-duplicates and sorts user IDs so
// that assignee sets compare by value.
func NormalizeUserIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// FormatDate renders t in the canonical date form (UTC calendar date).
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func canonicalDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}
