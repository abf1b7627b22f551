package dto

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/service"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a request body against its validate tags and reports the
// first failing field as a domain.ValidationError.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &domain.ValidationError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed %q validation", fe.Tag()),
		}
	}
	return &domain.ValidationError{Message: err.Error()}
}

// CreateTaskRequest represents the request body for POST /tasks.
type CreateTaskRequest struct {
	Title           string   `json:"title" validate:"required,max=200"`
	Description     string   `json:"description" validate:"required,max=10000"`
	DueDate         *string  `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Priority        string   `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	Status          string   `json:"status,omitempty" validate:"omitempty,oneof=TODO IN_PROGRESS REVIEW DONE"`
	AssignedUserIDs []string `json:"assigned_user_ids,omitempty" validate:"omitempty,dive,required"`
}

// Params converts the request into service parameters.
func (r CreateTaskRequest) Params() (domain.NewTaskParams, error) {
	dueDate, err := parseDate(r.DueDate)
	if err != nil {
		return domain.NewTaskParams{}, err
	}
	return domain.NewTaskParams{
		Title:           r.Title,
		Description:     r.Description,
		DueDate:         dueDate,
		Priority:        domain.TaskPriority(r.Priority),
		Status:          domain.TaskStatus(r.Status),
		AssignedUserIDs: r.AssignedUserIDs,
	}, nil
}

// UpdateTaskRequest represents the request body for PATCH /tasks/{id}.
// Omitted fields are left unchanged.
type UpdateTaskRequest struct {
	Title           *string   `json:"title,omitempty" validate:"omitempty,max=200"`
	Description     *string   `json:"description,omitempty" validate:"omitempty,max=10000"`
	DueDate         *string   `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ClearDueDate    bool      `json:"clear_due_date,omitempty"`
	Priority        *string   `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	Status          *string   `json:"status,omitempty" validate:"omitempty,oneof=TODO IN_PROGRESS REVIEW DONE"`
	AssignedUserIDs *[]string `json:"assigned_user_ids,omitempty" validate:"omitempty,dive,required"`
}

// Changes converts the request into a domain change set.
func (r UpdateTaskRequest) Changes() (domain.TaskChanges, error) {
	dueDate, err := parseDate(r.DueDate)
	if err != nil {
		return domain.TaskChanges{}, err
	}
	c := domain.TaskChanges{
		Title:           r.Title,
		Description:     r.Description,
		DueDate:         dueDate,
		ClearDueDate:    r.ClearDueDate,
		AssignedUserIDs: r.AssignedUserIDs,
	}
	if r.Priority != nil {
		p := domain.TaskPriority(*r.Priority)
		c.Priority = &p
	}
	if r.Status != nil {
		s := domain.TaskStatus(*r.Status)
		c.Status = &s
	}
	return c, nil
}

// CreateCommentRequest represents the request body for POST /tasks/{id}/comments.
type CreateCommentRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

// RegisterUserRequest represents the request body for POST /users.
type RegisterUserRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Name  string `json:"name" validate:"required,max=100"`
}

// Params converts the request into service parameters.
func (r RegisterUserRequest) Params() domain.RegisterUserParams {
	return domain.RegisterUserParams{Email: r.Email, Name: r.Name}
}

// UpdateUserRequest represents the request body for PATCH /users/{id}.
type UpdateUserRequest struct {
	Email *string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Name  *string `json:"name,omitempty" validate:"omitempty,max=100"`
}

// Params converts the request into service parameters.
func (r UpdateUserRequest) Params() service.UpdateUserParams {
	return service.UpdateUserParams{Email: r.Email, Name: r.Name}
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(*s))
	if err != nil {
		return nil, &domain.ValidationError{Field: "due_date", Message: "must be a YYYY-MM-DD date"}
	}
	return &t, nil
}
