// Package events defines the broker envelope and the payload schema of every
// topic exchanged between services.
//
// Payloads are self-contained: they carry the denormalized fields a consumer
// needs (titles, authors, assignee lists) so no consumer ever calls back into
// the producing service. Decode validates a payload against its schema at the
// consumer boundary and reports shape violations as ErrMalformed, which the
// broker quarantines instead of retrying.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Topics
const (
	TopicTaskCreated = "task.created"
	TopicTaskUpdated = "task.updated"
	TopicCommentNew  = "comment.new"
	TopicUserCreated = "user.created"
	TopicUserUpdated = "user.updated"
)

// ErrMalformed marks a message whose payload does not match its topic schema.
var ErrMalformed = errors.New("malformed event payload")

// Envelope is the transport record published to the broker.
type Envelope struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope serializes payload into a fresh envelope.
func NewEnvelope(topic string, payload any, occurredAt time.Time) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return &Envelope{
		ID:         uuid.NewString(),
		Topic:      topic,
		OccurredAt: occurredAt.UTC(),
		Payload:    raw,
	}, nil
}

// Author is the denormalized author block of a comment.
type Author struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TaskPayload is the schema of task.created and task.updated.
type TaskPayload struct {
	ID              string    `json:"id" validate:"required"`
	Title           string    `json:"title" validate:"required"`
	Description     string    `json:"description"`
	Status          string    `json:"status" validate:"required,oneof=TODO IN_PROGRESS REVIEW DONE"`
	Priority        string    `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH URGENT"`
	DueDate         *string   `json:"dueDate"`
	AuthorID        string    `json:"authorId" validate:"required"`
	AssignedUserIDs []string  `json:"assignedUserIds" validate:"dive,required"`
	UpdatedBy       string    `json:"updatedBy,omitempty"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"createdAt" validate:"required"`
	UpdatedAt       time.Time `json:"updatedAt" validate:"required"`
}

// CommentPayload is the schema of comment.new.
type CommentPayload struct {
	ID              string    `json:"id" validate:"required"`
	TaskID          string    `json:"taskId" validate:"required"`
	TaskTitle       string    `json:"taskTitle" validate:"required"`
	Content         string    `json:"content" validate:"required"`
	CreatedAt       time.Time `json:"createdAt" validate:"required"`
	Author          Author    `json:"author" validate:"required"`
	TaskAuthorID    string    `json:"taskAuthorId" validate:"required"`
	AssignedUserIDs []string  `json:"assignedUserIds" validate:"dive,required"`
}

// UserPayload is the schema of user.created and user.updated.
type UserPayload struct {
	ID        string    `json:"id" validate:"required"`
	Email     string    `json:"email" validate:"required,email"`
	Name      string    `json:"name" validate:"required"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode unmarshals and validates an envelope payload. Any failure wraps
// ErrMalformed.
func Decode[T any](env *Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Topic, err)
	}
	if err := validate.Struct(payload); err != nil {
		return payload, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Topic, err)
	}
	return payload, nil
}

// Validate checks a struct against its validate tags. Producers use it
// before writing to the outbox so a bad payload is rejected at the source.
func Validate(payload any) error {
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
