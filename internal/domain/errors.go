package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every service. Entity-specific errors wrap one of
// these bases so callers can match either the broad class or the exact case.
var (
	// ErrValidation marks bad field values on a mutation. Nothing is persisted
	// and no event is emitted.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced aggregate or a cross-service identity that
	// is not known locally.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized marks a missing, invalid or expired credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden marks an authenticated caller acting outside their rights.
	ErrForbidden = errors.New("forbidden")

	// ErrDelivery marks a broker that could not be reached at publish time.
	ErrDelivery = errors.New("event delivery failed")
)

// Permission errors
var (
	ErrNotTaskAuthor = fmt.Errorf("%w: only the author can delete a task", ErrForbidden)
	ErrNotSelf       = fmt.Errorf("%w: users can only change their own profile", ErrForbidden)
)

// Not found errors
var (
	ErrTaskNotFound         = fmt.Errorf("%w: task", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("%w: user", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("%w: notification", ErrNotFound)
)

// Authentication errors
var (
	ErrMissingToken = fmt.Errorf("%w: missing token", ErrUnauthorized)
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrExpiredToken = fmt.Errorf("%w: token expired", ErrUnauthorized)
)

// Validation errors
var (
	ErrEmptyTitle       = &ValidationError{Field: "title", Message: "title is required"}
	ErrEmptyDescription = &ValidationError{Field: "description", Message: "description is required"}
	ErrDueDateInPast    = &ValidationError{Field: "dueDate", Message: "due date must not be in the past"}
	ErrInvalidStatus    = &ValidationError{Field: "status", Message: "invalid task status"}
	ErrInvalidPriority  = &ValidationError{Field: "priority", Message: "invalid task priority"}
	ErrEmptyComment     = &ValidationError{Field: "content", Message: "comment is required"}
	ErrEmptyEmail       = &ValidationError{Field: "email", Message: "email is required"}
	ErrEmptyName        = &ValidationError{Field: "name", Message: "name is required"}
	ErrEmailTaken       = &ValidationError{Field: "email", Message: "email is already registered"}
	ErrNoChanges        = &ValidationError{Field: "", Message: "no changes requested"}
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
