package domain

import "time"

// AuditAction tags what kind of change an audit entry records.
type AuditAction string

const (
	AuditActionCreated             AuditAction = "CREATED"
	AuditActionUpdated             AuditAction = "UPDATED"
	AuditActionStatusChanged       AuditAction = "STATUS_CHANGED"
	AuditActionPriorityChanged     AuditAction = "PRIORITY_CHANGED"
	AuditActionAssignedUserAdded   AuditAction = "ASSIGNED_USER_ADDED"
	AuditActionAssignedUserRemoved AuditAction = "ASSIGNED_USER_REMOVED"
	AuditActionDueDateChanged      AuditAction = "DUE_DATE_CHANGED"
	AuditActionDeleted             AuditAction = "DELETED"
)

// Audited field names.
const (
	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldStatus          = "status"
	FieldPriority        = "priority"
	FieldDueDate         = "dueDate"
	FieldAssignedUserIDs = "assignedUserIds"
)

// FieldChange is one field transition. Nil values mean "unset".
type FieldChange struct {
	Field    string  `json:"field"`
	OldValue *string `json:"oldValue"`
	NewValue *string `json:"newValue"`
}

// AuditLogEntry is an immutable audit record for one task. It is written in
// the same transaction as the task mutation and never updated or deleted.
type AuditLogEntry struct {
	ID        string
	TaskID    string
	Action    AuditAction
	ActorID   string
	Changes   []FieldChange
	CreatedAt time.Time
}
