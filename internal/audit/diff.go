// Package audit computes field-level audit entries for task mutations.
//
// Every function here is pure: callers pass the pre-mutation snapshot, the
// requested changes and the clock, and receive the entries to persist. Values
// are canonicalized before comparison so re-submitting an equal value never
// produces an entry.
package audit

import (
	"slices"
	"strings"
	"time"

	"github.com/mtlprog/taskmesh/internal/domain"
)

// Created returns the single CREATED entry for a new task. It lists every
// initially-set field with a nil old value.
func Created(task *domain.Task, actorID string, now time.Time) []*domain.AuditLogEntry {
	changes := []domain.FieldChange{
		set(domain.FieldTitle, canonicalText(task.Title)),
		set(domain.FieldDescription, canonicalText(task.Description)),
		set(domain.FieldStatus, string(task.Status)),
		set(domain.FieldPriority, string(task.Priority)),
	}
	if task.DueDate != nil {
		changes = append(changes, set(domain.FieldDueDate, domain.FormatDate(*task.DueDate)))
	}
	if len(task.AssignedUserIDs) > 0 {
		changes = append(changes, set(domain.FieldAssignedUserIDs, joinIDs(task.AssignedUserIDs)))
	}

	return []*domain.AuditLogEntry{entry(task.ID, domain.AuditActionCreated, actorID, now, changes)}
}

// Diff compares the snapshot against the requested changes and returns one
// entry per distinct change category, in a fixed order: UPDATED,
// STATUS_CHANGED, PRIORITY_CHANGED, DUE_DATE_CHANGED, ASSIGNED_USER_ADDED,
// ASSIGNED_USER_REMOVED. Categories without a real difference are omitted.
func Diff(before domain.Task, c domain.TaskChanges, actorID string, now time.Time) []*domain.AuditLogEntry {
	var entries []*domain.AuditLogEntry

	var scalar []domain.FieldChange
	if c.Title != nil {
		if ch, ok := compare(domain.FieldTitle, ptr(canonicalText(before.Title)), ptr(canonicalText(*c.Title))); ok {
			scalar = append(scalar, ch)
		}
	}
	if c.Description != nil {
		if ch, ok := compare(domain.FieldDescription, ptr(canonicalText(before.Description)), ptr(canonicalText(*c.Description))); ok {
			scalar = append(scalar, ch)
		}
	}
	if len(scalar) > 0 {
		entries = append(entries, entry(before.ID, domain.AuditActionUpdated, actorID, now, scalar))
	}

	if c.Status != nil {
		if ch, ok := compare(domain.FieldStatus, ptr(string(before.Status)), ptr(string(*c.Status))); ok {
			entries = append(entries, entry(before.ID, domain.AuditActionStatusChanged, actorID, now, []domain.FieldChange{ch}))
		}
	}

	if c.Priority != nil {
		if ch, ok := compare(domain.FieldPriority, ptr(string(before.Priority)), ptr(string(*c.Priority))); ok {
			entries = append(entries, entry(before.ID, domain.AuditActionPriorityChanged, actorID, now, []domain.FieldChange{ch}))
		}
	}

	if c.ClearDueDate || c.DueDate != nil {
		var next *string
		if !c.ClearDueDate {
			next = ptr(domain.FormatDate(*c.DueDate))
		}
		if ch, ok := compare(domain.FieldDueDate, dateValue(before.DueDate), next); ok {
			entries = append(entries, entry(before.ID, domain.AuditActionDueDateChanged, actorID, now, []domain.FieldChange{ch}))
		}
	}

	if c.AssignedUserIDs != nil {
		oldSet := domain.NormalizeUserIDs(before.AssignedUserIDs)
		newSet := domain.NormalizeUserIDs(*c.AssignedUserIDs)

		if added := difference(newSet, oldSet); len(added) > 0 {
			ch := domain.FieldChange{Field: domain.FieldAssignedUserIDs, NewValue: ptr(joinIDs(added))}
			entries = append(entries, entry(before.ID, domain.AuditActionAssignedUserAdded, actorID, now, []domain.FieldChange{ch}))
		}
		if removed := difference(oldSet, newSet); len(removed) > 0 {
			ch := domain.FieldChange{Field: domain.FieldAssignedUserIDs, OldValue: ptr(joinIDs(removed))}
			entries = append(entries, entry(before.ID, domain.AuditActionAssignedUserRemoved, actorID, now, []domain.FieldChange{ch}))
		}
	}

	return entries
}

// Deleted returns the DELETED entry for a soft-deleted task.
func Deleted(task *domain.Task, actorID string, now time.Time) []*domain.AuditLogEntry {
	return []*domain.AuditLogEntry{entry(task.ID, domain.AuditActionDeleted, actorID, now, nil)}
}

// difference returns the members of a that are not in b. Both must be sorted.
func difference(a, b []string) []string {
	var out []string
	for _, id := range a {
		if _, found := slices.BinarySearch(b, id); !found {
			out = append(out, id)
		}
	}
	return out
}

func compare(field string, oldValue, newValue *string) (domain.FieldChange, bool) {
	if equal(oldValue, newValue) {
		return domain.FieldChange{}, false
	}
	return domain.FieldChange{Field: field, OldValue: oldValue, NewValue: newValue}, true
}

func equal(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func entry(taskID string, action domain.AuditAction, actorID string, now time.Time, changes []domain.FieldChange) *domain.AuditLogEntry {
	if changes == nil {
		changes = []domain.FieldChange{}
	}
	return &domain.AuditLogEntry{
		TaskID:    taskID,
		Action:    action,
		ActorID:   actorID,
		Changes:   changes,
		CreatedAt: now,
	}
}

func set(field, value string) domain.FieldChange {
	return domain.FieldChange{Field: field, NewValue: ptr(value)}
}

func dateValue(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return ptr(domain.FormatDate(*t))
}

// joinIDs renders a sorted ID set as a comma-separated list.
func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func canonicalText(s string) string {
	return strings.TrimSpace(s)
}

func ptr(s string) *string {
	return &s
}
