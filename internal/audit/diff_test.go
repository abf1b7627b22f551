package audit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/taskmesh/internal/audit"
	"github.com/mtlprog/taskmesh/internal/domain"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func baseTask() domain.Task {
	due := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return domain.Task{
		ID:              "task-1",
		Title:           "Write report",
		Description:     "Quarterly numbers",
		DueDate:         &due,
		Priority:        domain.TaskPriorityMedium,
		Status:          domain.TaskStatusTodo,
		AuthorID:        "U1",
		AssignedUserIDs: []string{"A", "B"},
	}
}

func strPtr(s string) *string { return &s }

func TestCreated(t *testing.T) {
	task, err := domain.NewTask(domain.NewTaskParams{
		Title:           "Write report",
		Description:     "Quarterly numbers",
		AuthorID:        "U1",
		AssignedUserIDs: []string{"U3", "U2"},
	}, now)
	require.NoError(t, err)

	entries := audit.Created(task, "U1", now)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionCreated, entries[0].Action)
	assert.Equal(t, "U1", entries[0].ActorID)

	fields := map[string]string{}
	for _, ch := range entries[0].Changes {
		assert.Nil(t, ch.OldValue, "created entries have no old value")
		require.NotNil(t, ch.NewValue)
		fields[ch.Field] = *ch.NewValue
	}
	assert.Equal(t, map[string]string{
		domain.FieldTitle:           "Write report",
		domain.FieldDescription:     "Quarterly numbers",
		domain.FieldStatus:          "TODO",
		domain.FieldPriority:        "MEDIUM",
		domain.FieldAssignedUserIDs: "U2,U3",
	}, fields)
}

func TestCreated_WithDueDate(t *testing.T) {
	due := time.Date(2026, 3, 20, 18, 30, 0, 0, time.UTC)
	task, err := domain.NewTask(domain.NewTaskParams{
		Title: "t", Description: "d", AuthorID: "U1", DueDate: &due,
	}, now)
	require.NoError(t, err)

	entries := audit.Created(task, "U1", now)
	require.Len(t, entries, 1)

	var found bool
	for _, ch := range entries[0].Changes {
		if ch.Field == domain.FieldDueDate {
			found = true
			assert.Equal(t, "2026-03-20", *ch.NewValue)
		}
		assert.NotEqual(t, domain.FieldAssignedUserIDs, ch.Field)
	}
	assert.True(t, found)
}

func TestDiff_NoChangesForEqualValues(t *testing.T) {
	before := baseTask()
	sameDue := time.Date(2026, 4, 1, 15, 45, 0, 0, time.UTC)
	status := domain.TaskStatusTodo
	priority := domain.TaskPriorityMedium

	entries := audit.Diff(before, domain.TaskChanges{
		Title:           strPtr("  Write report "),
		Description:     strPtr("Quarterly numbers"),
		Status:          &status,
		Priority:        &priority,
		DueDate:         &sameDue,
		AssignedUserIDs: &[]string{"B", "A", "A"},
	}, "U2", now)

	assert.Empty(t, entries)
}

func TestDiff_StatusAndPriorityAreSeparate(t *testing.T) {
	before := baseTask()
	status := domain.TaskStatusInProgress
	priority := domain.TaskPriorityUrgent

	entries := audit.Diff(before, domain.TaskChanges{Status: &status, Priority: &priority}, "U2", now)

	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditActionStatusChanged, entries[0].Action)
	assert.Equal(t, "TODO", *entries[0].Changes[0].OldValue)
	assert.Equal(t, "IN_PROGRESS", *entries[0].Changes[0].NewValue)
	assert.Equal(t, domain.AuditActionPriorityChanged, entries[1].Action)
	assert.Equal(t, "MEDIUM", *entries[1].Changes[0].OldValue)
	assert.Equal(t, "URGENT", *entries[1].Changes[0].NewValue)
}

func TestDiff_ScalarFieldsShareUpdatedEntry(t *testing.T) {
	before := baseTask()

	entries := audit.Diff(before, domain.TaskChanges{
		Title:       strPtr("Write annual report"),
		Description: strPtr("Annual numbers"),
	}, "U2", now)

	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionUpdated, entries[0].Action)
	require.Len(t, entries[0].Changes, 2)
	assert.Equal(t, domain.FieldTitle, entries[0].Changes[0].Field)
	assert.Equal(t, domain.FieldDescription, entries[0].Changes[1].Field)
}

func TestDiff_OnlyChangedScalarIsReported(t *testing.T) {
	before := baseTask()

	entries := audit.Diff(before, domain.TaskChanges{
		Title:       strPtr("Write report"),
		Description: strPtr("Other numbers"),
	}, "U2", now)

	require.Len(t, entries, 1)
	require.Len(t, entries[0].Changes, 1)
	assert.Equal(t, domain.FieldDescription, entries[0].Changes[0].Field)
}

func TestDiff_AssignmentSplit(t *testing.T) {
	before := baseTask()

	entries := audit.Diff(before, domain.TaskChanges{AssignedUserIDs: &[]string{"B", "C"}}, "U2", now)

	require.Len(t, entries, 2)

	added := entries[0]
	assert.Equal(t, domain.AuditActionAssignedUserAdded, added.Action)
	require.Len(t, added.Changes, 1)
	assert.Nil(t, added.Changes[0].OldValue)
	assert.Equal(t, "C", *added.Changes[0].NewValue)

	removed := entries[1]
	assert.Equal(t, domain.AuditActionAssignedUserRemoved, removed.Action)
	require.Len(t, removed.Changes, 1)
	assert.Equal(t, "A", *removed.Changes[0].OldValue)
	assert.Nil(t, removed.Changes[0].NewValue)
}

func TestDiff_AssignmentOnlyAdded(t *testing.T) {
	before := baseTask()

	entries := audit.Diff(before, domain.TaskChanges{AssignedUserIDs: &[]string{"A", "B", "D"}}, "U2", now)

	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionAssignedUserAdded, entries[0].Action)
	assert.Equal(t, "D", *entries[0].Changes[0].NewValue)
}

func TestDiff_DueDate(t *testing.T) {
	tests := []struct {
		name    string
		changes domain.TaskChanges
		wantOld *string
		wantNew *string
		want    int
	}{
		{
			name:    "moved",
			changes: domain.TaskChanges{DueDate: timePtr(time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))},
			wantOld: strPtr("2026-04-01"),
			wantNew: strPtr("2026-04-02"),
			want:    1,
		},
		{
			name:    "cleared",
			changes: domain.TaskChanges{ClearDueDate: true},
			wantOld: strPtr("2026-04-01"),
			want:    1,
		},
		{
			name:    "same day different clock",
			changes: domain.TaskChanges{DueDate: timePtr(time.Date(2026, 4, 1, 23, 59, 0, 0, time.UTC))},
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := audit.Diff(baseTask(), tt.changes, "U2", now)
			require.Len(t, entries, tt.want)
			if tt.want == 0 {
				return
			}
			assert.Equal(t, domain.AuditActionDueDateChanged, entries[0].Action)
			assert.Equal(t, tt.wantOld, entries[0].Changes[0].OldValue)
			assert.Equal(t, tt.wantNew, entries[0].Changes[0].NewValue)
		})
	}
}

func TestDiff_EntryCountMatchesCategories(t *testing.T) {
	before := baseTask()
	status := domain.TaskStatusDone
	priority := domain.TaskPriorityHigh
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	entries := audit.Diff(before, domain.TaskChanges{
		Title:           strPtr("New title"),
		Status:          &status,
		Priority:        &priority,
		DueDate:         &due,
		AssignedUserIDs: &[]string{"B", "C"},
	}, "U2", now)

	actions := make([]domain.AuditAction, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
		assert.Equal(t, "task-1", e.TaskID)
		assert.Equal(t, now, e.CreatedAt)
	}
	assert.Equal(t, []domain.AuditAction{
		domain.AuditActionUpdated,
		domain.AuditActionStatusChanged,
		domain.AuditActionPriorityChanged,
		domain.AuditActionDueDateChanged,
		domain.AuditActionAssignedUserAdded,
		domain.AuditActionAssignedUserRemoved,
	}, actions)
}

func TestDiff_IsDeterministic(t *testing.T) {
	status := domain.TaskStatusReview
	changes := domain.TaskChanges{Status: &status, AssignedUserIDs: &[]string{"C", "B"}}

	first := audit.Diff(baseTask(), changes, "U2", now)
	second := audit.Diff(baseTask(), changes, "U2", now)

	assert.Equal(t, first, second)
}

func TestDeleted(t *testing.T) {
	task := baseTask()
	entries := audit.Deleted(&task, "U1", now)

	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionDeleted, entries[0].Action)
	assert.Empty(t, entries[0].Changes)
}

func timePtr(t time.Time) *time.Time { return &t }
