package service

import (
	"slices"

	"github.com/mtlprog/taskmesh/internal/events"
)

// TaskCreatedRecipients returns the assignees of a new task, minus its author.
func TaskCreatedRecipients(p events.TaskPayload) []string {
	return recipientSet(p.AssignedUserIDs, p.AuthorID)
}

// TaskUpdatedRecipients returns who hears about an update: every assignee and
// the author, minus the updater. An author who assigned themselves is treated
// as acting on their own task and is skipped as well.
func TaskUpdatedRecipients(p events.TaskPayload) []string {
	ids := slices.Clone(p.AssignedUserIDs)
	if !slices.Contains(ids, p.AuthorID) {
		ids = append(ids, p.AuthorID)
		return recipientSet(ids, p.UpdatedBy)
	}
	return recipientSet(ids, p.UpdatedBy, p.AuthorID)
}

// CommentRecipients returns the task author and assignees, minus whoever
// wrote the comment.
func CommentRecipients(p events.CommentPayload) []string {
	ids := append([]string{p.TaskAuthorID}, p.AssignedUserIDs...)
	return recipientSet(ids, p.Author.ID)
}

// recipientSet returns the sorted unique non-empty ids not in exclude.
func recipientSet(ids []string, exclude ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || slices.Contains(exclude, id) {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
