package service

import (
	"slices"

	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/events"
)

func taskPayload(t *domain.Task, updatedBy string) events.TaskPayload {
	var dueDate *string
	if t.DueDate != nil {
		d := domain.FormatDate(*t.DueDate)
		dueDate = &d
	}
	assignees := slices.Clone(t.AssignedUserIDs)
	if assignees == nil {
		assignees = []string{}
	}
	return events.TaskPayload{
		ID:              t.ID,
		Title:           t.Title,
		Description:     t.Description,
		Status:          string(t.Status),
		Priority:        string(t.Priority),
		DueDate:         dueDate,
		AuthorID:        t.AuthorID,
		AssignedUserIDs: assignees,
		UpdatedBy:       updatedBy,
		Version:         t.Version,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func commentPayload(c *domain.Comment, t *domain.Task, author *domain.UserReadModel) events.CommentPayload {
	assignees := slices.Clone(t.AssignedUserIDs)
	if assignees == nil {
		assignees = []string{}
	}
	return events.CommentPayload{
		ID:        c.ID,
		TaskID:    t.ID,
		TaskTitle: t.Title,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
		Author: events.Author{
			ID:    author.ID,
			Name:  author.Name,
			Email: author.Email,
		},
		TaskAuthorID:    t.AuthorID,
		AssignedUserIDs: assignees,
	}
}

func userPayload(u *domain.IdentityUser) events.UserPayload {
	return events.UserPayload{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
}
