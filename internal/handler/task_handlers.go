package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/handler/dto"
	"github.com/mtlprog/taskmesh/internal/repository"
)

// handleCreateTask creates a new task authored by the caller.
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.CreateTaskRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	params, err := req.Params()
	if err != nil {
		respondDomainError(w, err)
		return
	}

	task, entries, err := h.tasks.CreateTask(ctx, userID, params)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.TaskMutationResponse{
		Task:     dto.ToTaskResponse(task),
		AuditLog: dto.ToAuditEntries(entries),
	})
}

// handleGetTask retrieves a task with its audit log and comments.
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r)
	if !ok {
		return
	}

	details, err := h.tasks.GetTask(ctx, userID, taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskDetailResponse(details))
}

// handleUpdateTask applies a partial update. The response lists only the
// audit entries this request produced; it is empty when nothing changed.
func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r)
	if !ok {
		return
	}

	var req dto.UpdateTaskRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	changes, err := req.Changes()
	if err != nil {
		respondDomainError(w, err)
		return
	}

	task, entries, err := h.tasks.UpdateTask(ctx, userID, taskID, changes)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.TaskMutationResponse{
		Task:     dto.ToTaskResponse(task),
		AuditLog: dto.ToAuditEntries(entries),
	})
}

// handleDeleteTask soft-deletes a task.
func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r)
	if !ok {
		return
	}

	if err := h.tasks.DeleteTask(ctx, userID, taskID); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleCreateComment adds a comment to a task.
func (h *Handler) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r)
	if !ok {
		return
	}

	var req dto.CreateCommentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	comment, err := h.tasks.AddComment(ctx, userID, taskID, req.Content)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToCommentResponse(comment))
}

// handleListTasks lists tasks the caller authored or is assigned to.
// Query: ?status=TODO,IN_PROGRESS&priority=HIGH&sort=-priority,created_at&page=1&size=20
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	sort, err := repository.ParseSort(query.Get("sort"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	filters := repository.TaskListFilters{Sort: sort}
	for _, status := range splitList(query.Get("status")) {
		filters.Statuses = append(filters.Statuses, domain.TaskStatus(status))
	}
	for _, priority := range splitList(query.Get("priority")) {
		filters.Priorities = append(filters.Priorities, domain.TaskPriority(priority))
	}
	filters.Page, filters.Size = pageParams(r)

	result, err := h.tasks.ListTasks(ctx, userID, filters)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			respondDomainError(w, err)
			return
		}
		h.logger.Error("failed to list tasks", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list tasks")
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTasksListResponse(result))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}
