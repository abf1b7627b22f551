package handler

import (
	"net/http"

	"github.com/mtlprog/taskmesh/internal/handler/dto"
)

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	page, size := pageParams(r)

	result, err := h.notifications.List(ctx, userID, page, size)
	if err != nil {
		h.logger.Error("failed to list notifications", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list notifications")
		return
	}

	respondJSON(w, http.StatusOK, dto.ToNotificationsListResponse(result))
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	count, err := h.notifications.UnreadCount(ctx, userID)
	if err != nil {
		h.logger.Error("failed to count notifications", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to count notifications")
		return
	}

	respondJSON(w, http.StatusOK, dto.UnreadCountResponse{Count: count})
}

// handleMarkRead marks one of the caller's notifications read. Someone
// else's notification answers 404.
func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	notificationID, ok := extractID(w, r)
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(ctx, userID, notificationID); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	updated, err := h.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		h.logger.Error("failed to mark notifications read", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to mark notifications read")
		return
	}

	respondJSON(w, http.StatusOK, dto.MarkAllReadResponse{Updated: updated})
}
