package handler

import (
	"net/http"

	"github.com/mtlprog/taskmesh/internal/handler/dto"
)

// handleOutboxStats reports how many outbox events are pending, sent and
// dead. A growing dead count means the broker rejected events for good.
func (h *Handler) handleOutboxStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := currentUser(w, r); !ok {
		return
	}

	stats, err := h.outbox.Stats(ctx)
	if err != nil {
		h.logger.Error("failed to fetch outbox stats", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch outbox stats")
		return
	}

	respondJSON(w, http.StatusOK, dto.ToOutboxStatsResponse(stats))
}

// handleTaskStats summarizes the caller's tasks.
func (h *Handler) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	stats, err := h.tasks.TaskStats(ctx, userID)
	if err != nil {
		h.logger.Error("failed to fetch task stats", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch task stats")
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskStatsResponse(stats))
}
