package handler

import (
	"net/http"

	"github.com/mtlprog/taskmesh/internal/handler/dto"
)

// RegisterUserResponse is returned by POST /users. Token is empty when the
// service does not issue tokens.
type RegisterUserResponse struct {
	User  dto.UserResponse `json:"user"`
	Token string           `json:"token,omitempty"`
}

// handleRegisterUser creates an identity. It is the only unauthenticated
// API route.
func (h *Handler) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dto.RegisterUserRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	user, err := h.users.Register(ctx, req.Params())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := RegisterUserResponse{User: dto.ToUserResponse(user)}
	if h.issuer != nil {
		token, err := h.issuer.Issue(user.ID)
		if err != nil {
			h.logger.Error("failed to issue token", "user_id", user.ID, "error", err)
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token")
			return
		}
		resp.Token = token
	}

	respondJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := currentUser(w, r); !ok {
		return
	}

	userID, ok := extractID(w, r)
	if !ok {
		return
	}

	user, err := h.users.Get(ctx, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToUserResponse(user))
}

// handleUpdateUser changes the caller's own profile.
func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}

	userID, ok := extractID(w, r)
	if !ok {
		return
	}

	var req dto.UpdateUserRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	user, err := h.users.Update(ctx, actorID, userID, req.Params())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToUserResponse(user))
}
