package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taskmesh/internal/handler/dto"
	"github.com/mtlprog/taskmesh/internal/middleware"
	"github.com/mtlprog/taskmesh/internal/repository"
	"github.com/mtlprog/taskmesh/internal/service"
)

// TokenIssuer mints access tokens for newly registered users.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// Deps lists what the HTTP surface can serve. Route groups whose service is
// nil are not mounted, so one binary can expose any subset of the services.
type Deps struct {
	Pool           *pgxpool.Pool
	AuthMiddleware *middleware.AuthMiddleware
	Tasks          *service.TaskService
	Notifications  *service.NotificationService
	Users          *service.UserService
	Outbox         *repository.OutboxRepository
	Gateway        http.Handler
	Issuer         TokenIssuer
	Logger         *slog.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	pool          *pgxpool.Pool
	auth          *middleware.AuthMiddleware
	tasks         *service.TaskService
	notifications *service.NotificationService
	users         *service.UserService
	outbox        *repository.OutboxRepository
	gateway       http.Handler
	issuer        TokenIssuer
	logger        *slog.Logger
}

// New creates a new Handler instance with all dependencies.
func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pool:          deps.Pool,
		auth:          deps.AuthMiddleware,
		tasks:         deps.Tasks,
		notifications: deps.Notifications,
		users:         deps.Users,
		outbox:        deps.Outbox,
		gateway:       deps.Gateway,
		issuer:        deps.Issuer,
		logger:        logger.With("component", "http"),
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(h.logRequests)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.handleHealthz)

	if h.gateway != nil {
		r.Handle("/ws", h.gateway)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if h.users != nil {
			r.Post("/users", h.handleRegisterUser)
		}

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Authenticate)

			if h.tasks != nil {
				r.Get("/tasks", h.handleListTasks)
				r.Post("/tasks", h.handleCreateTask)
				r.Get("/tasks/stats", h.handleTaskStats)
				r.Get("/tasks/{id}", h.handleGetTask)
				r.Patch("/tasks/{id}", h.handleUpdateTask)
				r.Delete("/tasks/{id}", h.handleDeleteTask)
				r.Post("/tasks/{id}/comments", h.handleCreateComment)
			}

			if h.notifications != nil {
				r.Get("/notifications", h.handleListNotifications)
				r.Get("/notifications/unread-count", h.handleUnreadCount)
				r.Post("/notifications/read-all", h.handleMarkAllRead)
				r.Post("/notifications/{id}/read", h.handleMarkRead)
			}

			if h.users != nil {
				r.Get("/users/{id}", h.handleGetUser)
				r.Patch("/users/{id}", h.handleUpdateUser)
			}

			if h.outbox != nil {
				r.Get("/outbox/stats", h.handleOutboxStats)
			}
		})
	})

	return r
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.logger.Error("database health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps err through dto.MapDomainError.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	resp := dto.NewErrorResponse(code, message)
	resp.Error.Field = dto.FieldOf(err)
	respondJSON(w, status, resp)
}

// decodeRequest parses and validates a JSON body. It returns false after
// writing the error response.
func decodeRequest(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	if err := dto.Validate(req); err != nil {
		respondDomainError(w, err)
		return false
	}
	return true
}

// currentUser returns the authenticated caller. It returns false after
// writing the error response.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return "", false
	}
	return userID, true
}

// extractID extracts and validates a UUID path parameter.
// Returns (id, true) if valid, ("", false) if invalid (error already sent to client).
func extractID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "id is required")
		return "", false
	}

	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a valid UUID")
		return "", false
	}

	return id, true
}

// pageParams reads ?page=&size=. Invalid values fall back to defaults.
func pageParams(r *http.Request) (int, int) {
	query := r.URL.Query()

	page := 1
	if p := query.Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	size := 0
	if s := query.Get("size"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			size = n
		}
	}

	return page, size
}
