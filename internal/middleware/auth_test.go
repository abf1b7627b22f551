package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mtlprog/taskmesh/internal/auth"
	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/middleware"
)

type stubVerifier map[string]error

func (s stubVerifier) Verify(_ context.Context, token string) (*auth.Claims, error) {
	if err, ok := s[token]; ok {
		return nil, err
	}
	return &auth.Claims{UserID: "user-" + token}, nil
}

func TestAuthenticate(t *testing.T) {
	verifier := stubVerifier{
		"expired": domain.ErrExpiredToken,
		"bad":     domain.ErrInvalidToken,
		"broken":  errors.New("key store down"),
	}
	mw := middleware.NewAuthMiddleware(verifier)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = middleware.GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := mw.Authenticate(next)

	tests := []struct {
		name   string
		header string
		status int
		user   string
	}{
		{"valid", "Bearer abc", http.StatusNoContent, "user-abc"},
		{"lowercase scheme", "bearer abc", http.StatusNoContent, "user-abc"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"expired", "Bearer expired", http.StatusUnauthorized, ""},
		{"invalid", "Bearer bad", http.StatusUnauthorized, ""},
		{"verifier failure", "Bearer broken", http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.user, seen)
		})
	}
}

func TestGetUserIDFromContext_Missing(t *testing.T) {
	_, err := middleware.GetUserIDFromContext(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
