// Package auth verifies bearer credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mtlprog/taskmesh/internal/domain"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

// Claims is the verified identity behind a credential.
type Claims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// Verifier checks a bearer credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

type tokenClaims struct {
	jwt.RegisteredClaims
}

// JWT signs and verifies HS256 tokens whose subject is the user ID.
type JWT struct {
	secret    []byte
	lifetime  time.Duration
	clockSkew time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

var _ Verifier = (*JWT)(nil)

// NewJWT creates a JWT verifier and issuer.
func NewJWT(secret string, lifetime time.Duration, logger *slog.Logger) (*JWT, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", MinSecretLength)
	}
	return &JWT{
		secret:    []byte(secret),
		lifetime:  lifetime,
		clockSkew: time.Minute,
		logger:    logger.With("component", "auth"),
		now:       time.Now,
	}, nil
}

// Issue returns a signed token for userID.
func (j *JWT) Issue(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}

	now := j.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.lifetime)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates token. Expired tokens yield
// domain.ErrExpiredToken, everything else domain.ErrInvalidToken.
func (j *JWT) Verify(_ context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, domain.ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return j.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(j.clockSkew),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		j.logger.Debug("token rejected", "error", err)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredToken
		}
		return nil, domain.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, domain.ErrInvalidToken
	}

	return &Claims{
		UserID:    claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
