package domain

import (
	"strings"
	"time"
)

// IdentityUser is the source-of-truth user record owned by the identity service.
type IdentityUser struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RegisterUserParams holds the fields accepted when registering a user.
type RegisterUserParams struct {
	Email string
	Name  string
}

// Validate checks the registration fields.
func (p *RegisterUserParams) Validate() error {
	p.Email = strings.TrimSpace(p.Email)
	p.Name = strings.TrimSpace(p.Name)
	if p.Email == "" {
		return ErrEmptyEmail
	}
	if p.Name == "" {
		return ErrEmptyName
	}
	return nil
}
