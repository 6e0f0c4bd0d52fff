package models

import (
	"strings"
	"time"

	dErrors "microcred/pkg/domain-errors"
)

const MaxUserIDLength = 128

// User is a registered account. The password is only ever held as a hash.
type User struct {
	UserID       string    `json:"userId"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RegisterRequest is the input of a registration.
type RegisterRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// Normalize trims identifiers. The password is used exactly as given.
func (r *RegisterRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Email = strings.TrimSpace(r.Email)
}

func (r *RegisterRequest) Validate() error {
	if r.UserID == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "userId and password are required")
	}
	if len(r.UserID) > MaxUserIDLength {
		return dErrors.New(dErrors.CodeValidation, "userId is too long")
	}
	if r.Email != "" && !strings.Contains(r.Email, "@") {
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	return nil
}

// LoginRequest is the input of the demo login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
}

// Validate accepts anything: login is a stub that never rejects.
func (r *LoginRequest) Validate() error {
	return nil
}
