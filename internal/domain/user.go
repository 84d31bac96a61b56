// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrInvalidPresence = errors.New("invalid presence status")
)

type UserID string

// Role distinguishes ordinary users from professionals that can be called.
type Role string

const (
	RoleUser         Role = "user"
	RoleProfessional Role = "professional"
)

// Presence is owned by the profile collaborator; the call core only reads it.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
	PresenceBusy    Presence = "busy"
)

func ParsePresence(s string) (Presence, error) {
	switch p := Presence(s); p {
	case PresenceOnline, PresenceOffline, PresenceBusy:
		return p, nil
	}
	return "", ErrInvalidPresence
}

type User struct {
	ID               UserID   `json:"id" mapstructure:"id"`
	Username         string   `json:"name" mapstructure:"name"`
	Role             Role     `json:"role" mapstructure:"role"`
	Status           Presence `json:"status" mapstructure:"status"`
	Category         string   `json:"category,omitempty" mapstructure:"category"`
	PricePerMinute   float64  `json:"price_per_minute" mapstructure:"price_per_minute"`
	TokenBalance     int      `json:"token_balance" mapstructure:"token_balance"`
	ProfessionalMode bool     `json:"professional_mode" mapstructure:"professional_mode"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(username string) (*User, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	id := UserID(uuid.NewString())
	return &User{ID: id, Username: username, Role: RoleUser, Status: PresenceOffline}, nil
}

// ValidateUserID checks an identity taken from a URL or header.
func ValidateUserID(id UserID) error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

func (u *User) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}

func (u *User) IsProfessional() bool {
	return u.Role == RoleProfessional || u.ProfessionalMode
}

// Callable reports whether a call may be placed to u right now.
func (u *User) Callable() bool {
	return u.Status == PresenceOnline
}
