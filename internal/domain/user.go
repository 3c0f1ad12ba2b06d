// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
)

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// ParticipantID is the stable per-session display name of a room member.
// It keys the voice mesh and routes point-to-point envelopes. Uniqueness
// is assumed, not enforced here; the room-membership owner guarantees it.
type ParticipantID string

type User struct {
	ID       ParticipantID `json:"id"`
	Username string        `json:"username"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(username string) (*User, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &User{ID: ParticipantID(username), Username: username}, nil
}
