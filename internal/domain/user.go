// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
)

const (
	MaxUserIDLen = 64
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUnknownRole   = errors.New("unknown role")
)

type UserID string

func (id UserID) Validate() error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// Role is the clinical side a participant joins on.
type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
)

// ParseRole accepts the wire names of the two roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleProvider:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Initiates reports whether this role creates the offer. Providers call patients.
func (r Role) Initiates() bool { return r == RoleProvider }

type Participant struct {
	ID   UserID `json:"id"`
	Role Role   `json:"role"`
}

func (p Participant) Validate() error {
	if err := p.ID.Validate(); err != nil {
		return err
	}
	if _, err := ParseRole(string(p.Role)); err != nil {
		return err
	}
	return nil
}
