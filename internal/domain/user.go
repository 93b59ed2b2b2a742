// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
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
)

type UserID string

// Identity is the stable external identity a connection may announce with identify.
type Identity struct {
	ID     UserID `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(id, name, avatar string) (*Identity, error) {
	u := &Identity{ID: UserID(id), Name: name, Avatar: avatar}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *Identity) Validate() error {
	if len(u.ID) == 0 {
		return ErrUserIDEmpty
	}
	if len(u.ID) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	if len(u.Name) == 0 {
		return ErrUsernameEmpty
	}
	if len(u.Name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

func (u *Identity) SetName(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Name = name
	return nil
}
