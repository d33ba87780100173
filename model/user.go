package model

import (
	"net/mail"
	"strings"
	"time"

	"realtimechat/errs"
)

// User is a profile record in the document store, keyed by the identity provider's id.
type User struct {
	ID        string    `gorm:"primaryKey" json:"uid"`
	Handle    string    `gorm:"not null" json:"handle"`
	Email     string    `gorm:"index" json:"email"`
	AvatarRef *string   `json:"avatar_ref"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"updated"`
}

// NewUser validates a profile. When handle is empty it is derived from the
// local part of email; records with neither are rejected.
func NewUser(id, email, handle string, avatar *string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, errs.Validation("user id is required")
	}

	email = strings.TrimSpace(email)
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return User{}, errs.Validation("email %q is malformed", email)
		}
		email = addr.Address
	}

	handle = strings.TrimSpace(handle)
	if handle == "" {
		if email == "" {
			return User{}, errs.Validation("user %s needs a handle or an email", id)
		}
		handle = HandleFromEmail(email)
	}

	if avatar != nil {
		a := strings.TrimSpace(*avatar)
		if a == "" {
			avatar = nil
		} else {
			avatar = &a
		}
	}

	return User{ID: id, Handle: handle, Email: email, AvatarRef: avatar}, nil
}

// HandleFromEmail returns the local part of an address.
func HandleFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
