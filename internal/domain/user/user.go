package user

import (
	"errors"
)

type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleBuilder Role = "BUILDER"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleBuilder
}

type User struct {
	ID          string `json:"id"`
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber"`
	Role        Role   `json:"role"`
}

// Key is the identity used by the reconciliation fold.
func (u User) Key() string { return u.ID }

var ErrNotFound = errors.New("user not found")

type RegisterRequest struct {
	FullName    string `json:"fullName" binding:"required,min=2,max=120"`
	PhoneNumber string `json:"phoneNumber" binding:"required,len=10,numeric"`
}

// Patch is a partial-update payload. Nil fields are left untouched,
// never reset to their zero value.
type Patch struct {
	FullName    *string `json:"fullName" binding:"omitempty,min=2,max=120"`
	PhoneNumber *string `json:"phoneNumber" binding:"omitempty,len=10,numeric"`
	Role        *Role   `json:"role" binding:"omitempty,oneof=STUDENT BUILDER"`
}

// Empty reports whether the patch carries no fields at all.
func (p Patch) Empty() bool {
	return p.FullName == nil && p.PhoneNumber == nil && p.Role == nil
}

// TouchesIdentity reports whether the patch changes a field that is
// denormalized onto the user's requests.
func (p Patch) TouchesIdentity() bool {
	return p.FullName != nil || p.PhoneNumber != nil
}

// ApplyTo merges the patch into a copy of u.
func (p Patch) ApplyTo(u User) User {
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.PhoneNumber != nil {
		u.PhoneNumber = *p.PhoneNumber
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	return u
}
