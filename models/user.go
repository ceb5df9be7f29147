package models

import (
	"fmt"
	"time"
)

// Role separates administrators from regular users.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleRegular Role = "regular"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleRegular }

// ParseRole converts s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("models: unknown role %q", s)
	}
	return r, nil
}

// User represents a row in the "users" table.
// Fields map 1-to-1 with columns; no automatic relation loading.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone,omitempty"`
	Pincode      string    `json:"pincode,omitempty"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Actor returns the identity this user acts as.
func (u *User) Actor() Actor { return Actor{UserID: u.ID, Role: u.Role} }

// CreateUserParams holds the fields required to create a new user.
// Keeping input types separate from the domain model prevents accidental
// mass-assignment and makes API contracts explicit.
type CreateUserParams struct {
	Username     string
	Email        string
	PasswordHash string
	FullName     string
	Phone        string
	Pincode      string
	Role         Role
}

// UpdateUserParams holds fields that can be updated. All fields are pointers
// so callers only set what needs changing; the repository builds the explicit
// SQL accordingly.
type UpdateUserParams struct {
	ID           int64
	Email        *string
	PasswordHash *string
	FullName     *string
	Phone        *string
	Pincode      *string
	Role         *Role
}
