// Package user holds the user model, credential hashing and the user
// repository backed by a JSON file.
package user

import "time"

// Role represents the role of a user in the system.
type Role string

const (
	// RoleUser is a regular user with limited permissions.
	RoleUser Role = "User"
	// RoleAdmin is an administrator with full permissions.
	RoleAdmin Role = "Admin"
)

// IsValid checks if the role is a known Role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is a cloudvault account. The password is never stored; only the
// PBKDF2 hash and its salt are.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"passwordHash"`
	PasswordSalt string     `json:"passwordSalt"`
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}
