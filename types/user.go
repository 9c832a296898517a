package types

import (
	"math"
	"strings"
	"time"
)

// Role is the authorization level of an account.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// ParseRole accepts a role name in any case.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleUser:
		return RoleUser, true
	default:
		return "", false
	}
}

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusActive:
		return StatusActive, true
	case StatusInactive:
		return StatusInactive, true
	case StatusSuspended:
		return StatusSuspended, true
	default:
		return "", false
	}
}

// User represents an account in the system.
// It contains identity, role, status, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	// Uniqueness is case-insensitive.
	Username string `json:"username" db:"username"`

	// Email is the user's email address, unique case-insensitively.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// FullName is the user's optional display name.
	FullName string `json:"fullName" db:"full_name"`

	Role   Role   `json:"role" db:"role"`
	Status Status `json:"status" db:"status"`

	// ProfilePicture is the object storage key of the user's picture, if any.
	ProfilePicture string `json:"profilePicture" db:"profile_picture"`

	// CreatedAt is assigned by the store on insert and never changes.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// LastLogin is set only by a successful login.
	LastLogin *time.Time `json:"lastLogin" db:"last_login"`
}

// IsActive reports whether the account may sign in.
func (u User) IsActive() bool {
	return u.Status == StatusActive
}

// UserFilter selects a page of users.
type UserFilter struct {
	// Page is zero-based.
	Page      int
	Size      int
	Sort      string
	Direction string
	Keyword   string
	Status    Status
}

// Offset returns the number of rows to skip for the filter's page. Callers
// keep Page within MaxPage(Size).
func (f UserFilter) Offset() int {
	return f.Page * f.Size
}

// MaxPage is the largest page index whose offset still fits in an int.
func MaxPage(size int) int {
	if size <= 0 {
		return 0
	}
	return math.MaxInt/size - 1
}

// Page is one slice of a sorted result set.
type Page[T any] struct {
	Items         []T
	Page          int
	Size          int
	TotalElements int
}

// TotalPages returns the number of pages needed for TotalElements.
func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return (p.TotalElements + p.Size - 1) / p.Size
}

// IsFirst reports whether p is the first page.
func (p Page[T]) IsFirst() bool {
	return p.Page == 0
}

// IsLast reports whether no rows follow p.
func (p Page[T]) IsLast() bool {
	return p.Page >= p.TotalPages()-1
}
