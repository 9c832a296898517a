package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateUsername is returned when another user already holds the
	// username, compared case-insensitively.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrDuplicateEmail is returned when another user already holds the email,
	// compared case-insensitively.
	ErrDuplicateEmail = errors.New("email already exists")
)
