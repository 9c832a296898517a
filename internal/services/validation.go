package services

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jjudge-oj/accounts/types"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	maxEmailLen    = 255
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
	maxFullNameLen   = 100
)

// fieldErrors collects one message per field; the first failure wins.
type fieldErrors map[string]string

func (f fieldErrors) add(field, message string) {
	if _, exists := f[field]; !exists {
		f[field] = message
	}
}

func (f fieldErrors) check(field, message string) {
	if message != "" {
		f.add(field, message)
	}
}

func validateUsername(username string) string {
	n := utf8.RuneCountInString(username)
	switch {
	case username == "":
		return "Username is required"
	case n < minUsernameLen || n > maxUsernameLen:
		return "Username must be between 3 and 50 characters"
	case strings.IndexFunc(username, unicode.IsSpace) >= 0:
		return "Username must not contain whitespace"
	}
	return ""
}

func validateEmail(email string) string {
	if email == "" {
		return "Email is required"
	}
	if len(email) > maxEmailLen {
		return "Email must be at most 255 characters"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "Email should be valid"
	}
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 {
		return "Email should be valid"
	}
	return ""
}

// validatePassword enforces length plus one character from each class:
// upper, lower, digit and symbol.
func validatePassword(password string) string {
	switch {
	case password == "":
		return "Password is required"
	case utf8.RuneCountInString(password) < minPasswordLen:
		return "Password must be at least 8 characters"
	case len(password) > maxPasswordBytes:
		return "Password must be at most 72 bytes"
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return "Password must contain upper and lower case letters, a digit and a special character"
	}
	return ""
}

func validateFullName(fullName string) string {
	if utf8.RuneCountInString(fullName) > maxFullNameLen {
		return "Full name must be at most 100 characters"
	}
	return ""
}

func parseRole(raw string) (types.Role, string) {
	role, ok := types.ParseRole(raw)
	if !ok {
		return "", "Role must be ADMIN or USER"
	}
	return role, ""
}

func parseStatus(raw string) (types.Status, string) {
	status, ok := types.ParseStatus(raw)
	if !ok {
		return "", "Status must be ACTIVE, INACTIVE or SUSPENDED"
	}
	return status, ""
}
