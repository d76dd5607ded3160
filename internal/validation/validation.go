package validation

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
)

const (
	MaxEmailLength   = 320
	MaxNameLength    = 200
	MaxMessageLength = 2000
)

// NormalizeEmail trims and lower-cases an email address and checks that it parses as a
// bare address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperrors.Validation("email is required")
	}
	if len(email) > MaxEmailLength {
		return "", apperrors.Validation("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.Validation("invalid email address")
	}
	return email, nil
}

// RequireName trims value and checks it is present and at most MaxNameLength runes.
func RequireName(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperrors.Validation("%s is required", field)
	}
	return OptionalText(field, value, MaxNameLength)
}

// OptionalText trims value and checks it is at most max runes.
func OptionalText(field, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) > max {
		return "", apperrors.Validation("%s must be at most %d characters", field, max)
	}
	return value, nil
}
