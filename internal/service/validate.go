package service

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MinNameLen = 1
	MaxNameLen = 100

	MinEmailLen = 5
	MaxEmailLen = 100

	MinPasswordLen = 8
	MaxPasswordLen = 72 // bcrypt input limit in bytes
)

var (
	ErrEmailRequired    = errors.New("email is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrNameRequired     = errors.New("name is required")
	ErrInvalidEmail     = errors.New("invalid email")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrInvalidName      = errors.New("invalid name")
)

// normalizeEmail is the canonical form used for storage and lookups.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if n := len(email); n < MinEmailLen || n > MaxEmailLen {
		return fmt.Errorf("%w: must be %d to %d characters", ErrInvalidEmail, MinEmailLen, MaxEmailLen)
	}
	if strings.Count(email, "@") != 1 {
		return fmt.Errorf("%w: must contain exactly one @", ErrInvalidEmail)
	}
	local, domain, _ := strings.Cut(email, "@")
	if local == "" || domain == "" {
		return fmt.Errorf("%w: missing local part or domain", ErrInvalidEmail)
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if n := len(password); n < MinPasswordLen || n > MaxPasswordLen {
		return fmt.Errorf("%w: must be %d to %d bytes", ErrInvalidPassword, MinPasswordLen, MaxPasswordLen)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return ErrNameRequired
	}
	if n := len(name); n < MinNameLen || n > MaxNameLen {
		return fmt.Errorf("%w: must be %d to %d characters", ErrInvalidName, MinNameLen, MaxNameLen)
	}
	return nil
}

// IsValidationError reports whether err was caused by bad caller input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmailRequired) ||
		errors.Is(err, ErrPasswordRequired) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrInvalidPassword) ||
		errors.Is(err, ErrInvalidName)
}
