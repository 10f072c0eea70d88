package auth

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLen    = 5
	minDisplayNameLen = 3
	maxDisplayNameLen = 25
)

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return NewError(CodeInvalidEmail, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	// reject "Name <a@b>" forms; only the address itself is accepted
	if err != nil || addr.Address != email {
		return NewError(CodeInvalidEmail, "email is not a valid address")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return NewError(CodeWeakPassword, "password must be at least 5 characters")
	}
	return nil
}

// ValidateDisplayName checks the length of a sign-up display name.
func ValidateDisplayName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < minDisplayNameLen {
		return InvalidArgument("displayName", "display name must be at least 3 characters")
	}
	if n > maxDisplayNameLen {
		return InvalidArgument("displayName", "display name must be at most 25 characters")
	}
	return nil
}

// ValidateSignUp validates an email sign-up form, reporting the first
// failing field.
func ValidateSignUp(email, password, displayName string) error {
	if err := ValidateDisplayName(displayName); err != nil {
		return err
	}
	if err := ValidateEmail(email); err != nil {
		return err
	}
	return ValidatePassword(password)
}
