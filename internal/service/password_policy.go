package service

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	MinPasswordLength = 8
	passwordSymbols   = `!@#$%^&*(),.?":{}|<>`
)

// ValidatePassword checks the strength rules in a fixed order (length,
// uppercase, lowercase, digit, symbol) and reports the first one that fails.
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return passwordError(fmt.Sprintf("Password should be at least %d characters long.", MinPasswordLength))
	}
	if !strings.ContainsFunc(password, isASCIIUpper) {
		return passwordError("Password should include at least one uppercase letter.")
	}
	if !strings.ContainsFunc(password, isASCIILower) {
		return passwordError("Password should include at least one lowercase letter.")
	}
	if !strings.ContainsFunc(password, isASCIIDigit) {
		return passwordError("Password should include at least one number.")
	}
	if !strings.ContainsAny(password, passwordSymbols) {
		return passwordError("Password should include at least one symbol.")
	}
	return nil
}

func passwordError(message string) *Error {
	return validationError("password", message)
}

func isASCIIUpper(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsUpper(r)
}

func isASCIILower(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsLower(r)
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
