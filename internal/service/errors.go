package service

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindDuplicate
	KindAuthentication
	KindForbidden
	KindNotFound
	KindDelivery
)

// Error carries a user-safe message and the category handlers map to a status.
type Error struct {
	Kind    ErrorKind
	Message string
	Field   string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches sentinels by kind and message so wrapped copies still compare.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind && e.Message == other.Message
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func validationError(field string, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func duplicateError(field string, message string) *Error {
	return &Error{Kind: KindDuplicate, Field: field, Message: message}
}

func deliveryError(err error) *Error {
	return &Error{Kind: KindDelivery, Message: ErrEmailDelivery.Message, cause: err}
}

func internalError(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: fmt.Errorf("%s: %w", op, err)}
}

var (
	ErrInvalidInput           = newError(KindValidation, "invalid input")
	ErrInvalidCredentials     = newError(KindAuthentication, "invalid email or password")
	ErrEmailNotVerified       = newError(KindForbidden, "please verify your email before logging in")
	ErrInvalidToken           = newError(KindValidation, "invalid or expired token")
	ErrInvalidResetGrant      = newError(KindAuthentication, "invalid or expired reset token")
	ErrTwoFactorRequired      = newError(KindValidation, "two-factor code required")
	ErrInvalidTwoFactorCode   = newError(KindValidation, "invalid two-factor code")
	ErrTwoFactorNotEnrolled   = newError(KindNotFound, "two-factor authentication is not enabled")
	ErrSecurityInfoMismatch   = newError(KindValidation, "security answers do not match")
	ErrSecurityInfoMissing    = newError(KindNotFound, "security questions are not set")
	ErrAlreadyVerified        = newError(KindValidation, "this email is already verified")
	ErrEmailAlreadyRegistered = duplicateError("email", "User with this email already exists")
	ErrUsernameTaken          = duplicateError("username", "Username already taken")
	ErrUserNotFound           = newError(KindNotFound, "user not found")
	ErrEmailDelivery          = newError(KindDelivery, "email could not be delivered, please retry")
	ErrNoUpdateFields         = validationError("", "no valid fields to update")
	ErrAccountProofFailed     = newError(KindAuthentication, "invalid email or two-factor code")
	ErrEmailLinkDisabled      = newError(KindValidation, "email verification is not enabled")
)

// KindOf classifies any error; unknown errors are internal.
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}
