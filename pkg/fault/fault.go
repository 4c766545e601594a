// Package fault defines the typed error taxonomy shared by the
// authorization core. Every failure carries a stable machine-readable
// code suitable for mapping onto any transport's status codes; only the
// request gate performs that mapping.
package fault

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable failure code.
type Code string

const (
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodeNoMembership      Code = "NO_MEMBERSHIP"
	CodeForbidden         Code = "FORBIDDEN"
	CodeAlreadyMember     Code = "ALREADY_MEMBER"
	CodeInvitationPending Code = "INVITATION_PENDING"
	CodeInvalidInvitation Code = "INVALID_INVITATION"
	CodeAlreadyAccepted   Code = "ALREADY_ACCEPTED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
)

// Error is a failure with a stable code and a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two fault errors by code, so sentinel comparisons with
// errors.Is work across wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// New creates a fault with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault that wraps an underlying error.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Unauthenticated reports a request with no verified identity.
func Unauthenticated(format string, args ...interface{}) *Error {
	return New(CodeUnauthenticated, format, args...)
}

// NoMembership reports a verified identity that is not part of the
// target tenant.
func NoMembership(format string, args ...interface{}) *Error {
	return New(CodeNoMembership, format, args...)
}

// Forbidden reports a membership whose permission or rank is
// insufficient.
func Forbidden(format string, args ...interface{}) *Error {
	return New(CodeForbidden, format, args...)
}

// NotFound reports an unknown invitation or membership.
func NotFound(format string, args ...interface{}) *Error {
	return New(CodeNotFound, format, args...)
}

// CodeOf extracts the stable code from an error chain. The second
// return is false when err carries no fault.
func CodeOf(err error) (Code, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return "", false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}
