package domain

import (
	"errors"
	"fmt"
)

// Code classifies a failure the way callers are expected to react to it.
type Code string

// Failure classification codes surfaced by every layer of the store.
const (
	// CodeInvalidArgument marks requests missing required identifying fields or
	// carrying predicates the compiler rejects.
	CodeInvalidArgument Code = "invalid_argument"
	// CodeAlreadyExists marks name-uniqueness violations and writes whose target
	// state was already in place (zero affected rows on add/remove operations).
	CodeAlreadyExists Code = "already_exists"
	// CodeNotFound marks reads that expected exactly one entity and found none.
	CodeNotFound Code = "not_found"
	// CodeUnimplemented marks operations a backend advertises but does not
	// support, and predicate value kinds outside the closed set.
	CodeUnimplemented Code = "unimplemented"
	// CodeInternal marks unexpected storage or serialization failures.
	CodeInternal Code = "internal"
)

// Error is the typed error surfaced to callers. It carries a classification
// code and a human-readable message; no failure is retried internally.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Errorf builds a classified error from a format string.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapInternal classifies an unexpected failure as internal, preserving the cause.
func WrapInternal(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: message, cause: cause}
}

// CodeOf extracts the classification code from err, or CodeInternal when err
// is not a classified error. A nil err yields the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsInvalidArgument reports whether err is classified invalid-argument.
func IsInvalidArgument(err error) bool { return CodeOf(err) == CodeInvalidArgument }

// IsAlreadyExists reports whether err is classified already-exists.
func IsAlreadyExists(err error) bool { return CodeOf(err) == CodeAlreadyExists }

// IsNotFound reports whether err is classified not-found.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsUnimplemented reports whether err is classified unimplemented.
func IsUnimplemented(err error) bool { return CodeOf(err) == CodeUnimplemented }

// IsInternal reports whether err is classified internal.
func IsInternal(err error) bool { return CodeOf(err) == CodeInternal }
