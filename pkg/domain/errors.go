package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failures surfaced by the store. Callers branch on
// the code, not on the message.
type ErrorCode int

const (
	ErrInternalError ErrorCode = iota + 1
	// ErrBadFileFormat marks a DICOM payload that cannot be indexed, for
	// instance one missing its SOP instance UID.
	ErrBadFileFormat
	// ErrNullPointer marks a write that declared a positive size but handed
	// over no buffer.
	ErrNullPointer
	// ErrBadRange marks an out-of-bounds range read.
	ErrBadRange
	// ErrInexistentFile marks a storage key with no content behind it.
	ErrInexistentFile
	// ErrUnknownResource marks a lookup for a resource absent from the index.
	ErrUnknownResource
	// ErrFullStorage means the configured quotas cannot accommodate a new
	// instance even after recycling.
	ErrFullStorage
	// ErrBadSequenceOfCalls marks an API call that violates the expected
	// protocol, such as creating a resource that already exists.
	ErrBadSequenceOfCalls
	ErrParameterOutOfRange
	ErrNotImplemented
	// ErrDatabase wraps failures of the underlying index database.
	ErrDatabase
	// ErrRevision marks an optimistic-concurrency conflict on a metadata or
	// attachment revision.
	ErrRevision
)

func (c ErrorCode) String() string {
	switch c {
	case ErrInternalError:
		return "InternalError"
	case ErrBadFileFormat:
		return "BadFileFormat"
	case ErrNullPointer:
		return "NullPointer"
	case ErrBadRange:
		return "BadRange"
	case ErrInexistentFile:
		return "InexistentFile"
	case ErrUnknownResource:
		return "UnknownResource"
	case ErrFullStorage:
		return "FullStorage"
	case ErrBadSequenceOfCalls:
		return "BadSequenceOfCalls"
	case ErrParameterOutOfRange:
		return "ParameterOutOfRange"
	case ErrNotImplemented:
		return "NotImplemented"
	case ErrDatabase:
		return "Database"
	case ErrRevision:
		return "Revision"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error carries an ErrorCode together with a human-readable message and an
// optional wrapped cause.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

// NewError builds an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause to a coded error. The cause remains reachable
// through errors.Unwrap.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the ErrorCode from err, unwrapping as needed. Errors that
// do not carry a code map to ErrInternalError; a nil error has no code and
// yields false.
func CodeOf(err error) (ErrorCode, bool) {
	if err == nil {
		return 0, false
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code, true
	}
	return ErrInternalError, true
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}
