package evverrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the stable categories callers are
// allowed to branch on. The kind is part of the API contract; the wrapped
// message is not.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInputValidation
	KindInvalidTransition
	KindConflict
	KindLocked
	KindVerificationFailed
	KindTamperDetected
	KindAggregatorRetriable
	KindAggregatorTerminal
	KindAuthenticationFailed
	KindPermissionDenied
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInputValidation:
		return "InputValidation"
	case KindInvalidTransition:
		return "InvalidTransition"
	case KindConflict:
		return "Conflict"
	case KindLocked:
		return "Locked"
	case KindVerificationFailed:
		return "VerificationFailed"
	case KindTamperDetected:
		return "TamperDetected"
	case KindAggregatorRetriable:
		return "AggregatorRetriable"
	case KindAggregatorTerminal:
		return "AggregatorTerminal"
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with a stable kind and optional
// field-level context.
type Error struct {
	Kind   Kind
	Err    error
	Fields []string
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (fields: %v)", e.Kind, e.Err.Error(), e.Fields)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

// Used to satisfy the error interface: https://pkg.go.dev/errors.
// This is needed to use errors.Is() and errors.As() to check for specific errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// New ... constructs a kinded error from a message
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap ... attaches a kind to an existing error
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WithFields ... attaches field names to a validation error
func WithFields(kind Kind, err error, fields ...string) *Error {
	return &Error{Kind: kind, Err: err, Fields: fields}
}

// KindOf extracts the kind from an error chain, KindUnknown if absent.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsInputValidation(err error) bool    { return is(err, KindInputValidation) }
func IsInvalidTransition(err error) bool  { return is(err, KindInvalidTransition) }
func IsConflict(err error) bool           { return is(err, KindConflict) }
func IsLocked(err error) bool             { return is(err, KindLocked) }
func IsTamperDetected(err error) bool     { return is(err, KindTamperDetected) }
func IsRetriable(err error) bool          { return is(err, KindAggregatorRetriable) }
func IsTerminal(err error) bool           { return is(err, KindAggregatorTerminal) }
func IsAuthentication(err error) bool     { return is(err, KindAuthenticationFailed) }
func IsPermissionDenied(err error) bool   { return is(err, KindPermissionDenied) }
func IsNotFound(err error) bool           { return is(err, KindNotFound) }
func IsVerificationFailed(err error) bool { return is(err, KindVerificationFailed) }
