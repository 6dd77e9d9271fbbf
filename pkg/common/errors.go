package common

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy of the system: a closed set of failure
// categories collaborators (the S3 gateway, the NBD gateway) map onto their
// own wire-level error codes. It deliberately is not a Go error type itself
// so that every Error still satisfies the normal error interface and
// composes with errors.Is/errors.As.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAlreadyExists
	KindFailedPrecondition
	KindInvalidArgument
	KindUnauthenticated
	KindUnauthorized
	KindPermissionDenied
	KindCorruption
	KindInsufficientShards
	KindDiskFull
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindFailedPrecondition:
		return "FailedPrecondition"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindUnauthorized:
		return "Unauthorized"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindCorruption:
		return "Corruption"
	case KindInsufficientShards:
		return "InsufficientShards"
	case KindDiskFull:
		return "DiskFull"
	case KindUnavailable:
		return "Unavailable"
	default:
		return "Internal"
	}
}

// Error is the concrete error type carried across every package boundary in
// objectio. Local subsystems recover where they can (see §7 Propagation);
// what reaches the caller is always one of these, wrapping the cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to KindInternal for anything
// that isn't an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func NotFoundf(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func AlreadyExistsf(format string, args ...any) *Error {
	return New(KindAlreadyExists, format, args...)
}

func FailedPreconditionf(format string, args ...any) *Error {
	return New(KindFailedPrecondition, format, args...)
}

func InvalidArgumentf(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

func Corruptionf(format string, args ...any) *Error {
	return New(KindCorruption, format, args...)
}

func InsufficientShardsf(format string, args ...any) *Error {
	return New(KindInsufficientShards, format, args...)
}

func DiskFullf(format string, args ...any) *Error {
	return New(KindDiskFull, format, args...)
}

func Unavailablef(format string, args ...any) *Error {
	return New(KindUnavailable, format, args...)
}
