// Package apperr defines the error taxonomy shared by the Triage services.
//
// Every error that crosses a package boundary carries a Kind so that the
// HTTP façade can map it to a transport status and background tasks can
// record a classified failure without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and task failure records.
type Kind int

// Error kinds, ordered roughly by how often they occur in practice.
const (
	// KindGeneral is the catch-all kind; always accompanied by a message.
	KindGeneral Kind = iota

	// KindDatabase covers backend failures: connectivity, constraint
	// violations not attributable to client input, schema trouble.
	KindDatabase

	// KindIO covers bundle archive I/O and content-store blob I/O.
	KindIO

	// KindSourceFile marks a malformed in-source review comment.
	KindSourceFile

	// KindReportFormat marks a malformed report record in a store bundle.
	KindReportFormat

	// KindAuthDenied means no usable identity was presented.
	KindAuthDenied

	// KindUnauthorized means the identity is present but lacks permission.
	KindUnauthorized

	// KindAPIMismatch marks a client/server API version handshake failure.
	KindAPIMismatch
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "DATABASE"
	case KindIO:
		return "IOERROR"
	case KindSourceFile:
		return "SOURCE_FILE"
	case KindReportFormat:
		return "REPORT_FORMAT"
	case KindAuthDenied:
		return "AUTH_DENIED"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindAPIMismatch:
		return "API_MISMATCH"
	case KindGeneral:
		return "GENERAL"
	default:
		return "GENERAL"
	}
}

// Error is a classified error with a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause, enabling errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, preserving it as the cause.
// Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain.
// Unclassified errors report KindGeneral.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	return KindGeneral
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}

	return false
}
