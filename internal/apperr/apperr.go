// Package apperr defines the error taxonomy shared by the upload, ingestion,
// retrieval, and session paths. Each failure is tagged with a Kind so the
// HTTP layer can pick a status code and the worker can decide whether a job
// is worth retrying, without either of them string-matching messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure by how callers are expected to react to it.
type Kind string

const (
	// Internal is the default for errors that carry no classification.
	Internal Kind = "internal"
	// Validation marks bad user input (media type, size, empty query).
	// Reported immediately and never retried.
	Validation Kind = "validation"
	// Transient marks a provider or infrastructure call that failed for
	// reasons that may clear on their own (network, rate limit, 5xx).
	Transient Kind = "transient"
	// Parse marks a document that cannot be read. Terminal for its job.
	Parse Kind = "parse"
	// LimitExceeded marks a session that has used all of its turns.
	LimitExceeded Kind = "limit_exceeded"
	// QueueDelivery marks a job that was not durably enqueued.
	QueueDelivery Kind = "queue_delivery"
	// NotFound marks a missing document, session, or job.
	NotFound Kind = "not_found"
)

// Error is a classified error. Op names the operation that failed
// (e.g. "gateway.upload"); Msg is safe to show to end users.
type Error struct {
	// Kind is the classification used for status mapping and retry decisions.
	Kind Kind
	// Op is the logical operation that produced the error.
	Op string
	// Msg is a user-facing description. May be empty when Err says it all.
	Msg string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, apperr.ErrLimitExceeded).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinel values for errors.Is comparisons by kind.
var (
	ErrValidation    = &Error{Kind: Validation}
	ErrTransient     = &Error{Kind: Transient}
	ErrParse         = &Error{Kind: Parse}
	ErrLimitExceeded = &Error{Kind: LimitExceeded}
	ErrQueueDelivery = &Error{Kind: QueueDelivery}
	ErrNotFound      = &Error{Kind: NotFound}
)

// E constructs a classified error.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Validationf returns a Validation error with a formatted user-facing message.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: Validation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or
// Internal if there is none. A bare context cancellation or deadline is
// reported as Transient so the caller can resubmit.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Internal
}

// Message returns the user-facing message of the outermost *Error, falling
// back to fallback when none carries one.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return fallback
}
