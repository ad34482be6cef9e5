// Package errs defines the error taxonomy shared by the ledger services and
// the HTTP layer.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind string

const (
	KindNotFound                Kind = "not_found"
	KindInvalidInput            Kind = "invalid_input"
	KindConstraintViolation     Kind = "constraint_violation"
	KindInsufficientUnallocated Kind = "insufficient_unallocated"
	KindInsufficientBirds       Kind = "insufficient_birds"
	KindCapacityExceeded        Kind = "capacity_exceeded"
	KindConcurrencyConflict     Kind = "concurrency_conflict"
	KindAuditWriteFailure       Kind = "audit_write_failure"
	KindInternal                Kind = "internal"
)

// Sentinels for errors.Is checks. They match any *Error of the same kind.
var (
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrInvalidInput            = &Error{Kind: KindInvalidInput}
	ErrConstraintViolation     = &Error{Kind: KindConstraintViolation}
	ErrInsufficientUnallocated = &Error{Kind: KindInsufficientUnallocated}
	ErrInsufficientBirds       = &Error{Kind: KindInsufficientBirds}
	ErrCapacityExceeded        = &Error{Kind: KindCapacityExceeded}
	ErrConcurrencyConflict     = &Error{Kind: KindConcurrencyConflict}
	ErrAuditWriteFailure       = &Error{Kind: KindAuditWriteFailure}
	ErrInternal                = &Error{Kind: KindInternal}
)

// Error is a typed ledger failure. Requested, Available and Limit carry the
// figures involved so callers can render a precise message.
type Error struct {
	Kind      Kind
	Message   string
	Requested int
	Available int
	Limit     int
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindInternal when err is untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// ConstraintViolation reports a breached invariant with the numbers involved.
func ConstraintViolation(requested, limit int, format string, args ...any) *Error {
	return &Error{Kind: KindConstraintViolation, Message: fmt.Sprintf(format, args...), Requested: requested, Limit: limit}
}

func InsufficientUnallocated(requested, available int) *Error {
	return &Error{
		Kind:      KindInsufficientUnallocated,
		Message:   fmt.Sprintf("requested %d, only %d unallocated", requested, available),
		Requested: requested,
		Available: available,
	}
}

func InsufficientBirds(requested, available int) *Error {
	return &Error{
		Kind:      KindInsufficientBirds,
		Message:   fmt.Sprintf("requested %d, source allocation holds only %d", requested, available),
		Requested: requested,
		Available: available,
	}
}

func CapacityExceeded(requested, occupancy, capacity int) *Error {
	return &Error{
		Kind:      KindCapacityExceeded,
		Message:   fmt.Sprintf("requested %d, house holds %d of %d (%d free)", requested, occupancy, capacity, capacity-occupancy),
		Requested: requested,
		Available: capacity - occupancy,
		Limit:     capacity,
	}
}

func ConcurrencyConflict(op string, attempts int) *Error {
	return &Error{Kind: KindConcurrencyConflict, Message: fmt.Sprintf("%s lost %d concurrent write races, try again", op, attempts)}
}

func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}
