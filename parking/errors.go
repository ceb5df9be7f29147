package parking

import (
	"errors"
	"fmt"

	"github.com/Skryldev/parkd/db"
)

// ─────────────────────────────────────────────────────────────────────────────
// Error kinds
// ─────────────────────────────────────────────────────────────────────────────

// Kind classifies every error returned by the engine.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindCapacityViolation
	KindConflictViolation
	KindForbidden
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindCapacityViolation:
		return "capacity_violation"
	case KindConflictViolation:
		return "conflict_violation"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation_error"
	default:
		return "internal"
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Sentinel errors
// ─────────────────────────────────────────────────────────────────────────────

type sentinelError struct {
	kind Kind
	msg  string
	// also is another sentinel this one matches with errors.Is.
	also error
}

func (e *sentinelError) Error() string { return "parking: " + e.msg }

func (e *sentinelError) Is(target error) bool { return e.also != nil && target == e.also }

var (
	ErrLotNotFound         = &sentinelError{kind: KindNotFound, msg: "lot not found"}
	ErrSpotNotFound        = &sentinelError{kind: KindNotFound, msg: "spot not found"}
	ErrReservationNotFound = &sentinelError{kind: KindNotFound, msg: "reservation not found"}
	ErrUserNotFound        = &sentinelError{kind: KindNotFound, msg: "user not found"}

	ErrReservationNotActive = &sentinelError{kind: KindInvalidState, msg: "reservation is not active"}
	// ErrLotInactive also matches ErrLotNotFound: an inactive lot cannot be
	// booked, exactly like a missing one.
	ErrLotInactive              = &sentinelError{kind: KindInvalidState, msg: "lot is inactive", also: ErrLotNotFound}
	ErrSpotNotOccupied          = &sentinelError{kind: KindInvalidState, msg: "spot is not occupied"}
	ErrSpotHasActiveReservation = &sentinelError{kind: KindInvalidState, msg: "spot is held by an active reservation"}

	ErrNoAvailableSpot        = &sentinelError{kind: KindCapacityViolation, msg: "no available spot"}
	ErrCapacityBelowOccupancy = &sentinelError{kind: KindCapacityViolation, msg: "capacity below occupied spot count"}
	ErrLotHasOccupiedSpots    = &sentinelError{kind: KindCapacityViolation, msg: "lot has occupied spots"}

	ErrDuplicateActiveReservation = &sentinelError{kind: KindConflictViolation, msg: "user already holds an active reservation"}
	ErrAllocationConflict         = &sentinelError{kind: KindConflictViolation, msg: "spot allocation kept losing to concurrent requests"}
	ErrUserHasActiveReservation   = &sentinelError{kind: KindConflictViolation, msg: "user has an active reservation"}

	ErrForbidden = &sentinelError{kind: KindForbidden, msg: "forbidden"}
)

// ─────────────────────────────────────────────────────────────────────────────
// ValidationError
// ─────────────────────────────────────────────────────────────────────────────

// ValidationError reports malformed input on a named field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parking: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ─────────────────────────────────────────────────────────────────────────────
// Error values
// ─────────────────────────────────────────────────────────────────────────────

// Error is returned by every Engine operation that fails. Err is either a
// sentinel above, a *ValidationError, or a store error.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("parking: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. nil has no kind and reports KindInternal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	var se *sentinelError
	if errors.As(err, &se) {
		return se.kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	switch {
	case db.IsDuplicateKey(err):
		return KindConflictViolation
	case db.IsCheckViolation(err):
		return KindValidation
	}
	return KindInternal
}

// wrap turns any failure into an *Error for op. Errors already wrapped keep
// their original op.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Op: op, Kind: classify(err), Err: err}
}
