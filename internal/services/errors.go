// Package services defines the business logic of the moderation case ledger.
// This file centralizes the service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Errors form a small taxonomy matched with errors.Is:
//
//   - ErrValidation: malformed input. Never retried.
//   - ErrNotFound: unknown case, note or config. Never retried.
//   - ErrInvalidState: an illegal lifecycle transition ("already done").
//   - ErrStoreUnavailable: the durable store failed. Returned as *StoreError,
//     which reports Retryable() == true; nothing was committed.
//
// Cache failures never leave the Coordinator. Translation into HTTP status
// codes is performed at the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	// ErrValidation is the parent of every input validation error.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyReason is returned when a warning or action has a blank reason.
	ErrEmptyReason = fmt.Errorf("%w: reason is empty", ErrValidation)

	// ErrNonPositiveDuration is returned when a timeout has no positive duration.
	ErrNonPositiveDuration = fmt.Errorf("%w: duration must be positive", ErrValidation)

	// ErrDurationTooShort is returned for a positive timeout under one second.
	ErrDurationTooShort = fmt.Errorf("%w: duration must be at least 1s", ErrValidation)

	// ErrDurationTooLong is returned for a timeout beyond the platform maximum.
	ErrDurationTooLong = fmt.Errorf("%w: duration must not exceed 28d", ErrValidation)

	// ErrUnexpectedDuration is returned when a duration is given for an
	// action that cannot expire (ban, kick).
	ErrUnexpectedDuration = fmt.Errorf("%w: duration only applies to timeouts", ErrValidation)

	// ErrInvalidKind is returned when an action kind cannot be recorded directly.
	ErrInvalidKind = fmt.Errorf("%w: kind must be ban, kick or timeout", ErrValidation)

	// ErrInvalidConfig is returned for out-of-range configuration values.
	ErrInvalidConfig = fmt.Errorf("%w: invalid configuration", ErrValidation)

	// ErrInvalidWindow is returned when a counting window is not positive.
	ErrInvalidWindow = fmt.Errorf("%w: window must be positive", ErrValidation)

	// ErrInvalidCaseRef is returned when a case reference is neither an id nor a label.
	ErrInvalidCaseRef = fmt.Errorf("%w: case reference must be an id or a label like W3", ErrValidation)

	// ErrEmptyNote is returned when a note has no content.
	ErrEmptyNote = fmt.Errorf("%w: note is empty", ErrValidation)
)

// Lookup errors.
var (
	// ErrNotFound is the parent of every "does not exist" error.
	ErrNotFound = errors.New("not found")

	// ErrCaseNotFound indicates the case does not exist in the community.
	ErrCaseNotFound = fmt.Errorf("case %w", ErrNotFound)

	// ErrNoteNotFound indicates the user note does not exist or was deleted.
	ErrNoteNotFound = fmt.Errorf("note %w", ErrNotFound)

	// ErrModlogNotConfigured indicates the community has no modlog channel.
	ErrModlogNotConfigured = fmt.Errorf("modlog config %w", ErrNotFound)
)

// State errors.
var (
	// ErrInvalidState is the parent of illegal lifecycle transitions.
	ErrInvalidState = errors.New("invalid state")

	// ErrAlreadyTerminal is returned when reversing a case that is already
	// reversed or expired. Callers treat it as "already done".
	ErrAlreadyTerminal = fmt.Errorf("%w: case is already reversed or expired", ErrInvalidState)
)

// ErrStoreUnavailable matches every *StoreError.
var ErrStoreUnavailable = errors.New("store unavailable")

// StoreError wraps a durable-store failure. The operation it reports was not
// applied, so the whole intent may be retried.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStoreUnavailable) hold.
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// Retryable reports that the caller may retry the intent.
func (e *StoreError) Retryable() bool { return true }

// errAlreadyEscalated rolls back an escalation insert whose burst is covered.
var errAlreadyEscalated = errors.New("already escalated")

// storeErr wraps err in a *StoreError unless it is part of the service
// taxonomy already.
func storeErr(op string, err error) error {
	if err == nil ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, errAlreadyEscalated) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
