package calendar

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/recurrence"
)

// Error kinds. Every error leaving this module wraps exactly one of them.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInternal          = errors.New("internal error")
)

var (
	ErrPractitionerNotFound   = fmt.Errorf("practitioner %w", ErrNotFound)
	ErrServiceNotFound        = fmt.Errorf("service %w", ErrNotFound)
	ErrServiceNotLinked       = fmt.Errorf("service is not offered by practitioner: %w", ErrNotFound)
	ErrTemplateNotFound       = fmt.Errorf("weekly template %w", ErrNotFound)
	ErrOpeningNotFound        = fmt.Errorf("opening %w", ErrNotFound)
	ErrExceptionNotFound      = fmt.Errorf("exception %w", ErrNotFound)
	ErrUnavailabilityNotFound = fmt.Errorf("unavailability %w", ErrNotFound)
	ErrBookingNotFound        = fmt.Errorf("booking %w", ErrNotFound)
)

// ConflictError names the calendar entry that blocks an interval.
type ConflictError struct {
	Reason string
	With   string
	ID     uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("conflict: %s", e.Reason)
	}
	return fmt.Sprintf("conflict: %s (%s %s)", e.Reason, e.With, e.ID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type TransitionError struct {
	From BookingStatus
	To   BookingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

var kinds = []error{ErrValidation, ErrNotFound, ErrConflict, ErrInvalidTransition, ErrInternal}

// Internal wraps err as ErrInternal unless it already carries a kind.
func Internal(what string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, what, err)
}

// RecurrenceError classifies an expansion failure for unavailability id:
// malformed rules are Validation, ceiling breaches are Internal.
func RecurrenceError(id uuid.UUID, err error) error {
	switch {
	case errors.Is(err, recurrence.ErrInvalidRule):
		return fmt.Errorf("%w: unavailability %s: %w", ErrValidation, id, err)
	case errors.Is(err, recurrence.ErrCeilingReached):
		return fmt.Errorf("%w: unavailability %s: %w", ErrInternal, id, err)
	default:
		return fmt.Errorf("unavailability %s: %w", id, err)
	}
}
