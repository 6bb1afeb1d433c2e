package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reader holds the reads the availability computation needs. Range reads return
// rows overlapping [from, to); recurring unavailability rows are returned whenever
// their series may reach into the range.
type Reader interface {
	GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetLinkedService(ctx context.Context, practitionerID, serviceID uuid.UUID) (*Service, error)

	ListWeeklyTemplates(ctx context.Context, practitionerID uuid.UUID) ([]WeeklyTemplate, error)
	ListOpenings(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Opening, error)
	ListExceptions(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Exception, error)
	ListUnavailabilities(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Unavailability, error)
	ListActiveBookings(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Booking, error)
}

// Tx is a unit of work. Writes become visible to other callers only when the
// function passed to Store.InTx returns nil.
type Tx interface {
	Reader

	// LockPractitioner serialises writers for one practitioner until the tx ends.
	LockPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error)

	InsertPractitioner(ctx context.Context, p *Practitioner) error
	InsertService(ctx context.Context, s *Service) error
	LinkService(ctx context.Context, link ServiceLink) error

	InsertTemplate(ctx context.Context, t *WeeklyTemplate) error
	DeleteTemplate(ctx context.Context, practitionerID, id uuid.UUID) error

	GetOpening(ctx context.Context, practitionerID, id uuid.UUID) (*Opening, error)
	InsertOpening(ctx context.Context, o *Opening) error
	UpdateOpening(ctx context.Context, o *Opening) error
	DeleteOpening(ctx context.Context, practitionerID, id uuid.UUID) error

	GetException(ctx context.Context, practitionerID, id uuid.UUID) (*Exception, error)
	InsertException(ctx context.Context, e *Exception) error
	UpdateException(ctx context.Context, e *Exception) error
	DeleteException(ctx context.Context, practitionerID, id uuid.UUID) error

	GetUnavailability(ctx context.Context, practitionerID, id uuid.UUID) (*Unavailability, error)
	InsertUnavailability(ctx context.Context, u *Unavailability) error
	UpdateUnavailability(ctx context.Context, u *Unavailability) error
	DeleteUnavailability(ctx context.Context, practitionerID, id uuid.UUID) error

	// InsertBooking returns a *ConflictError when the storage-level overlap
	// constraint rejects the row.
	InsertBooking(ctx context.Context, b *Booking) error
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Store is the calendar store.
type Store interface {
	Reader

	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
