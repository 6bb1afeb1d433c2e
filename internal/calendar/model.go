package calendar

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/interval"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCanceled  BookingStatus = "canceled"
	StatusCompleted BookingStatus = "completed"
	StatusNoShow    BookingStatus = "no_show"
)

type Origin string

const (
	OriginSelfService Origin = "self_service"
	OriginOperator    Origin = "operator"
)

type UnavailabilityType string

const (
	UnavailabilityVacation   UnavailabilityType = "vacation"
	UnavailabilityDayOff     UnavailabilityType = "day_off"
	UnavailabilityNoBookings UnavailabilityType = "no_bookings"
)

func (t UnavailabilityType) Valid() bool {
	switch t {
	case UnavailabilityVacation, UnavailabilityDayOff, UnavailabilityNoBookings:
		return true
	}
	return false
}

type Practitioner struct {
	ID                 uuid.UUID
	Name               string
	TimeZone           string
	BufferMinutes      int
	MinLeadMinutes     int
	GridStepMinutes    int
	DefaultSlotMinutes int
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (p *Practitioner) Location() (*time.Location, error) {
	return localtime.LoadLocation(p.TimeZone)
}

type Service struct {
	ID                    uuid.UUID
	Name                  string
	DurationMinutes       int
	BufferOverrideMinutes *int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// EffectiveBuffer is the service override when set, else the practitioner default.
func EffectiveBuffer(p *Practitioner, s *Service) time.Duration {
	if s != nil && s.BufferOverrideMinutes != nil {
		return time.Duration(*s.BufferOverrideMinutes) * time.Minute
	}
	return time.Duration(p.BufferMinutes) * time.Minute
}

type ServiceLink struct {
	PractitionerID uuid.UUID
	ServiceID      uuid.UUID
	Active         bool
}

// WeeklyTemplate opens the same local hours on a set of weekdays. It is never
// materialised into rows per day.
type WeeklyTemplate struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Weekdays       []time.Weekday
	StartMinute    localtime.Clock
	EndMinute      localtime.Clock
	CreatedAt      time.Time
}

func (t *WeeklyTemplate) OnWeekday(wd time.Weekday) bool {
	for _, d := range t.Weekdays {
		if d == wd {
			return true
		}
	}
	return false
}

type Opening struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (o *Opening) Interval() interval.Interval {
	return interval.New(o.StartAt, o.EndAt)
}

type Exception struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	Reason         *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (e *Exception) Interval() interval.Interval {
	return interval.New(e.StartAt, e.EndAt)
}

// Unavailability is a closure. Without a rule it blocks its first occurrence only.
type Unavailability struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Type           UnavailabilityType
	Reason         *string
	StartAt        time.Time
	EndAt          time.Time
	Rule           *string
	RecurrenceEnd  *time.Time
	TimeZone       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (u *Unavailability) FirstOccurrence() interval.Interval {
	return interval.New(u.StartAt, u.EndAt)
}

type Booking struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	ServiceID      uuid.UUID
	ClientID       *uuid.UUID
	GuestName      *string
	GuestEmail     *string
	GuestPhone     *string
	StartAt        time.Time
	EndAt          time.Time
	Status         BookingStatus
	Note           *string
	Origin         Origin
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (b *Booking) Interval() interval.Interval {
	return interval.New(b.StartAt, b.EndAt)
}

type EventLog struct {
	ID             int64
	EventType      string
	BookingID      *uuid.UUID
	PractitionerID *uuid.UUID
	Payload        []byte
	Traceparent    string
	Tracestate     string
	CreatedAt      time.Time
	PublishedAt    *time.Time
}
