package calendar

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/interval"
)

type EntryKind string

const (
	KindTemplateOpening EntryKind = "template_opening"
	KindManualOpening   EntryKind = "manual_opening"
	KindException       EntryKind = "exception"
	KindUnavailability  EntryKind = "unavailability"
	KindBooking         EntryKind = "booking"
)

// CalendarEvent is one renderable entry of a practitioner's calendar. The
// Kind decides which of the optional fields are meaningful.
type CalendarEvent struct {
	Kind     EntryKind
	SourceID uuid.UUID
	Start    time.Time
	End      time.Time

	Reason             *string
	UnavailabilityType UnavailabilityType
	BookingStatus      BookingStatus
	ServiceID          *uuid.UUID
}

// Opens reports whether the entry adds bookable time rather than removing it.
func (e CalendarEvent) Opens() bool {
	return e.Kind == KindTemplateOpening || e.Kind == KindManualOpening
}

func (e CalendarEvent) Interval() interval.Interval {
	return interval.New(e.Start, e.End)
}

// SortEvents orders entries by start, then kind, then source id.
func SortEvents(events []CalendarEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.SourceID.String() < b.SourceID.String()
	})
}
