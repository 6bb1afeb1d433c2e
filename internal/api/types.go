package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/availability"
	"github.com/hackgods/clinic-availability-engine/internal/calendar"
)

type CreateBookingRequest struct {
	PractitionerID string    `json:"practitioner_id" validate:"required,uuid"`
	ServiceID      string    `json:"service_id" validate:"required,uuid"`
	Start          time.Time `json:"start" validate:"required"`
	ClientID       *string   `json:"client_id" validate:"omitempty,uuid"`
	GuestName      *string   `json:"guest_name" validate:"omitempty,min=1,max=200"`
	GuestEmail     *string   `json:"guest_email" validate:"omitempty,email"`
	GuestPhone     *string   `json:"guest_phone" validate:"omitempty,max=32"`
	Note           *string   `json:"note" validate:"omitempty,max=2000"`
	Origin         string    `json:"origin" validate:"omitempty,oneof=self_service operator"`
}

type TransitionStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed canceled completed no_show"`
}

type TemplateRequest struct {
	Weekdays []int  `json:"weekdays" validate:"required,min=1,dive,min=0,max=6"`
	Start    string `json:"start" validate:"required"` // HH:MM local
	End      string `json:"end" validate:"required"`
}

// IntervalRequest is the body for openings and exceptions.
type IntervalRequest struct {
	StartAt time.Time `json:"start_at" validate:"required"`
	EndAt   time.Time `json:"end_at" validate:"required,gtfield=StartAt"`
	Reason  *string   `json:"reason" validate:"omitempty,max=500"`
}

type UnavailabilityRequest struct {
	Type          string     `json:"type" validate:"required,oneof=vacation day_off no_bookings"`
	Reason        *string    `json:"reason" validate:"omitempty,max=500"`
	StartAt       time.Time  `json:"start_at" validate:"required"`
	EndAt         time.Time  `json:"end_at" validate:"required,gtfield=StartAt"`
	Rule          *string    `json:"rule" validate:"omitempty,max=500"`
	RecurrenceEnd *time.Time `json:"recurrence_end"`
	TimeZone      string     `json:"time_zone"`
}

type BookingResponse struct {
	ID             uuid.UUID  `json:"id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	ServiceID      uuid.UUID  `json:"service_id"`
	ClientID       *uuid.UUID `json:"client_id,omitempty"`
	GuestName      *string    `json:"guest_name,omitempty"`
	GuestEmail     *string    `json:"guest_email,omitempty"`
	GuestPhone     *string    `json:"guest_phone,omitempty"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	Status         string     `json:"status"`
	Origin         string     `json:"origin"`
	Note           *string    `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toBookingResponse(b *calendar.Booking) BookingResponse {
	return BookingResponse{
		ID:             b.ID,
		PractitionerID: b.PractitionerID,
		ServiceID:      b.ServiceID,
		ClientID:       b.ClientID,
		GuestName:      b.GuestName,
		GuestEmail:     b.GuestEmail,
		GuestPhone:     b.GuestPhone,
		Start:          b.StartAt.UTC(),
		End:            b.EndAt.UTC(),
		Status:         string(b.Status),
		Origin:         string(b.Origin),
		Note:           b.Note,
		CreatedAt:      b.CreatedAt.UTC(),
	}
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type PolicyResponse struct {
	DurationMinutes int    `json:"duration_minutes"`
	BufferMinutes   int    `json:"buffer_minutes"`
	GridStepMinutes int    `json:"grid_step_minutes"`
	MinLeadMinutes  int    `json:"min_lead_minutes"`
	TimeZone        string `json:"time_zone"`
}

// SlotsResponse always carries a slots array, empty on error.
type SlotsResponse struct {
	Slots  []SlotResponse  `json:"slots"`
	Policy *PolicyResponse `json:"policy,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func toSlotsResponse(res *availability.SlotResult) SlotsResponse {
	out := SlotsResponse{
		Slots: make([]SlotResponse, 0, len(res.Slots)),
		Policy: &PolicyResponse{
			DurationMinutes: res.Policy.DurationMinutes,
			BufferMinutes:   res.Policy.BufferMinutes,
			GridStepMinutes: res.Policy.GridStepMinutes,
			MinLeadMinutes:  res.Policy.MinLeadMinutes,
			TimeZone:        res.Policy.TimeZone,
		},
	}
	for _, s := range res.Slots {
		out.Slots = append(out.Slots, SlotResponse{Start: s.Start, End: s.End})
	}
	return out
}

type CalendarEventResponse struct {
	Kind               string     `json:"kind"`
	SourceID           uuid.UUID  `json:"source_id"`
	Start              time.Time  `json:"start"`
	End                time.Time  `json:"end"`
	Opens              bool       `json:"opens"`
	Reason             *string    `json:"reason,omitempty"`
	UnavailabilityType string     `json:"unavailability_type,omitempty"`
	BookingStatus      string     `json:"booking_status,omitempty"`
	ServiceID          *uuid.UUID `json:"service_id,omitempty"`
}

func toCalendarResponse(events []calendar.CalendarEvent) []CalendarEventResponse {
	out := make([]CalendarEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, CalendarEventResponse{
			Kind:               string(ev.Kind),
			SourceID:           ev.SourceID,
			Start:              ev.Start.UTC(),
			End:                ev.End.UTC(),
			Opens:              ev.Opens(),
			Reason:             ev.Reason,
			UnavailabilityType: string(ev.UnavailabilityType),
			BookingStatus:      string(ev.BookingStatus),
			ServiceID:          ev.ServiceID,
		})
	}
	return out
}

// CreatedResponse acknowledges a calendar edit.
type CreatedResponse struct {
	ID uuid.UUID `json:"id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	With    string `json:"with,omitempty"`
	ID      string `json:"conflicting_id,omitempty"`
}
