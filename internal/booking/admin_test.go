package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
)

func TestAdmin_ExceptionGuard(t *testing.T) {
	f := newFixture(t)
	svc := f.booking(f.local(2, 8, 0), nil)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, f.input(f.local(2, 11, 0), calendar.OriginOperator))
	if err != nil {
		t.Fatalf("CreateBooking() error = %v", err)
	}

	clash := &calendar.Exception{PractitionerID: f.practitioner.ID, StartAt: f.local(2, 10, 0), EndAt: f.local(2, 12, 0)}
	err = svc.CreateException(ctx, clash)
	var conflict *calendar.ConflictError
	if !errors.As(err, &conflict) || conflict.ID != b.ID {
		t.Fatalf("expected conflict naming booking, got %v", err)
	}

	ok := &calendar.Exception{PractitionerID: f.practitioner.ID, StartAt: f.local(2, 13, 0), EndAt: f.local(2, 14, 0)}
	if err := svc.CreateException(ctx, ok); err != nil {
		t.Fatalf("CreateException() error = %v", err)
	}

	ok.StartAt, ok.EndAt = f.local(2, 10, 30), f.local(2, 11, 15)
	if err := svc.UpdateException(ctx, ok); !errors.Is(err, calendar.ErrConflict) {
		t.Fatalf("expected update conflict, got %v", err)
	}
	if err := svc.DeleteException(ctx, f.practitioner.ID, ok.ID); err != nil {
		t.Fatalf("DeleteException() error = %v", err)
	}
	if err := svc.DeleteException(ctx, f.practitioner.ID, ok.ID); !errors.Is(err, calendar.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestAdmin_OpeningGuard(t *testing.T) {
	f := newFixture(t)
	svc := f.booking(f.local(2, 8, 0), nil)
	ctx := context.Background()

	saturday := &calendar.Opening{PractitionerID: f.practitioner.ID, StartAt: f.local(7, 10, 0), EndAt: f.local(7, 12, 0)}
	if err := svc.CreateOpening(ctx, saturday); err != nil {
		t.Fatalf("CreateOpening() error = %v", err)
	}

	overlapping := &calendar.Opening{PractitionerID: f.practitioner.ID, StartAt: f.local(7, 11, 0), EndAt: f.local(7, 13, 0)}
	if err := svc.CreateOpening(ctx, overlapping); !errors.Is(err, calendar.ErrConflict) {
		t.Fatalf("expected overlapping opening conflict, got %v", err)
	}

	saturday.StartAt, saturday.EndAt = f.local(7, 9, 0), f.local(7, 13, 0)
	if err := svc.UpdateOpening(ctx, saturday); err != nil {
		t.Fatalf("UpdateOpening() without bookings error = %v", err)
	}

	b, err := svc.CreateBooking(ctx, f.input(f.local(7, 11, 0), calendar.OriginOperator))
	if err != nil {
		t.Fatalf("CreateBooking() error = %v", err)
	}

	edits := []struct {
		name  string
		apply func() error
	}{
		{"widen", func() error {
			o := *saturday
			o.StartAt, o.EndAt = f.local(7, 8, 0), f.local(7, 14, 0)
			return svc.UpdateOpening(ctx, &o)
		}},
		{"shrink", func() error {
			o := *saturday
			o.EndAt = f.local(7, 11, 15)
			return svc.UpdateOpening(ctx, &o)
		}},
		{"delete", func() error { return svc.DeleteOpening(ctx, f.practitioner.ID, saturday.ID) }},
	}
	for _, tt := range edits {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.apply()
			var conflict *calendar.ConflictError
			if !errors.As(err, &conflict) || conflict.ID != b.ID {
				t.Fatalf("expected conflict naming booking %s, got %v", b.ID, err)
			}
		})
	}

	stored, err := f.store.ListOpenings(ctx, f.practitioner.ID, f.local(7, 0, 0), f.local(8, 0, 0))
	if err != nil {
		t.Fatalf("ListOpenings() error = %v", err)
	}
	if len(stored) != 1 || !stored[0].StartAt.Equal(f.local(7, 9, 0)) || !stored[0].EndAt.Equal(f.local(7, 13, 0)) {
		t.Fatalf("rejected edits leaked into the store: %+v", stored)
	}

	if _, err := svc.TransitionStatus(ctx, b.ID, calendar.StatusCanceled); err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}
	if err := svc.DeleteOpening(ctx, f.practitioner.ID, saturday.ID); err != nil {
		t.Fatalf("DeleteOpening() after cancel error = %v", err)
	}
}

func TestAdmin_UnavailabilityGuard(t *testing.T) {
	f := newFixture(t)
	svc := f.booking(f.local(2, 8, 0), nil)
	ctx := context.Background()

	if _, err := svc.CreateBooking(ctx, f.input(f.local(16, 12, 0), calendar.OriginOperator)); err != nil {
		t.Fatalf("CreateBooking() error = %v", err)
	}

	weekly := "freq=weekly;byday=mo"
	lunch := &calendar.Unavailability{
		PractitionerID: f.practitioner.ID,
		Type:           calendar.UnavailabilityNoBookings,
		StartAt:        f.local(2, 12, 0),
		EndAt:          f.local(2, 13, 0),
		Rule:           &weekly,
	}
	if err := svc.CreateUnavailability(ctx, lunch); !errors.Is(err, calendar.ErrConflict) {
		t.Fatalf("expected conflict with the booking two weeks out, got %v", err)
	}

	lunch.StartAt, lunch.EndAt = f.local(2, 13, 0), f.local(2, 14, 0)
	if err := svc.CreateUnavailability(ctx, lunch); err != nil {
		t.Fatalf("CreateUnavailability() error = %v", err)
	}
	if *lunch.Rule != "FREQ=WEEKLY;BYDAY=MO" {
		t.Fatalf("rule not canonicalised: %s", *lunch.Rule)
	}
	if lunch.TimeZone != "Europe/Moscow" {
		t.Fatalf("time zone not defaulted: %q", lunch.TimeZone)
	}

	tests := []struct {
		name string
		edit func(u *calendar.Unavailability)
	}{
		{"unknown type", func(u *calendar.Unavailability) { u.Type = "sabbatical" }},
		{"inverted range", func(u *calendar.Unavailability) { u.EndAt = u.StartAt.Add(-time.Hour) }},
		{"bad zone", func(u *calendar.Unavailability) { u.TimeZone = "Mars/Olympus" }},
		{"bad rule", func(u *calendar.Unavailability) { r := "FREQ=DAILY"; u.Rule = &r }},
		{"end before start", func(u *calendar.Unavailability) { e := u.StartAt.Add(-24 * time.Hour); u.RecurrenceEnd = &e }},
		{"start off the minute", func(u *calendar.Unavailability) {
			u.StartAt, u.EndAt = u.StartAt.Add(30*time.Second), u.EndAt.Add(30*time.Second)
		}},
		{"partial minute length", func(u *calendar.Unavailability) { u.EndAt = u.StartAt.Add(59*time.Minute + 30*time.Second) }},
		{"sub-minute length", func(u *calendar.Unavailability) { u.EndAt = u.StartAt.Add(20 * time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := *lunch
			tt.edit(&u)
			if err := svc.UpdateUnavailability(ctx, &u); !errors.Is(err, calendar.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	if err := svc.DeleteUnavailability(ctx, f.practitioner.ID, lunch.ID); err != nil {
		t.Fatalf("DeleteUnavailability() error = %v", err)
	}
}

func TestAdmin_LongRunningSeries(t *testing.T) {
	f := newFixture(t)
	svc := f.booking(f.local(2, 8, 0), nil)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, f.input(f.local(4, 15, 0), calendar.OriginOperator))
	if err != nil {
		t.Fatalf("CreateBooking() error = %v", err)
	}

	// A daily break that began a year before now.
	daily := "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR,SA,SU"
	started := time.Date(2025, time.March, 3, 13, 0, 0, 0, f.loc)
	brk := &calendar.Unavailability{
		PractitionerID: f.practitioner.ID,
		Type:           calendar.UnavailabilityNoBookings,
		StartAt:        started,
		EndAt:          started.Add(time.Hour),
		Rule:           &daily,
	}
	if err := svc.CreateUnavailability(ctx, brk); err != nil {
		t.Fatalf("CreateUnavailability() error = %v", err)
	}

	reason := "staff meeting"
	brk.Reason = &reason
	if err := svc.UpdateUnavailability(ctx, brk); err != nil {
		t.Fatalf("UpdateUnavailability() of reason error = %v", err)
	}

	moved := *brk
	moved.StartAt, moved.EndAt = started.Add(2*time.Hour), started.Add(3*time.Hour)
	err = svc.UpdateUnavailability(ctx, &moved)
	var conflict *calendar.ConflictError
	if !errors.As(err, &conflict) || conflict.ID != b.ID {
		t.Fatalf("expected conflict naming booking %s, got %v", b.ID, err)
	}
}

func TestAdmin_Templates(t *testing.T) {
	f := newFixture(t)
	svc := f.booking(f.local(2, 8, 0), nil)
	ctx := context.Background()

	bad := &calendar.WeeklyTemplate{PractitionerID: f.practitioner.ID, Weekdays: []time.Weekday{time.Saturday}, StartMinute: 12 * 60, EndMinute: 10 * 60}
	if err := svc.CreateTemplate(ctx, bad); !errors.Is(err, calendar.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	sat := &calendar.WeeklyTemplate{PractitionerID: f.practitioner.ID, Weekdays: []time.Weekday{time.Saturday}, StartMinute: 10 * 60, EndMinute: localtime.Clock(14 * 60)}
	if err := svc.CreateTemplate(ctx, sat); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if _, err := svc.CreateBooking(ctx, f.input(f.local(7, 10, 0), calendar.OriginOperator)); err != nil {
		t.Fatalf("booking inside new template rejected: %v", err)
	}
	if err := svc.DeleteTemplate(ctx, f.practitioner.ID, sat.ID); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}

	var changes int
	for _, ev := range f.store.Events() {
		if ev.EventType == EventCalendarChanged {
			changes++
		}
	}
	if changes != 2 {
		t.Fatalf("got %d calendar.changed events, want 2", changes)
	}
}
