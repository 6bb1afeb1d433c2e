package availability

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/interval"
)

func TestListSlots_SimpleDay(t *testing.T) {
	f := newFixture(t)
	svc := f.availability(f.local(2, 8, 0))

	res, err := svc.ListSlots(context.Background(), SlotQuery{
		PractitionerID: f.practitioner.ID,
		ServiceID:      f.service.ID,
		Date:           monday,
	})
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}
	if len(res.Slots) != 9 {
		t.Fatalf("got %d slots, want 9: %v", len(res.Slots), res.Slots)
	}
	if first := res.Slots[0].Start.In(f.loc); first.Hour() != 9 || first.Minute() != 10 {
		t.Fatalf("first slot starts at %v, want 09:10 local", first)
	}
	if last := res.Slots[len(res.Slots)-1].End; last.After(f.local(2, 17, 0)) {
		t.Fatalf("last slot ends at %v, after 17:00 local", last.In(f.loc))
	}
	for i := 1; i < len(res.Slots); i++ {
		if res.Slots[i].Start.Before(res.Slots[i-1].End.Add(15 * time.Minute)) {
			t.Fatalf("slots %d and %d closer than the buffer", i-1, i)
		}
	}

	want := EffectivePolicy{DurationMinutes: 30, BufferMinutes: 15, GridStepMinutes: 10, MinLeadMinutes: 60, TimeZone: "Europe/Moscow"}
	if res.Policy != want {
		t.Fatalf("policy = %+v, want %+v", res.Policy, want)
	}
}

func TestListSlots_Deterministic(t *testing.T) {
	f := newFixture(t)
	svc := f.availability(f.local(2, 8, 0))
	q := SlotQuery{PractitionerID: f.practitioner.ID, ServiceID: f.service.ID, Date: monday}

	a, err := svc.ListSlots(context.Background(), q)
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}
	b, err := svc.ListSlots(context.Background(), q)
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}
	if !reflect.DeepEqual(a.Slots, b.Slots) {
		t.Fatalf("repeated query returned different slots")
	}
}

func TestListSlots_VacationBlock(t *testing.T) {
	f := newFixture(t)
	f.tx(t, func(ctx context.Context, tx calendar.Tx) error {
		return tx.InsertUnavailability(ctx, &calendar.Unavailability{
			PractitionerID: f.practitioner.ID,
			Type:           calendar.UnavailabilityVacation,
			StartAt:        f.local(2, 0, 0),
			EndAt:          f.local(9, 0, 0),
			TimeZone:       "Europe/Moscow",
		})
	})

	svc := f.availability(f.local(1, 8, 0))
	wednesday := monday.AddDays(2)
	res, err := svc.ListSlots(context.Background(), SlotQuery{
		PractitionerID: f.practitioner.ID,
		ServiceID:      f.service.ID,
		Date:           wednesday,
	})
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}
	if len(res.Slots) != 0 {
		t.Fatalf("expected no slots inside vacation, got %v", res.Slots)
	}
}

func TestListSlots_BookingIsPaddedByBuffer(t *testing.T) {
	f := newFixture(t)
	f.tx(t, func(ctx context.Context, tx calendar.Tx) error {
		return tx.InsertBooking(ctx, &calendar.Booking{
			PractitionerID: f.practitioner.ID,
			ServiceID:      f.service.ID,
			StartAt:        f.local(2, 12, 0),
			EndAt:          f.local(2, 12, 30),
			Status:         calendar.StatusConfirmed,
			Origin:         calendar.OriginOperator,
		})
	})

	svc := f.availability(f.local(2, 8, 0))
	res, err := svc.ListSlots(context.Background(), SlotQuery{PractitionerID: f.practitioner.ID, ServiceID: f.service.ID, Date: monday})
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}
	blocked := interval.New(f.local(2, 11, 45), f.local(2, 12, 45))
	for _, s := range res.Slots {
		if interval.Overlaps(interval.New(s.Start, s.End), blocked) {
			t.Fatalf("slot %v-%v too close to booking", s.Start.In(f.loc), s.End.In(f.loc))
		}
	}
}

func TestListSlots_RecurringClosure(t *testing.T) {
	f := newFixture(t)
	rule := "FREQ=WEEKLY;BYDAY=MO,WE"
	f.tx(t, func(ctx context.Context, tx calendar.Tx) error {
		return tx.InsertUnavailability(ctx, &calendar.Unavailability{
			PractitionerID: f.practitioner.ID,
			Type:           calendar.UnavailabilityNoBookings,
			StartAt:        f.local(2, 13, 0),
			EndAt:          f.local(2, 14, 0),
			Rule:           &rule,
			TimeZone:       "Europe/Moscow",
		})
	})

	svc := f.availability(f.local(1, 8, 0))
	res, err := svc.ListSlots(context.Background(), SlotQuery{PractitionerID: f.practitioner.ID, ServiceID: f.service.ID, Date: monday.AddDays(9)})
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}
	lunch := interval.New(f.local(11, 13, 0), f.local(11, 14, 0))
	if len(res.Slots) == 0 {
		t.Fatalf("expected slots outside the closure")
	}
	for _, s := range res.Slots {
		if interval.Overlaps(interval.New(s.Start, s.End), lunch) {
			t.Fatalf("slot %v overlaps recurring closure", s.Start.In(f.loc))
		}
	}
}

func TestListSlots_MalformedRuleFailsClosed(t *testing.T) {
	f := newFixture(t)
	rule := "FREQ=YEARLY"
	f.tx(t, func(ctx context.Context, tx calendar.Tx) error {
		return tx.InsertUnavailability(ctx, &calendar.Unavailability{
			PractitionerID: f.practitioner.ID,
			Type:           calendar.UnavailabilityDayOff,
			StartAt:        f.local(2, 9, 0),
			EndAt:          f.local(2, 10, 0),
			Rule:           &rule,
			TimeZone:       "Europe/Moscow",
		})
	})

	svc := f.availability(f.local(1, 8, 0))
	_, err := svc.ListSlots(context.Background(), SlotQuery{PractitionerID: f.practitioner.ID, ServiceID: f.service.ID, Date: monday})
	if !errors.Is(err, calendar.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListSlots_UnlinkedServiceIsNotFound(t *testing.T) {
	f := newFixture(t)
	svc := f.availability(f.local(1, 8, 0))
	_, err := svc.ListSlots(context.Background(), SlotQuery{PractitionerID: f.practitioner.ID, ServiceID: uuid.New(), Date: monday})
	if !errors.Is(err, calendar.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListSlots_Overrides(t *testing.T) {
	f := newFixture(t)
	svc := f.availability(f.local(1, 8, 0))
	step, lead := 30, 0
	res, err := svc.ListSlots(context.Background(), SlotQuery{
		PractitionerID:  f.practitioner.ID,
		ServiceID:       f.service.ID,
		Date:            monday,
		GridStepMinutes: &step,
		MinLeadMinutes:  &lead,
	})
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}
	if res.Policy.GridStepMinutes != 30 || res.Policy.MinLeadMinutes != 0 {
		t.Fatalf("overrides not echoed: %+v", res.Policy)
	}
	for _, s := range res.Slots {
		if s.Start.In(f.loc).Minute()%30 != 0 {
			t.Fatalf("slot %v not on the 30 minute grid", s.Start.In(f.loc))
		}
	}

	bad := 0
	_, err = svc.ListSlots(context.Background(), SlotQuery{PractitionerID: f.practitioner.ID, ServiceID: f.service.ID, Date: monday, GridStepMinutes: &bad})
	if !errors.Is(err, calendar.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListCalendar(t *testing.T) {
	f := newFixture(t)
	reason := "training"
	f.tx(t, func(ctx context.Context, tx calendar.Tx) error {
		if err := tx.InsertOpening(ctx, &calendar.Opening{
			PractitionerID: f.practitioner.ID,
			StartAt:        f.local(7, 10, 0),
			EndAt:          f.local(7, 12, 0),
		}); err != nil {
			return err
		}
		return tx.InsertException(ctx, &calendar.Exception{
			PractitionerID: f.practitioner.ID,
			StartAt:        f.local(3, 9, 0),
			EndAt:          f.local(3, 11, 0),
			Reason:         &reason,
		})
	})

	svc := f.availability(f.local(1, 8, 0))
	events, err := svc.ListCalendar(context.Background(), f.practitioner.ID, f.local(2, 0, 0), f.local(9, 0, 0))
	if err != nil {
		t.Fatalf("ListCalendar() error = %v", err)
	}

	counts := map[calendar.EntryKind]int{}
	for i, ev := range events {
		counts[ev.Kind]++
		if i > 0 && ev.Start.Before(events[i-1].Start) {
			t.Fatalf("events not sorted")
		}
	}
	if counts[calendar.KindTemplateOpening] != 5 || counts[calendar.KindManualOpening] != 1 || counts[calendar.KindException] != 1 {
		t.Fatalf("unexpected entry counts %v", counts)
	}

	_, err = svc.ListCalendar(context.Background(), f.practitioner.ID, f.local(2, 0, 0), f.local(2, 0, 0).AddDate(1, 0, 0))
	if !errors.Is(err, calendar.ErrValidation) {
		t.Fatalf("expected span validation error, got %v", err)
	}
}

func TestListSlots_ManualOpeningOnWeekend(t *testing.T) {
	f := newFixture(t)
	f.tx(t, func(ctx context.Context, tx calendar.Tx) error {
		return tx.InsertOpening(ctx, &calendar.Opening{
			PractitionerID: f.practitioner.ID,
			StartAt:        f.local(7, 10, 0),
			EndAt:          f.local(7, 11, 0),
		})
	})

	svc := f.availability(f.local(1, 8, 0))
	res, err := svc.ListSlots(context.Background(), SlotQuery{PractitionerID: f.practitioner.ID, ServiceID: f.service.ID, Date: monday.AddDays(5)})
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}
	if len(res.Slots) != 1 || !res.Slots[0].Start.Equal(f.local(7, 10, 10)) {
		t.Fatalf("unexpected saturday slots %v", res.Slots)
	}
}
