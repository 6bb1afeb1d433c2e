package availability

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
)

type fixture struct {
	store        *calendar.MemoryStore
	practitioner calendar.Practitioner
	service      calendar.Service
	loc          *time.Location
}

// newFixture seeds a Europe/Moscow practitioner open Mon-Fri 09:00-17:00 with a
// 30 minute service, 15 minute buffer, 10 minute grid and 60 minute lead time.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}

	f := &fixture{
		store: calendar.NewMemoryStore(),
		practitioner: calendar.Practitioner{
			Name:               "Dr. Moscow",
			TimeZone:           "Europe/Moscow",
			BufferMinutes:      15,
			MinLeadMinutes:     60,
			GridStepMinutes:    10,
			DefaultSlotMinutes: 30,
			Active:             true,
		},
		service: calendar.Service{Name: "Consultation", DurationMinutes: 30},
		loc:     loc,
	}

	err = f.store.InTx(ctx, func(tx calendar.Tx) error {
		if err := tx.InsertPractitioner(ctx, &f.practitioner); err != nil {
			return err
		}
		if err := tx.InsertService(ctx, &f.service); err != nil {
			return err
		}
		if err := tx.LinkService(ctx, calendar.ServiceLink{PractitionerID: f.practitioner.ID, ServiceID: f.service.ID, Active: true}); err != nil {
			return err
		}
		return tx.InsertTemplate(ctx, &calendar.WeeklyTemplate{
			PractitionerID: f.practitioner.ID,
			Weekdays:       []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			StartMinute:    9 * 60,
			EndMinute:      17 * 60,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return f
}

func (f *fixture) local(day, hour, min int) time.Time {
	return time.Date(2026, time.March, day, hour, min, 0, 0, f.loc)
}

func (f *fixture) tx(t *testing.T, fn func(ctx context.Context, tx calendar.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.InTx(ctx, func(tx calendar.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func (f *fixture) availability(now time.Time) *Service {
	return NewService(f.store, nil, Options{Now: func() time.Time { return now }})
}

// 2026-03-02 is a Monday.
var monday = localtime.Date{Year: 2026, Month: time.March, Day: 2}
