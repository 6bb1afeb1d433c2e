package booking

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	redisclient "github.com/hackgods/clinic-availability-engine/internal/redis"
)

type fixture struct {
	store        *calendar.MemoryStore
	practitioner calendar.Practitioner
	service      calendar.Service
	loc          *time.Location
	invalidated  *countingInvalidator
}

// newFixture seeds a Europe/Moscow practitioner open Mon-Fri 09:00-17:00 with a
// 30 minute service, 15 minute buffer and 60 minute lead time.
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
		service:     calendar.Service{Name: "Consultation", DurationMinutes: 30},
		loc:         loc,
		invalidated: &countingInvalidator{},
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

// local builds a March 2026 Moscow wall clock time. 2026-03-02 is a Monday.
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

func (f *fixture) booking(now time.Time, locker redisclient.Locker) *Service {
	return NewService(f.store, locker, f.invalidated, nil, Options{Now: func() time.Time { return now }})
}

func (f *fixture) input(start time.Time, origin calendar.Origin) CreateBookingInput {
	return CreateBookingInput{
		PractitionerID: f.practitioner.ID,
		ServiceID:      f.service.ID,
		Start:          start,
		Origin:         origin,
	}
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
}

func (c *countingInvalidator) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[uuid.UUID]int{}
	}
	c.calls[id]++
}

func (c *countingInvalidator) count(id uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

// stubLocker returns err without running fn when err is set.
type stubLocker struct {
	err   error
	calls int
}

func (l *stubLocker) WithPractitionerLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	l.calls++
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}
