package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/interval"
)

func TestCache_GenerationGuardsStalePut(t *testing.T) {
	c := NewCache(16, time.Minute)
	id := uuid.New()
	window := interval.New(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	windows := []interval.Interval{interval.New(window.Start.Add(9*time.Hour), window.Start.Add(17*time.Hour))}

	gen := c.Generation(id)
	c.Invalidate(id)
	c.Put(id, 0, window, gen, windows)
	if _, ok := c.Get(id, 0, window); ok {
		t.Fatalf("stale put must not be cached")
	}

	c.Put(id, 0, window, c.Generation(id), windows)
	got, ok := c.Get(id, 0, window)
	if !ok || len(got) != 1 {
		t.Fatalf("expected cache hit, got %v %v", got, ok)
	}

	c.Invalidate(id)
	if _, ok := c.Get(id, 0, window); ok {
		t.Fatalf("invalidated entry still served")
	}
}

func TestCache_NilIsDisabled(t *testing.T) {
	var c *Cache
	if NewCache(0, time.Minute) != nil {
		t.Fatalf("zero size should disable the cache")
	}
	c.Put(uuid.New(), 0, interval.Interval{}, 0, nil)
	c.Invalidate(uuid.New())
	if _, ok := c.Get(uuid.New(), 0, interval.Interval{}); ok {
		t.Fatalf("nil cache must never hit")
	}
}

func TestService_CacheInvalidatedAfterWrite(t *testing.T) {
	f := newFixture(t)
	now := f.local(1, 8, 0)
	svc := NewService(f.store, nil, Options{Now: func() time.Time { return now }, Cache: NewCache(16, time.Minute)})
	q := SlotQuery{PractitionerID: f.practitioner.ID, ServiceID: f.service.ID, Date: monday}

	before, err := svc.ListSlots(context.Background(), q)
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}

	f.tx(t, func(ctx context.Context, tx calendar.Tx) error {
		return tx.InsertException(ctx, &calendar.Exception{
			PractitionerID: f.practitioner.ID,
			StartAt:        f.local(2, 9, 0),
			EndAt:          f.local(2, 17, 0),
		})
	})

	cached, err := svc.ListSlots(context.Background(), q)
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}
	if len(cached.Slots) != len(before.Slots) {
		t.Fatalf("expected cached result before invalidation")
	}

	svc.Invalidate(f.practitioner.ID)
	after, err := svc.ListSlots(context.Background(), q)
	if err != nil {
		t.Fatalf("ListSlots() error = %v", err)
	}
	if len(after.Slots) != 0 {
		t.Fatalf("expected no slots after closing the day, got %d", len(after.Slots))
	}
}
