package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	redisclient "github.com/hackgods/clinic-availability-engine/internal/redis"
)

func TestCreateBooking_InitialStatusByOrigin(t *testing.T) {
	f := newFixture(t)
	svc := f.booking(f.local(2, 8, 0), nil)

	self, err := svc.CreateBooking(context.Background(), f.input(f.local(2, 10, 0), calendar.OriginSelfService))
	if err != nil {
		t.Fatalf("CreateBooking() error = %v", err)
	}
	if self.Status != calendar.StatusPending {
		t.Fatalf("self-service status = %s, want pending", self.Status)
	}
	if !self.EndAt.Equal(f.local(2, 10, 30)) {
		t.Fatalf("end = %v, want start + 30m", self.EndAt.In(f.loc))
	}

	op, err := svc.CreateBooking(context.Background(), f.input(f.local(2, 14, 0), calendar.OriginOperator))
	if err != nil {
		t.Fatalf("CreateBooking() error = %v", err)
	}
	if op.Status != calendar.StatusConfirmed {
		t.Fatalf("operator status = %s, want confirmed", op.Status)
	}

	events := f.store.Events()
	if len(events) != 2 || events[0].EventType != EventBookingCreated {
		t.Fatalf("unexpected events %+v", events)
	}
	if f.invalidated.count(f.practitioner.ID) != 2 {
		t.Fatalf("cache not invalidated after each booking")
	}
}

func TestCreateBooking_ExactCoveringWindow(t *testing.T) {
	f := newFixture(t)
	f.tx(t, func(ctx context.Context, tx calendar.Tx) error {
		return tx.InsertOpening(ctx, &calendar.Opening{
			PractitionerID: f.practitioner.ID,
			StartAt:        f.local(7, 10, 0),
			EndAt:          f.local(7, 10, 30),
		})
	})
	svc := f.booking(f.local(2, 8, 0), nil)

	_, err := svc.CreateBooking(context.Background(), f.input(f.local(7, 10, 15), calendar.OriginSelfService))
	var conflict *calendar.ConflictError
	if !errors.As(err, &conflict) || conflict.With != "opening" {
		t.Fatalf("expected opening conflict, got %v", err)
	}
	if !errors.Is(err, calendar.ErrConflict) {
		t.Fatalf("conflict does not carry the conflict kind: %v", err)
	}

	if _, err := svc.CreateBooking(context.Background(), f.input(f.local(7, 10, 0), calendar.OriginSelfService)); err != nil {
		t.Fatalf("exactly covered booking rejected: %v", err)
	}
}

func TestCreateBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	reason := "staff meeting"
	var existing calendar.Booking
	var exception calendar.Exception
	f.tx(t, func(ctx context.Context, tx calendar.Tx) error {
		existing = calendar.Booking{
			PractitionerID: f.practitioner.ID,
			ServiceID:      f.service.ID,
			StartAt:        f.local(3, 12, 0),
			EndAt:          f.local(3, 12, 30),
			Status:         calendar.StatusConfirmed,
			Origin:         calendar.OriginOperator,
		}
		if err := tx.InsertBooking(ctx, &existing); err != nil {
			return err
		}
		exception = calendar.Exception{
			PractitionerID: f.practitioner.ID,
			StartAt:        f.local(3, 14, 0),
			EndAt:          f.local(3, 15, 0),
			Reason:         &reason,
		}
		return tx.InsertException(ctx, &exception)
	})

	now := f.local(3, 8, 0)
	svc := f.booking(now, nil)

	tests := []struct {
		name   string
		in     CreateBookingInput
		kind   error
		withID uuid.UUID
	}{
		{"unlinked service", CreateBookingInput{PractitionerID: f.practitioner.ID, ServiceID: uuid.New(), Start: f.local(3, 10, 0)}, calendar.ErrNotFound, uuid.Nil},
		{"unknown practitioner", CreateBookingInput{PractitionerID: uuid.New(), ServiceID: f.service.ID, Start: f.local(3, 10, 0)}, calendar.ErrNotFound, uuid.Nil},
		{"inside lead time", f.input(f.local(3, 8, 30), calendar.OriginSelfService), calendar.ErrValidation, uuid.Nil},
		{"outside opening hours", f.input(f.local(3, 16, 45), calendar.OriginOperator), calendar.ErrConflict, uuid.Nil},
		{"weekend", f.input(f.local(7, 10, 0), calendar.OriginOperator), calendar.ErrConflict, uuid.Nil},
		{"inside booking buffer", f.input(f.local(3, 12, 35), calendar.OriginOperator), calendar.ErrConflict, existing.ID},
		{"before booking buffer", f.input(f.local(3, 11, 20), calendar.OriginOperator), calendar.ErrConflict, existing.ID},
		{"inside exception", f.input(f.local(3, 14, 30), calendar.OriginOperator), calendar.ErrConflict, exception.ID},
		{"unknown origin", f.input(f.local(3, 10, 0), calendar.Origin("kiosk")), calendar.ErrValidation, uuid.Nil},
		{"missing start", CreateBookingInput{PractitionerID: f.practitioner.ID, ServiceID: f.service.ID}, calendar.ErrValidation, uuid.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBooking(context.Background(), tt.in)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("error = %v, want kind %v", err, tt.kind)
			}
			if tt.withID != uuid.Nil {
				var conflict *calendar.ConflictError
				if !errors.As(err, &conflict) || conflict.ID != tt.withID {
					t.Fatalf("conflict does not name %s: %v", tt.withID, err)
				}
			}
		})
	}

	// Operators may book inside the lead time, and right after the buffer.
	if _, err := svc.CreateBooking(context.Background(), f.input(f.local(3, 12, 45), calendar.OriginOperator)); err != nil {
		t.Fatalf("booking right after the buffer rejected: %v", err)
	}
	if _, err := svc.CreateBooking(context.Background(), f.input(f.local(3, 9, 0), calendar.OriginOperator)); err != nil {
		t.Fatalf("operator booking inside lead time rejected: %v", err)
	}
}

func TestCreateBooking_RecurringClosure(t *testing.T) {
	f := newFixture(t)
	rule := "FREQ=WEEKLY;BYDAY=TU"
	f.tx(t, func(ctx context.Context, tx calendar.Tx) error {
		return tx.InsertUnavailability(ctx, &calendar.Unavailability{
			PractitionerID: f.practitioner.ID,
			Type:           calendar.UnavailabilityNoBookings,
			StartAt:        f.local(3, 13, 0),
			EndAt:          f.local(3, 14, 0),
			Rule:           &rule,
			TimeZone:       "Europe/Moscow",
		})
	})
	svc := f.booking(f.local(2, 8, 0), nil)

	_, err := svc.CreateBooking(context.Background(), f.input(f.local(17, 13, 30), calendar.OriginOperator))
	var conflict *calendar.ConflictError
	if !errors.As(err, &conflict) || conflict.With != string(calendar.KindUnavailability) {
		t.Fatalf("expected unavailability conflict, got %v", err)
	}
}

func TestCreateBooking_MutualExclusion(t *testing.T) {
	f := newFixture(t)
	svc := f.booking(f.local(2, 8, 0), nil)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateBooking(context.Background(), f.input(f.local(4, 12, 0), calendar.OriginSelfService))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, calendar.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("successes = %d, conflicts = %d", successes, conflicts)
	}
	bookings, err := f.store.ListActiveBookings(context.Background(), f.practitioner.ID, f.local(4, 0, 0), f.local(5, 0, 0))
	if err != nil {
		t.Fatalf("ListActiveBookings() error = %v", err)
	}
	if len(bookings) != 1 {
		t.Fatalf("stored %d active bookings, want 1", len(bookings))
	}
}

func TestCreateBooking_Locker(t *testing.T) {
	tests := []struct {
		name    string
		lockErr error
		wantErr error
	}{
		{"busy", redisclient.ErrLockNotAcquired, calendar.ErrConflict},
		{"redis down", fmt.Errorf("%w: %w", redisclient.ErrLockUnavailable, errors.New("dial tcp: refused")), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			locker := &stubLocker{err: tt.lockErr}
			svc := f.booking(f.local(2, 8, 0), locker)

			_, err := svc.CreateBooking(context.Background(), f.input(f.local(2, 10, 0), calendar.OriginSelfService))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("CreateBooking() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if locker.calls != 1 {
				t.Fatalf("locker called %d times", locker.calls)
			}
		})
	}
}

func TestTransitionStatus(t *testing.T) {
	f := newFixture(t)
	svc := f.booking(f.local(2, 8, 0), nil)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, f.input(f.local(2, 10, 0), calendar.OriginOperator))
	if err != nil {
		t.Fatalf("CreateBooking() error = %v", err)
	}

	done, err := svc.TransitionStatus(ctx, b.ID, calendar.StatusCompleted)
	if err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}
	if done.Status != calendar.StatusCompleted {
		t.Fatalf("status = %s", done.Status)
	}

	_, err = svc.TransitionStatus(ctx, b.ID, calendar.StatusConfirmed)
	var te *calendar.TransitionError
	if !errors.As(err, &te) || te.From != calendar.StatusCompleted || te.To != calendar.StatusConfirmed {
		t.Fatalf("expected completed -> confirmed rejection, got %v", err)
	}
	if !errors.Is(err, calendar.ErrInvalidTransition) {
		t.Fatalf("missing invalid transition kind: %v", err)
	}

	got, err := svc.GetBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBooking() error = %v", err)
	}
	if got.Status != calendar.StatusCompleted {
		t.Fatalf("rejected transition changed status to %s", got.Status)
	}

	events := f.store.Events()
	last := events[len(events)-1]
	if last.EventType != EventBookingStatusChanged || len(events) != 2 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestTransitionStatus_Errors(t *testing.T) {
	f := newFixture(t)
	svc := f.booking(f.local(2, 8, 0), nil)
	ctx := context.Background()

	if _, err := svc.TransitionStatus(ctx, uuid.New(), calendar.StatusCanceled); !errors.Is(err, calendar.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.TransitionStatus(ctx, uuid.New(), calendar.BookingStatus("archived")); !errors.Is(err, calendar.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransitionStatus_CancelFreesTheSlot(t *testing.T) {
	f := newFixture(t)
	svc := f.booking(f.local(2, 8, 0), nil)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, f.input(f.local(2, 10, 0), calendar.OriginSelfService))
	if err != nil {
		t.Fatalf("CreateBooking() error = %v", err)
	}
	if _, err := svc.CreateBooking(ctx, f.input(f.local(2, 10, 0), calendar.OriginSelfService)); !errors.Is(err, calendar.ErrConflict) {
		t.Fatalf("expected conflict while pending, got %v", err)
	}
	if _, err := svc.TransitionStatus(ctx, b.ID, calendar.StatusCanceled); err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}
	if _, err := svc.CreateBooking(ctx, f.input(f.local(2, 10, 0), calendar.OriginSelfService)); err != nil {
		t.Fatalf("slot still blocked after cancel: %v", err)
	}
}
