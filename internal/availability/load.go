package availability

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/interval"
)

// Snapshot is everything the aggregator needs about one practitioner for one
// window. Bookings are read over the window widened by the buffer so that
// padding around bookings just outside the window is still applied.
type Snapshot struct {
	Practitioner     *calendar.Practitioner
	Loc              *time.Location
	Window           interval.Interval
	Templates        []calendar.WeeklyTemplate
	Openings         []calendar.Opening
	Exceptions       []calendar.Exception
	Unavailabilities []calendar.Unavailability
	Bookings         []calendar.Booking
}

// Load reads the five calendar sources. With concurrent set the reads run in
// parallel; inside a transaction they must run sequentially on the one
// connection. Nothing is combined until every read has returned.
func Load(ctx context.Context, r calendar.Reader, p *calendar.Practitioner, window interval.Interval, bookingPad time.Duration, concurrent bool) (*Snapshot, error) {
	loc, err := p.Location()
	if err != nil {
		return nil, calendar.Validationf("practitioner %s: %v", p.ID, err)
	}

	snap := &Snapshot{Practitioner: p, Loc: loc, Window: window}
	padded := window.Pad(bookingPad, bookingPad)

	reads := []func(context.Context) error{
		func(ctx context.Context) (err error) {
			snap.Templates, err = r.ListWeeklyTemplates(ctx, p.ID)
			return wrapRead("weekly templates", err)
		},
		func(ctx context.Context) (err error) {
			snap.Openings, err = r.ListOpenings(ctx, p.ID, window.Start, window.End)
			return wrapRead("openings", err)
		},
		func(ctx context.Context) (err error) {
			snap.Exceptions, err = r.ListExceptions(ctx, p.ID, window.Start, window.End)
			return wrapRead("exceptions", err)
		},
		func(ctx context.Context) (err error) {
			snap.Unavailabilities, err = r.ListUnavailabilities(ctx, p.ID, window.Start, window.End)
			return wrapRead("unavailabilities", err)
		},
		func(ctx context.Context) (err error) {
			snap.Bookings, err = r.ListActiveBookings(ctx, p.ID, padded.Start, padded.End)
			return wrapRead("bookings", err)
		},
	}

	if !concurrent {
		for _, read := range reads {
			if err := read(ctx); err != nil {
				return nil, err
			}
		}
		return snap, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, read := range reads {
		read := read
		g.Go(func() error { return read(gctx) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func wrapRead(what string, err error) error {
	return calendar.Internal("load "+what, err)
}
