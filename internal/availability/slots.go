package availability

import (
	"time"

	"github.com/hackgods/clinic-availability-engine/internal/interval"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
)

type Slot struct {
	Start time.Time
	End   time.Time
}

// Policy holds the effective values slot generation runs with.
type Policy struct {
	Duration time.Duration
	Buffer   time.Duration
	GridStep time.Duration
	MinLead  time.Duration
	Loc      *time.Location
}

// GenerateSlots walks each free window on the local grid. Consecutive slots are
// separated by at least the buffer, and no slot starts before now + MinLead.
// The output depends only on its inputs and is ordered by start.
func GenerateSlots(free []interval.Interval, p Policy, now time.Time) []Slot {
	slots := []Slot{}
	if p.Duration <= 0 {
		return slots
	}
	loc := p.Loc
	if loc == nil {
		loc = time.UTC
	}
	earliest := now.Add(p.MinLead)

	for _, w := range free {
		cursor := localtime.NextGrid(w.Start, p.GridStep, loc)
		for cursor.Before(w.End) {
			end := cursor.Add(p.Duration)
			if end.After(w.End) {
				break
			}
			if !cursor.Before(earliest) {
				slots = append(slots, Slot{Start: cursor.UTC(), End: end.UTC()})
			}
			next := localtime.NextGrid(end.Add(p.Buffer), p.GridStep, loc)
			if !next.After(cursor) {
				break
			}
			cursor = next
		}
	}
	return slots
}
