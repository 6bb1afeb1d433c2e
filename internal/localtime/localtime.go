// Package localtime converts between a practitioner's wall clock and UTC instants.
// Every local concept (day boundaries, weekdays, template times, grid alignment)
// goes through this package so DST handling lives in one place.
package localtime

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// Date is a calendar day without a zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate accepts YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) AddDays(n int) Date {
	t := time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Clock is a wall-clock time of day in minutes since local midnight.
type Clock int

// ParseClock accepts HH:MM. "24:00" is allowed to express end of day.
func ParseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return Clock(h*60 + m), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) Valid() bool {
	return c >= 0 && c <= minutesPerDay
}

// At resolves a local date and clock in loc to an absolute instant.
//
// Ambiguous wall times (fall-back overlap) resolve to the earlier instant.
// Wall times inside a spring-forward gap are shifted forward by the gap length,
// so 02:30 on a day that jumps 02:00 -> 03:00 becomes 03:30.
func At(d Date, c Clock, loc *time.Location) time.Time {
	if c >= minutesPerDay {
		d = d.AddDays(int(c) / minutesPerDay)
		c = c % minutesPerDay
	}
	naive := time.Date(d.Year, d.Month, d.Day, int(c)/60, int(c)%60, 0, 0, time.UTC)

	_, offBefore := naive.Add(-12 * time.Hour).In(loc).Zone()
	_, offAfter := naive.Add(12 * time.Hour).In(loc).Zone()

	var best time.Time
	found := false
	for _, off := range []int{offBefore, offAfter} {
		cand := naive.Add(-time.Duration(off) * time.Second)
		if !sameWall(cand.In(loc), naive) {
			continue
		}
		if !found || cand.Before(best) {
			best = cand
			found = true
		}
	}
	if found {
		return best.UTC()
	}

	// Gap: interpret with the pre-transition offset, which lands past the jump.
	return naive.Add(-time.Duration(offBefore) * time.Second).UTC()
}

func sameWall(local, naive time.Time) bool {
	y1, m1, d1 := local.Date()
	y2, m2, d2 := naive.Date()
	return y1 == y2 && m1 == m2 && d1 == d2 &&
		local.Hour() == naive.Hour() && local.Minute() == naive.Minute() && local.Second() == naive.Second()
}

// DayStart returns the instant of local midnight on d.
func DayStart(d Date, loc *time.Location) time.Time {
	return At(d, 0, loc)
}

// Days lists every local date whose day overlaps [from, to).
func Days(from, to time.Time, loc *time.Location) []Date {
	if !from.Before(to) {
		return nil
	}
	var out []Date
	last := DateOf(to.Add(-time.Nanosecond), loc)
	for d := DateOf(from, loc); !last.Before(d); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// NextGrid returns the first local grid boundary strictly after t. Boundaries are
// multiples of step minutes past local midnight.
func NextGrid(t time.Time, step time.Duration, loc *time.Location) time.Time {
	stepMin := int(step / time.Minute)
	if stepMin <= 0 {
		return t
	}

	local := t.In(loc)
	d := Date{Year: local.Year(), Month: local.Month(), Day: local.Day()}
	minute := local.Hour()*60 + local.Minute()

	boundary := (minute/stepMin + 1) * stepMin
	for i := 0; i < 2*minutesPerDay; i++ {
		if boundary >= minutesPerDay {
			d = d.AddDays(1)
			boundary = 0
		}
		cand := resolveAfter(d, Clock(boundary), t, loc)
		if cand.After(t) {
			return cand
		}
		boundary += stepMin
	}
	return t.Add(step)
}

// resolveAfter prefers the reading of an ambiguous wall time that lies after ref,
// so that walking through a repeated hour does not jump backwards or skip it.
func resolveAfter(d Date, c Clock, ref time.Time, loc *time.Location) time.Time {
	naive := time.Date(d.Year, d.Month, d.Day, int(c)/60, int(c)%60, 0, 0, time.UTC)
	_, off := ref.In(loc).Zone()
	cand := naive.Add(-time.Duration(off) * time.Second)
	if sameWall(cand.In(loc), naive) && cand.After(ref) {
		return cand.UTC()
	}
	return At(d, c, loc)
}

// LoadLocation wraps time.LoadLocation with an error that names the zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("empty time zone")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", name, err)
	}
	return loc, nil
}
