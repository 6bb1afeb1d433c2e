package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/clinic-availability-engine/internal/interval"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
)

// Limits bounds a single expansion. Zero fields fall back to DefaultLimits.
type Limits struct {
	MaxIterations     int // periods visited inside or after the window
	MaxOccurrences    int // occurrences returned
	MaxSkippedPeriods int // periods walked before the window is reached
}

var DefaultLimits = Limits{
	MaxIterations:     400,
	MaxOccurrences:    500,
	MaxSkippedPeriods: 10000,
}

func (l Limits) withDefaults() Limits {
	if l.MaxIterations <= 0 {
		l.MaxIterations = DefaultLimits.MaxIterations
	}
	if l.MaxOccurrences <= 0 {
		l.MaxOccurrences = DefaultLimits.MaxOccurrences
	}
	if l.MaxSkippedPeriods <= 0 {
		l.MaxSkippedPeriods = DefaultLimits.MaxSkippedPeriods
	}
	return l
}

// Template is the first occurrence of a series. Duration is measured on the wall
// clock, so a 02:00-03:00 closure stays 02:00-03:00 local across DST changes.
type Template struct {
	Start    time.Time
	Duration time.Duration
	Loc      *time.Location
	// End optionally stops the series; occurrences starting after it are dropped.
	End time.Time
}

type expander struct {
	rule      Rule
	loc       *time.Location
	firstDate localtime.Date
	clock     localtime.Clock
	length    localtime.Clock
	anchor    localtime.Date
	byDay     []time.Weekday
	byMonth   []int
}

// Expand returns every occurrence of rule that overlaps [from, to), in order.
// It never returns a partial list: hitting a ceiling yields ErrCeilingReached.
func Expand(rule Rule, tpl Template, from, to time.Time, limits Limits) ([]interval.Interval, error) {
	if rule.Freq != Weekly && rule.Freq != Monthly {
		return nil, fmt.Errorf("%w: unsupported frequency", ErrInvalidRule)
	}
	limits = limits.withDefaults()

	out := []interval.Interval{}
	length := localtime.Clock(tpl.Duration / time.Minute)
	if !from.Before(to) || length <= 0 {
		return out, nil
	}

	e := newExpander(rule, tpl, length)

	count := 0
	iterations, skipped := 0, 0
	for k := e.fastForward(from, tpl.Duration); ; k++ {
		periodStart, periodEnd, dates := e.period(k)
		if !localtime.DayStart(periodStart, e.loc).Before(to) {
			return out, nil
		}

		reached := false
		for _, d := range dates {
			if d.Before(e.firstDate) {
				continue
			}
			if rule.UntilDate != nil && rule.UntilDate.Before(d) {
				return out, nil
			}
			start := localtime.At(d, e.clock, e.loc)
			if !rule.Until.IsZero() && start.After(rule.Until) {
				return out, nil
			}
			if !tpl.End.IsZero() && start.After(tpl.End) {
				return out, nil
			}
			if rule.Count > 0 && count >= rule.Count {
				return out, nil
			}
			count++
			if !start.Before(to) {
				return out, nil
			}

			end := localtime.At(d, e.clock+e.length, e.loc)
			if !end.After(start) {
				// Collapsed by a DST transition.
				continue
			}
			if end.After(from) {
				reached = true
				out = append(out, interval.Interval{Start: start, End: end})
				if len(out) > limits.MaxOccurrences {
					return nil, fmt.Errorf("%w: more than %d occurrences", ErrCeilingReached, limits.MaxOccurrences)
				}
			}
		}
		if len(dates) == 0 && localtime.DayStart(periodEnd, e.loc).After(from) {
			reached = true
		}

		if reached {
			iterations++
		} else {
			skipped++
		}
		if iterations > limits.MaxIterations {
			return nil, fmt.Errorf("%w: more than %d periods", ErrCeilingReached, limits.MaxIterations)
		}
		if skipped > limits.MaxSkippedPeriods {
			return nil, fmt.Errorf("%w: more than %d skipped periods", ErrCeilingReached, limits.MaxSkippedPeriods)
		}
	}
}

func newExpander(rule Rule, tpl Template, length localtime.Clock) *expander {
	loc := tpl.Loc
	if loc == nil {
		loc = time.UTC
	}
	first := tpl.Start.In(loc)
	e := &expander{
		rule:      rule,
		loc:       loc,
		firstDate: localtime.Date{Year: first.Year(), Month: first.Month(), Day: first.Day()},
		clock:     localtime.Clock(first.Hour()*60 + first.Minute()),
		length:    length,
		byDay:     rule.ByDay,
		byMonth:   rule.ByMonthDay,
	}
	if len(e.byDay) == 0 {
		e.byDay = []time.Weekday{e.firstDate.Weekday()}
	}
	if len(e.byMonth) == 0 {
		e.byMonth = []int{e.firstDate.Day}
	}

	switch rule.Freq {
	case Weekly:
		back := (int(e.firstDate.Weekday()) - int(rule.WeekStart) + 7) % 7
		e.anchor = e.firstDate.AddDays(-back)
	case Monthly:
		e.anchor = localtime.Date{Year: e.firstDate.Year, Month: e.firstDate.Month, Day: 1}
	}

	// Order weekly candidates by their position in the week.
	sort.SliceStable(e.byDay, func(i, j int) bool {
		return e.weekOffset(e.byDay[i]) < e.weekOffset(e.byDay[j])
	})
	return e
}

func (e *expander) weekOffset(wd time.Weekday) int {
	return (int(wd) - int(e.rule.WeekStart) + 7) % 7
}

func (e *expander) period(k int) (localtime.Date, localtime.Date, []localtime.Date) {
	if e.rule.Freq == Weekly {
		start := e.anchor.AddDays(7 * e.rule.Interval * k)
		dates := make([]localtime.Date, 0, len(e.byDay))
		for _, wd := range e.byDay {
			dates = append(dates, start.AddDays(e.weekOffset(wd)))
		}
		return start, start.AddDays(7), dates
	}

	first := time.Date(e.anchor.Year, e.anchor.Month+time.Month(e.rule.Interval*k), 1, 0, 0, 0, 0, time.UTC)
	start := localtime.Date{Year: first.Year(), Month: first.Month(), Day: 1}
	next := first.AddDate(0, 1, 0)
	end := localtime.Date{Year: next.Year(), Month: next.Month(), Day: 1}
	daysIn := next.AddDate(0, 0, -1).Day()

	seen := map[int]bool{}
	days := make([]int, 0, len(e.byMonth))
	for _, md := range e.byMonth {
		day := md
		if md < 0 {
			day = daysIn + md + 1
		}
		// Days the month does not have are skipped, not clamped.
		if day < 1 || day > daysIn || seen[day] {
			continue
		}
		seen[day] = true
		days = append(days, day)
	}
	sort.Ints(days)

	dates := make([]localtime.Date, 0, len(days))
	for _, day := range days {
		dates = append(dates, localtime.Date{Year: start.Year, Month: start.Month, Day: day})
	}
	return start, end, dates
}

// fastForward picks the first period worth visiting for an uncounted rule.
// Counted rules must walk from the beginning so skipped occurrences still count.
func (e *expander) fastForward(from time.Time, length time.Duration) int {
	if e.rule.Count > 0 {
		return 0
	}
	target := localtime.DateOf(from.Add(-length-48*time.Hour), e.loc)
	if !e.anchor.Before(target) {
		return 0
	}

	if e.rule.Freq == Weekly {
		days := daysBetween(e.anchor, target)
		return days / (7 * e.rule.Interval)
	}
	months := (target.Year-e.anchor.Year)*12 + int(target.Month-e.anchor.Month)
	return months / e.rule.Interval
}

func daysBetween(a, b localtime.Date) int {
	ta := time.Date(a.Year, a.Month, a.Day, 0, 0, 0, 0, time.UTC)
	tb := time.Date(b.Year, b.Month, b.Day, 0, 0, 0, 0, time.UTC)
	return int(tb.Sub(ta).Hours() / 24)
}
