package interval

import (
	"sort"
	"time"
)

// Interval is a half-open span [Start, End) on the absolute timeline.
type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Valid reports whether the interval is non-empty.
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Pad widens the interval by before on the left and after on the right.
func (i Interval) Pad(before, after time.Duration) Interval {
	return Interval{Start: i.Start.Add(-before), End: i.End.Add(after)}
}

func (i Interval) UTC() Interval {
	return Interval{Start: i.Start.UTC(), End: i.End.UTC()}
}

// Overlaps uses strict half-open semantics: touching endpoints do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// OverlapsAny reports the index of the first interval in xs overlapping target, or -1.
func OverlapsAny(target Interval, xs []Interval) int {
	for i, x := range xs {
		if Overlaps(target, x) {
			return i
		}
	}
	return -1
}

// Contains reports whether outer fully covers inner.
func Contains(outer, inner Interval) bool {
	return !inner.Start.Before(outer.Start) && !inner.End.After(outer.End)
}

// Merge returns the union of xs as a sorted list of non-overlapping intervals.
// Touching intervals are folded together. Empty intervals are dropped.
func Merge(xs []Interval) []Interval {
	sorted := make([]Interval, 0, len(xs))
	for _, x := range xs {
		if x.Valid() {
			sorted = append(sorted, x)
		}
	}
	if len(sorted) == 0 {
		return []Interval{}
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	out := []Interval{sorted[0]}
	for _, next := range sorted[1:] {
		acc := &out[len(out)-1]
		if !next.Start.After(acc.End) {
			if next.End.After(acc.End) {
				acc.End = next.End
			}
			continue
		}
		out = append(out, next)
	}
	return out
}

// Subtract removes every exclusion from every base interval. Each base interval is
// clipped fragment by fragment, so several exclusions hitting the same base are
// handled regardless of their order. The result is sorted by start.
func Subtract(base, exclusions []Interval) []Interval {
	out := make([]Interval, 0, len(base))
	for _, b := range base {
		if !b.Valid() {
			continue
		}
		fragments := []Interval{b}
		for _, ex := range exclusions {
			if !ex.Valid() {
				continue
			}
			next := fragments[:0:0]
			for _, f := range fragments {
				next = append(next, clip(f, ex)...)
			}
			fragments = next
			if len(fragments) == 0 {
				break
			}
		}
		out = append(out, fragments...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func clip(f, ex Interval) []Interval {
	if !Overlaps(f, ex) {
		return []Interval{f}
	}

	var parts []Interval
	if f.Start.Before(ex.Start) {
		parts = append(parts, Interval{Start: f.Start, End: ex.Start})
	}
	if ex.End.Before(f.End) {
		parts = append(parts, Interval{Start: ex.End, End: f.End})
	}
	return parts
}

// Clip intersects each interval with window, dropping the ones that fall outside.
func Clip(xs []Interval, window Interval) []Interval {
	out := make([]Interval, 0, len(xs))
	for _, x := range xs {
		if !Overlaps(x, window) {
			continue
		}
		c := x
		if c.Start.Before(window.Start) {
			c.Start = window.Start
		}
		if c.End.After(window.End) {
			c.End = window.End
		}
		out = append(out, c)
	}
	return out
}
