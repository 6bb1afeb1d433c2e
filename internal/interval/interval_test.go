package interval

import (
	"math/rand"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(min int) time.Time {
	return base.Add(time.Duration(min) * time.Minute)
}

func iv(start, end int) Interval {
	return Interval{Start: at(start), End: at(end)}
}

func equal(a, b []Interval) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Start.Equal(b[i].Start) || !a[i].End.Equal(b[i].End) {
			return false
		}
	}
	return true
}

func TestOverlaps_TouchingDoesNotOverlap(t *testing.T) {
	if Overlaps(iv(0, 30), iv(30, 60)) {
		t.Fatalf("touching intervals must not overlap")
	}
	if !Overlaps(iv(0, 31), iv(30, 60)) {
		t.Fatalf("expected overlap")
	}
	if !Overlaps(iv(10, 20), iv(0, 60)) {
		t.Fatalf("expected contained interval to overlap")
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		in   []Interval
		want []Interval
	}{
		{"empty", nil, []Interval{}},
		{"adjacent folded", []Interval{iv(30, 60), iv(0, 30)}, []Interval{iv(0, 60)}},
		{"overlapping", []Interval{iv(0, 45), iv(30, 90), iv(100, 120)}, []Interval{iv(0, 90), iv(100, 120)}},
		{"nested", []Interval{iv(0, 120), iv(10, 20)}, []Interval{iv(0, 120)}},
		{"drops empty", []Interval{iv(10, 10), iv(20, 30)}, []Interval{iv(20, 30)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.in)
			if !equal(got, tt.want) {
				t.Fatalf("Merge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubtract(t *testing.T) {
	tests := []struct {
		name string
		base []Interval
		ex   []Interval
		want []Interval
	}{
		{"no exclusions", []Interval{iv(0, 60)}, nil, []Interval{iv(0, 60)}},
		{"full cover removes", []Interval{iv(10, 20)}, []Interval{iv(0, 60)}, []Interval{}},
		{"left edge truncates", []Interval{iv(0, 60)}, []Interval{iv(-10, 15)}, []Interval{iv(15, 60)}},
		{"right edge truncates", []Interval{iv(0, 60)}, []Interval{iv(45, 90)}, []Interval{iv(0, 45)}},
		{"inside splits", []Interval{iv(0, 60)}, []Interval{iv(20, 30)}, []Interval{iv(0, 20), iv(30, 60)}},
		{
			"several exclusions on one base",
			[]Interval{iv(0, 120)},
			[]Interval{iv(90, 100), iv(10, 20), iv(40, 50)},
			[]Interval{iv(0, 10), iv(20, 40), iv(50, 90), iv(100, 120)},
		},
		{"touching exclusion keeps base", []Interval{iv(0, 60)}, []Interval{iv(60, 90)}, []Interval{iv(0, 60)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Subtract(tt.base, tt.ex)
			if !equal(got, tt.want) {
				t.Fatalf("Subtract() = %v, want %v", got, tt.want)
			}
		})
	}
}

func randomIntervals(rng *rand.Rand, n int) []Interval {
	out := make([]Interval, 0, n)
	for i := 0; i < n; i++ {
		start := rng.Intn(600)
		out = append(out, iv(start, start+1+rng.Intn(120)))
	}
	return out
}

func TestMerge_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		once := Merge(randomIntervals(rng, 1+rng.Intn(12)))
		twice := Merge(once)
		if !equal(once, twice) {
			t.Fatalf("merge not idempotent: %v vs %v", once, twice)
		}
	}
}

func TestSubtract_Reconstructs(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		b := iv(0, 600)
		ex := randomIntervals(rng, rng.Intn(8))
		got := Subtract([]Interval{b}, ex)

		for _, f := range got {
			if OverlapsAny(f, ex) >= 0 {
				t.Fatalf("fragment %v overlaps an exclusion", f)
			}
		}

		rebuilt := Merge(append(append([]Interval{}, got...), Clip(ex, b)...))
		if !equal(rebuilt, []Interval{b}) {
			t.Fatalf("fragments plus exclusions = %v, want %v", rebuilt, b)
		}
	}
}

func TestSubtract_OrderIndependent(t *testing.T) {
	ex := []Interval{iv(10, 20), iv(15, 40), iv(70, 80)}
	reversed := []Interval{ex[2], ex[1], ex[0]}
	a := Subtract([]Interval{iv(0, 100)}, ex)
	b := Subtract([]Interval{iv(0, 100)}, reversed)
	if !equal(a, b) {
		t.Fatalf("order dependent result: %v vs %v", a, b)
	}
}

func TestContainsAndClip(t *testing.T) {
	if !Contains(iv(0, 30), iv(0, 30)) {
		t.Fatalf("interval must contain itself")
	}
	if Contains(iv(0, 30), iv(15, 45)) {
		t.Fatalf("straddling interval is not contained")
	}

	got := Clip([]Interval{iv(-30, 10), iv(20, 30), iv(50, 90)}, iv(0, 60))
	want := []Interval{iv(0, 10), iv(20, 30), iv(50, 60)}
	if !equal(got, want) {
		t.Fatalf("Clip() = %v, want %v", got, want)
	}
}
