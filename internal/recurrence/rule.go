package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/clinic-availability-engine/internal/localtime"
)

var (
	ErrInvalidRule    = errors.New("invalid recurrence rule")
	ErrCeilingReached = errors.New("recurrence expansion ceiling reached")
)

type Frequency int

const (
	Weekly Frequency = iota + 1
	Monthly
)

func (f Frequency) String() string {
	switch f {
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	default:
		return "UNKNOWN"
	}
}

// Rule is a parsed recurrence rule. The expander only ever works on this form.
type Rule struct {
	Freq       Frequency
	Interval   int
	ByDay      []time.Weekday
	ByMonthDay []int
	Count      int

	// Until bounds occurrence starts inclusively. A date-only UNTIL is kept in
	// UntilDate and compared against the occurrence's local date.
	Until     time.Time
	UntilDate *localtime.Date

	WeekStart time.Weekday
}

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var weekdayNames = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

const maxInterval = 1000

// Parse reads an RFC 5545 subset: FREQ=WEEKLY|MONTHLY with BYDAY, BYMONTHDAY,
// INTERVAL, UNTIL, COUNT and WKST. An optional "RRULE:" prefix is accepted.
func Parse(s string) (Rule, error) {
	raw := strings.TrimSpace(s)
	if len(raw) >= 6 && strings.EqualFold(raw[:6], "RRULE:") {
		raw = raw[6:]
	}
	if raw == "" {
		return Rule{}, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}

	r := Rule{Interval: 1, WeekStart: time.Monday}
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ";") {
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok || value == "" {
			return Rule{}, fmt.Errorf("%w: malformed part %q", ErrInvalidRule, part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.ToUpper(strings.TrimSpace(value))
		if seen[key] {
			return Rule{}, fmt.Errorf("%w: duplicate %s", ErrInvalidRule, key)
		}
		seen[key] = true

		var err error
		switch key {
		case "FREQ":
			r.Freq, err = parseFreq(value)
		case "INTERVAL":
			r.Interval, err = parsePositive(key, value, maxInterval)
		case "COUNT":
			r.Count, err = parsePositive(key, value, 0)
		case "UNTIL":
			err = r.parseUntil(value)
		case "BYDAY":
			r.ByDay, err = parseByDay(value)
		case "BYMONTHDAY":
			r.ByMonthDay, err = parseByMonthDay(value)
		case "WKST":
			wd, known := weekdayCodes[value]
			if !known {
				err = fmt.Errorf("%w: bad WKST %q", ErrInvalidRule, value)
			}
			r.WeekStart = wd
		default:
			err = fmt.Errorf("%w: unsupported key %s", ErrInvalidRule, key)
		}
		if err != nil {
			return Rule{}, err
		}
	}

	if r.Freq == 0 {
		return Rule{}, fmt.Errorf("%w: FREQ is required", ErrInvalidRule)
	}
	if seen["UNTIL"] && seen["COUNT"] {
		return Rule{}, fmt.Errorf("%w: UNTIL and COUNT are mutually exclusive", ErrInvalidRule)
	}
	if r.Freq == Weekly && len(r.ByMonthDay) > 0 {
		return Rule{}, fmt.Errorf("%w: BYMONTHDAY requires FREQ=MONTHLY", ErrInvalidRule)
	}
	if r.Freq == Monthly && len(r.ByDay) > 0 {
		return Rule{}, fmt.Errorf("%w: BYDAY requires FREQ=WEEKLY", ErrInvalidRule)
	}
	return r, nil
}

func parseFreq(v string) (Frequency, error) {
	switch v {
	case "WEEKLY":
		return Weekly, nil
	case "MONTHLY":
		return Monthly, nil
	default:
		return 0, fmt.Errorf("%w: unsupported FREQ %q", ErrInvalidRule, v)
	}
}

func parsePositive(key, v string, max int) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || (max > 0 && n > max) {
		return 0, fmt.Errorf("%w: bad %s %q", ErrInvalidRule, key, v)
	}
	return n, nil
}

func (r *Rule) parseUntil(v string) error {
	if t, err := time.Parse("20060102T150405Z", v); err == nil {
		r.Until = t
		return nil
	}
	if t, err := time.Parse("20060102", v); err == nil {
		r.UntilDate = &localtime.Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
		return nil
	}
	return fmt.Errorf("%w: bad UNTIL %q", ErrInvalidRule, v)
}

func parseByDay(v string) ([]time.Weekday, error) {
	set := map[time.Weekday]bool{}
	for _, code := range strings.Split(v, ",") {
		wd, ok := weekdayCodes[strings.TrimSpace(code)]
		if !ok {
			return nil, fmt.Errorf("%w: bad BYDAY value %q", ErrInvalidRule, code)
		}
		set[wd] = true
	}
	out := make([]time.Weekday, 0, len(set))
	for wd := range set {
		out = append(out, wd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func parseByMonthDay(v string) ([]int, error) {
	set := map[int]bool{}
	for _, s := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n == 0 || n < -31 || n > 31 {
			return nil, fmt.Errorf("%w: bad BYMONTHDAY value %q", ErrInvalidRule, s)
		}
		set[n] = true
	}
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// String renders the rule in canonical form.
func (r Rule) String() string {
	parts := []string{"FREQ=" + r.Freq.String()}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if len(r.ByDay) > 0 {
		codes := make([]string, len(r.ByDay))
		for i, wd := range r.ByDay {
			codes[i] = weekdayNames[wd]
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	}
	if len(r.ByMonthDay) > 0 {
		days := make([]string, len(r.ByMonthDay))
		for i, d := range r.ByMonthDay {
			days[i] = strconv.Itoa(d)
		}
		parts = append(parts, "BYMONTHDAY="+strings.Join(days, ","))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if !r.Until.IsZero() {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format("20060102T150405Z"))
	}
	if r.UntilDate != nil {
		parts = append(parts, fmt.Sprintf("UNTIL=%04d%02d%02d", r.UntilDate.Year, r.UntilDate.Month, r.UntilDate.Day))
	}
	if r.WeekStart != time.Monday {
		parts = append(parts, "WKST="+weekdayNames[r.WeekStart])
	}
	return strings.Join(parts, ";")
}
