package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayLayout is the wire format of a Day.
const DayLayout = "2006-01-02"

// Day is a calendar date counted in days since 1970-01-01. It carries no time
// of day and no zone, so equal calendar dates always compare equal and adding
// N days never drifts across DST changes.
type Day int32

// DayOf returns the calendar date t names in its own location.
func DayOf(t time.Time) Day {
	return Date(t.Year(), t.Month(), t.Day())
}

// Date builds a Day from calendar fields. Out of range values are normalised
// the way time.Date does it.
func Date(year int, month time.Month, day int) Day {
	u := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Day(u.Unix() / 86400)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DayOf(t), nil
}

// MustParseDay is ParseDay for literals and tests.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// AddDays returns the date n calendar days later (earlier if n < 0).
func (d Day) AddDays(n int) Day {
	return d + Day(n)
}

// Sub returns d - o in whole days.
func (d Day) Sub(o Day) int {
	return int(d - o)
}

func (d Day) Before(o Day) bool { return d < o }
func (d Day) After(o Day) bool { return d > o }

// Time returns midnight UTC of the date.
func (d Day) Time() time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

func (d Day) String() string {
	return d.Time().Format(DayLayout)
}

func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Day) UnmarshalText(b []byte) error {
	v, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// MaxDay returns the later of a and b.
func MaxDay(a, b Day) Day {
	if a > b {
		return a
	}
	return b
}
