// Package epoch derives calendar parts from millisecond epoch timestamps.
package epoch

import (
	"fmt"
	"time"
)

// Bounds accepted by Derive: years 1..9999, the range the Parquet
// TIMESTAMP and engine types can represent.
var (
	minMillis = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	maxMillis = time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC).UnixMilli()
)

// Parts are the calendar fields of one event timestamp in a given zone.
type Parts struct {
	Epoch      int64
	Time       time.Time
	Year       int
	Month      int
	Day        int
	Hour       int
	WeekOfYear int
	// Weekday counts from Monday = 0 to Sunday = 6.
	Weekday int
}

// FromMillis converts epoch milliseconds to a time in loc. The fractional
// second is kept.
func FromMillis(ms int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc)
}

// Derive computes the calendar parts of ms in loc.
func Derive(ms int64, loc *time.Location) (Parts, error) {
	if ms < minMillis || ms > maxMillis {
		return Parts{}, fmt.Errorf("epoch %d ms is outside the supported timestamp range", ms)
	}

	t := FromMillis(ms, loc)
	_, week := t.ISOWeek()
	return Parts{
		Epoch:      ms,
		Time:       t,
		Year:       t.Year(),
		Month:      int(t.Month()),
		Day:        t.Day(),
		Hour:       t.Hour(),
		WeekOfYear: week,
		Weekday:    (int(t.Weekday()) + 6) % 7,
	}, nil
}

// WallClock returns the local wall-clock reading of p as a zone-less value
// (labelled UTC), the form stored in start_time columns.
func (p Parts) WallClock() time.Time {
	t := p.Time
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
