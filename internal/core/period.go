package core

import (
	"fmt"
	"time"
)

// Offset is a tenant's signed distance from UTC in minutes.
type Offset int

const (
	MinOffset Offset = -12 * 60
	MaxOffset Offset = 14 * 60
)

// OffsetOf rounds d to the nearest minute.
func OffsetOf(d time.Duration) Offset {
	return Offset(d.Round(time.Minute) / time.Minute)
}

// RoundOffsetToHour derives an offset from a wall clock the tenant reported
// and the current UTC instant, rounded to a whole hour.
func RoundOffsetToHour(reportedLocal, nowUTC time.Time) (Offset, error) {
	wall := time.Date(reportedLocal.Year(), reportedLocal.Month(), reportedLocal.Day(),
		reportedLocal.Hour(), reportedLocal.Minute(), 0, 0, time.UTC)
	o := OffsetOf(wall.Sub(nowUTC.UTC()).Round(time.Hour))
	if err := o.Validate(); err != nil {
		return 0, err
	}
	return o, nil
}

func (o Offset) Duration() time.Duration {
	return time.Duration(o) * time.Minute
}

func (o Offset) Validate() error {
	if o < MinOffset || o > MaxOffset {
		return fmt.Errorf("%w: %s", ErrInvalidOffset, o)
	}
	return nil
}

// Local returns the wall clock at UTC offset o for the instant t, expressed in
// the UTC location so that calendar arithmetic ignores the process zone.
func (o Offset) Local(t time.Time) time.Time {
	return t.UTC().Add(o.Duration())
}

func (o Offset) String() string {
	sign := '+'
	m := int(o)
	if m < 0 {
		sign = '-'
		m = -m
	}
	return fmt.Sprintf("%c%02d:%02d", sign, m/60, m%60)
}

type Granularity int

const (
	Day Granularity = iota
	Month
	Year
)

func (g Granularity) String() string {
	switch g {
	case Day:
		return "day"
	case Month:
		return "month"
	case Year:
		return "year"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// Period is a calendar day, month or year starting at Start (UTC location,
// tenant-local calendar).
type Period struct {
	Granularity Granularity
	Start       time.Time
}

func DayOf(t time.Time) Period {
	return Period{Granularity: Day, Start: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func MonthOf(t time.Time) Period {
	return Period{Granularity: Month, Start: time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)}
}

func YearOf(t time.Time) Period {
	return Period{Granularity: Year, Start: time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)}
}

// ClosedDay is the local day that ends at (or has just ended before) the
// given local wall clock. At 00:00 it is the previous date.
func ClosedDay(local time.Time) Period {
	return DayOf(local.Round(time.Minute).Add(-time.Minute))
}

// End returns the exclusive upper bound of the period.
func (p Period) End() time.Time {
	switch p.Granularity {
	case Month:
		return p.Start.AddDate(0, 1, 0)
	case Year:
		return p.Start.AddDate(1, 0, 0)
	default:
		return p.Start.AddDate(0, 0, 1)
	}
}

func (p Period) Prev() Period {
	switch p.Granularity {
	case Month:
		return Period{Granularity: Month, Start: p.Start.AddDate(0, -1, 0)}
	case Year:
		return Period{Granularity: Year, Start: p.Start.AddDate(-1, 0, 0)}
	default:
		return Period{Granularity: Day, Start: p.Start.AddDate(0, 0, -1)}
	}
}

func (p Period) Year() int {
	return p.Start.Year()
}

func (p Period) String() string {
	switch p.Granularity {
	case Month:
		return p.Start.Format("2006-01")
	case Year:
		return p.Start.Format("2006")
	default:
		return p.Start.Format("2006-01-02")
	}
}
