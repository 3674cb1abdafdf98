package backfill

import (
	"fmt"
	"time"
)

// Annual is the Quarter value of a full-year window.
const Annual = 0

// Window identifies the reporting period a backfill run targets. Quarter
// windows carry Year and Quarter (1-4, or Annual); daily windows also carry
// Date, normalized to UTC midnight.
type Window struct {
	Year    int       `json:"year"`
	Quarter int       `json:"quarter"`
	Date    time.Time `json:"date,omitzero"`
}

// QuarterOf returns the calendar quarter (1-4) of t.
func QuarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// PreviousQuarter returns the quarter containing now minus lag, evaluated in UTC.
func PreviousQuarter(now time.Time, lag time.Duration) Window {
	t := now.UTC().Add(-lag)
	return Window{Year: t.Year(), Quarter: QuarterOf(t)}
}

// PreviousYear returns the annual window for the year before now.
func PreviousYear(now time.Time) Window {
	return Window{Year: now.UTC().Year() - 1, Quarter: Annual}
}

// Day returns the daily window for the UTC calendar date of t.
func Day(t time.Time) Window {
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Year: d.Year(), Quarter: QuarterOf(d), Date: d}
}

// IsDaily reports whether the window targets a single date.
func (w Window) IsDaily() bool {
	return !w.Date.IsZero()
}

// Equal reports whether two windows target the same period.
func (w Window) Equal(other Window) bool {
	if w.IsDaily() || other.IsDaily() {
		return w.Date.Equal(other.Date)
	}
	return w.Year == other.Year && w.Quarter == other.Quarter
}

// QuarterLabel renders the quarter the way the store keys it: "Q1".."Q4", or
// an empty string for annual windows.
func (w Window) QuarterLabel() string {
	if w.Quarter == Annual {
		return ""
	}
	return fmt.Sprintf("Q%d", w.Quarter)
}

func (w Window) String() string {
	switch {
	case w.IsDaily():
		return w.Date.Format(time.DateOnly)
	case w.Quarter == Annual:
		return fmt.Sprintf("%d", w.Year)
	default:
		return fmt.Sprintf("%d-%s", w.Year, w.QuarterLabel())
	}
}

// ParseQuarterLabel is the inverse of QuarterLabel.
func ParseQuarterLabel(label string) (int, error) {
	switch label {
	case "":
		return Annual, nil
	case "Q1", "q1":
		return 1, nil
	case "Q2", "q2":
		return 2, nil
	case "Q3", "q3":
		return 3, nil
	case "Q4", "q4":
		return 4, nil
	default:
		return 0, fmt.Errorf("invalid quarter label %q", label)
	}
}
