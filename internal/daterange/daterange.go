// Package daterange turns a start month and an optional end month into a
// finite sequence of half-open calendar-month windows.
package daterange

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

var (
	ErrInvalidMonth   = errors.New("month must be within 1..12")
	ErrEndBeforeStart = errors.New("end month is before start month")
)

type YearMonth struct {
	Year  int
	Month time.Month
}

func (ym YearMonth) Validate() error {
	if ym.Month < time.January || ym.Month > time.December {
		return fmt.Errorf("%w: %d", ErrInvalidMonth, ym.Month)
	}
	return nil
}

func (ym YearMonth) Time() time.Time {
	return time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// Optional builds the end of a range from two optional fields: when either
// one is zero the end is absent and the range covers a single month.
func Optional(year, month int) *YearMonth {
	if year == 0 || month == 0 {
		return nil
	}
	return &YearMonth{Year: year, Month: time.Month(month)}
}

// Window is the half-open interval [Start, End) of one calendar month in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Month() string {
	return w.Start.Format("2006-01")
}

func (w Window) YearMonth() YearMonth {
	return YearMonth{Year: w.Start.Year(), Month: w.Start.Month()}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// InclusiveEnd is the last second of the window, for backends whose date
// filters are closed intervals.
func (w Window) InclusiveEnd() time.Time {
	return w.End.Add(-time.Second)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly))
}

type Range struct {
	start YearMonth
	count int
}

// Generate validates the bounds and returns the range of month windows from
// start (inclusive) to end (exclusive). A nil end yields exactly one window.
func Generate(start YearMonth, end *YearMonth) (Range, error) {
	if err := start.Validate(); err != nil {
		return Range{}, fmt.Errorf("start: %w", err)
	}
	if end == nil {
		return Range{start: start, count: 1}, nil
	}
	if err := end.Validate(); err != nil {
		return Range{}, fmt.Errorf("end: %w", err)
	}

	count := (end.Year-start.Year)*12 + int(end.Month-start.Month)
	if count < 0 {
		return Range{}, fmt.Errorf("%w: %s > %s", ErrEndBeforeStart, start, end)
	}
	return Range{start: start, count: count}, nil
}

func (r Range) Len() int {
	return r.count
}

// Windows can be ranged over any number of times.
func (r Range) Windows() iter.Seq[Window] {
	return func(yield func(Window) bool) {
		current := r.start.Time()
		for range r.count {
			next := current.AddDate(0, 1, 0)
			if !yield(Window{Start: current, End: next}) {
				return
			}
			current = next
		}
	}
}

func (r Range) Slice() []Window {
	windows := make([]Window, 0, r.count)
	for w := range r.Windows() {
		windows = append(windows, w)
	}
	return windows
}
