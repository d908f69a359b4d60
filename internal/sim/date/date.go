// Package date implements the simulated calendar used by the spread model.
//
// The model calendar is a plain (year, month, day) triple advanced in weekly
// or monthly steps. A simulation year always has 52 week steps; the 52nd week
// absorbs the final day or two of the year so that week boundaries never
// straddle a year boundary.
package date

import "fmt"

// Step is the sub-year stepping granularity of the simulation.
type Step int

const (
	StepWeek Step = iota
	StepMonth
)

func (s Step) String() string {
	switch s {
	case StepWeek:
		return "week"
	case StepMonth:
		return "month"
	}
	return "unknown"
}

func ParseStep(s string) (Step, error) {
	switch s {
	case "week":
		return StepWeek, nil
	case "month":
		return StepMonth, nil
	}
	return 0, fmt.Errorf("unknown step %q (want week or month)", s)
}

// Date is a simulated calendar date.
type Date struct {
	Year  int
	Month int
	Day   int
}

func New(year, month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func daysInMonth(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	}
	if isLeap(year) {
		return 29
	}
	return 28
}

func daysInYear(year int) int {
	if isLeap(year) {
		return 366
	}
	return 365
}

// DayOfYear is 1-based.
func (d Date) DayOfYear() int {
	doy := d.Day
	for m := 1; m < d.Month; m++ {
		doy += daysInMonth(d.Year, m)
	}
	return doy
}

func fromDayOfYear(year, doy int) Date {
	m := 1
	for doy > daysInMonth(year, m) {
		doy -= daysInMonth(year, m)
		m++
	}
	return Date{Year: year, Month: m, Day: doy}
}

// weekOfYear is 0-based; weeks count from Jan 1 in fixed 7-day strides,
// with week 51 (the 52nd) extended to the end of the year.
func (d Date) weekOfYear() int {
	w := (d.DayOfYear() - 1) / 7
	if w > 51 {
		w = 51
	}
	return w
}

func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		if d.Year < o.Year {
			return -1
		}
		return 1
	case d.Month != o.Month:
		if d.Month < o.Month {
			return -1
		}
		return 1
	case d.Day != o.Day:
		if d.Day < o.Day {
			return -1
		}
		return 1
	}
	return 0
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }
func (d Date) Equal(o Date) bool  { return d.Compare(o) == 0 }

// AddMonth moves to the same day of the following month, rolling the year.
func (d Date) AddMonth() Date {
	if d.Month == 12 {
		return Date{Year: d.Year + 1, Month: 1, Day: d.Day}
	}
	return Date{Year: d.Year, Month: d.Month + 1, Day: d.Day}
}

// AddWeek moves forward 7 days; stepping out of the extended last week of
// the year lands on Jan 1 of the next year.
func (d Date) AddWeek() Date {
	if d.weekOfYear() == 51 {
		return Date{Year: d.Year + 1, Month: 1, Day: 1}
	}
	return fromDayOfYear(d.Year, d.DayOfYear()+7)
}

// Next advances by one step of the given granularity.
func (d Date) Next(s Step) Date {
	if s == StepMonth {
		return d.AddMonth()
	}
	return d.AddWeek()
}

func (d Date) LastDayOfMonth() Date {
	return Date{Year: d.Year, Month: d.Month, Day: daysInMonth(d.Year, d.Month)}
}

// LastDayOfWeek is the last day covered by the week step containing d,
// extended to Dec 31 for the final week of the year.
func (d Date) LastDayOfWeek() Date {
	w := d.weekOfYear()
	if w == 51 {
		return Date{Year: d.Year, Month: 12, Day: 31}
	}
	return fromDayOfYear(d.Year, (w+1)*7)
}

// LastDayOfStep is the last day of the step containing d.
func (d Date) LastDayOfStep(s Step) Date {
	if s == StepMonth {
		return d.LastDayOfMonth()
	}
	return d.LastDayOfWeek()
}

func (d Date) IsLastMonthOfYear() bool { return d.Month == 12 }

func (d Date) IsLastWeekOfYear() bool { return d.weekOfYear() == 51 }

// IsLastStepOfYear reports whether d falls in the final step of its year.
func (d Date) IsLastStepOfYear(s Step) bool {
	if s == StepMonth {
		return d.IsLastMonthOfYear()
	}
	return d.IsLastWeekOfYear()
}

// NextYearEnd is the end of the simulation year one StepForward command
// advances to: Dec 31 of the current year when at the year start (a fresh
// year has not run yet), Dec 31 of the following year otherwise.
func (d Date) NextYearEnd() Date {
	if d.Month == 1 && d.Day == 1 {
		return Date{Year: d.Year, Month: 12, Day: 31}
	}
	return Date{Year: d.Year + 1, Month: 12, Day: 31}
}
