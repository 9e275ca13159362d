package clinic

import (
	"regexp"
	"strconv"
	"time"
)

const (
	// DateLayout is the strict calendar format used for dates and birth dates.
	DateLayout = "2006-01-02"
	// ClockLayout is the canonical zero-padded time of day.
	ClockLayout = "15:04"
)

var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ScheduleConflict describes why a date/time cannot be booked.
type ScheduleConflict string

const (
	ConflictNone         ScheduleConflict = ""
	ConflictClosedDay    ScheduleConflict = "closed_day"
	ConflictOutsideHours ScheduleConflict = "outside_hours"
	ConflictInvalid      ScheduleConflict = "invalid"
)

// ParseClock parses H:MM or HH:MM into minutes since midnight.
func ParseClock(s string) (int, bool) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return 0, false
	}
	return h*60 + mm, true
}

// FormatClock renders minutes since midnight as HH:MM.
func FormatClock(minutes int) string {
	return time.Date(2000, 1, 1, minutes/60, minutes%60, 0, 0, time.UTC).Format(ClockLayout)
}

// Window returns the open and close minutes of the day.
func (d *DayHours) Window() (open, closeAt int, ok bool) {
	if d == nil {
		return 0, 0, false
	}
	open, okOpen := ParseClock(d.Open)
	closeAt, okClose := ParseClock(d.Close)
	if !okOpen || !okClose || closeAt <= open {
		return 0, 0, false
	}
	return open, closeAt, true
}

// Contains reports whether minutes falls in [open, close).
func (d *DayHours) Contains(minutes int) bool {
	open, closeAt, ok := d.Window()
	return ok && minutes >= open && minutes < closeAt
}

// ParseDate parses a strict YYYY-MM-DD date at midnight in the clinic's zone.
func (c *Config) ParseDate(s string) (time.Time, bool) {
	d, err := time.ParseInLocation(DateLayout, s, c.Location())
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// Combine joins a date and an HH:MM clock into an instant in the clinic's zone.
func (c *Config) Combine(date, clock string) (time.Time, bool) {
	d, ok := c.ParseDate(date)
	if !ok {
		return time.Time{}, false
	}
	minutes, ok := ParseClock(clock)
	if !ok {
		return time.Time{}, false
	}
	return time.Date(d.Year(), d.Month(), d.Day(), minutes/60, minutes%60, 0, 0, d.Location()), true
}

// HoursOn returns the opening hours that apply to the given date.
func (c *Config) HoursOn(day time.Time) *DayHours {
	return c.BusinessHours.GetHoursForDay(day.In(c.Location()).Weekday())
}

// IsClosedOn reports whether the clinic is closed for the whole day.
func (c *Config) IsClosedOn(day time.Time) bool {
	if !c.BusinessHours.HasAnyHours() {
		return false
	}
	_, _, ok := c.HoursOn(day).Window()
	return !ok
}

// DayWindow returns the opening and closing instants of the given day.
func (c *Config) DayWindow(day time.Time) (open, closeAt time.Time, ok bool) {
	local := day.In(c.Location())
	openMin, closeMin, ok := c.HoursOn(local).Window()
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	base := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return base.Add(time.Duration(openMin) * time.Minute), base.Add(time.Duration(closeMin) * time.Minute), true
}

// CheckSchedule validates a date + HH:MM pair against the weekly opening hours.
func (c *Config) CheckSchedule(date, clock string) ScheduleConflict {
	d, ok := c.ParseDate(date)
	if !ok {
		return ConflictInvalid
	}
	minutes, ok := ParseClock(clock)
	if !ok {
		return ConflictInvalid
	}
	if !c.BusinessHours.HasAnyHours() {
		return ConflictNone
	}
	hours := c.HoursOn(d)
	if _, _, open := hours.Window(); !open {
		return ConflictClosedDay
	}
	if !hours.Contains(minutes) {
		return ConflictOutsideHours
	}
	return ConflictNone
}
