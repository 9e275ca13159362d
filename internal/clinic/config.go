// Package clinic provides clinic profiles, opening hours and the practitioner roster.
package clinic

import (
	"fmt"
	"strings"
	"time"
)

// DayHours represents the opening hours for a single day.
// Nil means the clinic is closed that day.
type DayHours struct {
	Open  string `json:"open"`  // "09:00" in 24-hour format
	Close string `json:"close"` // "18:00" in 24-hour format
}

// BusinessHours maps day names to their hours.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// Config is the profile of one clinic.
type Config struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Phone            string         `json:"phone"`
	Email            string         `json:"email"`
	Address          string         `json:"address"`
	City             string         `json:"city"`
	Timezone         string         `json:"timezone"`
	BusinessHours    BusinessHours  `json:"business_hours"`
	Practitioners    []Practitioner `json:"practitioners"`
	AppointmentTypes []string       `json:"appointment_types"`
}

// DefaultConfig returns the profile used when a clinic has not been configured yet.
func DefaultConfig(clinicID string) *Config {
	return &Config{
		ID:       clinicID,
		Name:     "Cabinet médical",
		Timezone: "Europe/Paris",
		BusinessHours: BusinessHours{
			Monday:    &DayHours{Open: "09:00", Close: "18:00"},
			Tuesday:   &DayHours{Open: "09:00", Close: "18:00"},
			Wednesday: &DayHours{Open: "09:00", Close: "18:00"},
			Thursday:  &DayHours{Open: "09:00", Close: "18:00"},
			Friday:    &DayHours{Open: "09:00", Close: "17:00"},
			Saturday:  &DayHours{Open: "09:00", Close: "12:00"},
			Sunday:    nil, // Closed
		},
		AppointmentTypes: []string{"consultation", "suivi", "bilan", "vaccination"},
	}
}

// GetHoursForDay returns the hours for a given weekday (0=Sunday, 6=Saturday).
func (b *BusinessHours) GetHoursForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return b.Sunday
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	default:
		return nil
	}
}

// HasAnyHours returns true if at least one day has business hours configured.
func (b *BusinessHours) HasAnyHours() bool {
	return b.Sunday != nil || b.Monday != nil || b.Tuesday != nil ||
		b.Wednesday != nil || b.Thursday != nil || b.Friday != nil || b.Saturday != nil
}

// Location returns the clinic's time zone, UTC when unknown.
func (c *Config) Location() *time.Location {
	if c == nil || strings.TrimSpace(c.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsOpenAt checks if the clinic is open at the given instant.
// A clinic without any configured hours is treated as always open.
func (c *Config) IsOpenAt(t time.Time) bool {
	localTime := t.In(c.Location())
	hours := c.BusinessHours.GetHoursForDay(localTime.Weekday())
	if hours == nil {
		return !c.BusinessHours.HasAnyHours()
	}
	return hours.Contains(localTime.Hour()*60 + localTime.Minute())
}

// NextOpenTime returns when the clinic next opens, or t itself when already open.
func (c *Config) NextOpenTime(t time.Time) time.Time {
	loc := c.Location()
	localTime := t.In(loc)

	for i := 0; i < 7; i++ {
		day := localTime.AddDate(0, 0, i)
		open, closeAt, ok := c.DayWindow(day)
		if !ok {
			continue
		}
		if i == 0 {
			if localTime.Before(open) {
				return open
			}
			if localTime.Before(closeAt) {
				return localTime
			}
			continue
		}
		return open
	}

	return time.Date(localTime.Year(), localTime.Month(), localTime.Day()+1, 9, 0, 0, 0, loc)
}

// FactsContext renders the verified clinic facts handed to the language model.
// Anything the assistant may state about the clinic must come from here.
func (c *Config) FactsContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "clinic_name: %s\n", c.Name)
	if c.Phone != "" {
		fmt.Fprintf(&b, "clinic_phone: %s\n", c.Phone)
	}
	if c.Email != "" {
		fmt.Fprintf(&b, "clinic_email: %s\n", c.Email)
	}
	if c.Address != "" {
		addr := c.Address
		if c.City != "" {
			addr += ", " + c.City
		}
		fmt.Fprintf(&b, "clinic_address: %s\n", addr)
	}
	b.WriteString("opening_hours:\n")
	for _, wd := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday} {
		hours := c.BusinessHours.GetHoursForDay(wd)
		if hours == nil {
			fmt.Fprintf(&b, "  %s: closed\n", strings.ToLower(wd.String()))
			continue
		}
		fmt.Fprintf(&b, "  %s: %s-%s\n", strings.ToLower(wd.String()), hours.Open, hours.Close)
	}
	if len(c.Practitioners) > 0 {
		names := make([]string, 0, len(c.Practitioners))
		for _, p := range c.Practitioners {
			names = append(names, p.Name)
		}
		fmt.Fprintf(&b, "practitioners: %s\n", strings.Join(names, ", "))
	}
	if len(c.AppointmentTypes) > 0 {
		fmt.Fprintf(&b, "appointment_types: %s\n", strings.Join(c.AppointmentTypes, ", "))
	}
	return b.String()
}
