// Package validation checks extracted entities and outbound replies before they touch state or patients.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/nyaruka/phonenumbers"
	"github.com/wolfman30/sophie-assistant/internal/clinic"
	"github.com/wolfman30/sophie-assistant/internal/nlu"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// Error codes reported per field.
const (
	CodeInvalidFormat    = "invalid_format"
	CodeInPast           = "in_past"
	CodeTooFar           = "too_far"
	CodeImplausibleAge   = "implausible_age"
	CodeScheduleConflict = "schedule_conflict"
	CodeUnknownName      = "unknown_practitioner"
)

// MaxBookingHorizon is how far ahead a date may be requested.
const MaxBookingHorizon = 1 // years

var (
	strictDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	frenchClock       = regexp.MustCompile(`^(\d{1,2})\s*h\s*(\d{2})?$`)
	emailFormat       = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	phoneFormat       = regexp.MustCompile(`^\+?\d{8,15}$`)
)

// FieldError describes one rejected or flagged entity.
type FieldError struct {
	Field string
	Code  string
	Value string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%q)", e.Field, e.Code, e.Value)
}

// EntityResult is the outcome of validating one entity bag.
// Corrected always holds the bag to merge: normalized values kept, rejected values removed.
type EntityResult struct {
	Valid     bool
	Errors    []FieldError
	Corrected nlu.Entities
	Conflict  clinic.ScheduleConflict
}

// HasError reports whether field was rejected or flagged.
func (r EntityResult) HasError(field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// EntityContext is the state the validator checks against.
type EntityContext struct {
	Clinic      *clinic.Config
	Now         time.Time
	CurrentDate string
	CurrentTime string
}

// EntityValidator deterministically checks and repairs extracted entities.
type EntityValidator struct {
	phoneRegion string
	logger      *logging.Logger
}

func NewEntityValidator(phoneRegion string, logger *logging.Logger) *EntityValidator {
	if phoneRegion == "" {
		phoneRegion = "FR"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EntityValidator{phoneRegion: phoneRegion, logger: logger}
}

// Validate never guesses: an invalid value is dropped so the engine re-asks for it.
func (v *EntityValidator) Validate(in nlu.Entities, vc EntityContext) EntityResult {
	cfg := vc.Clinic
	if cfg == nil {
		cfg = clinic.DefaultConfig("")
	}
	now := vc.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(cfg.Location())

	out := in
	var errs []FieldError
	reject := func(field, code, value string) {
		errs = append(errs, FieldError{Field: field, Code: code, Value: value})
	}

	out.FirstName = cleanName(in.FirstName)
	if in.FirstName != "" && out.FirstName == "" {
		reject("first_name", CodeInvalidFormat, in.FirstName)
	}
	out.LastName = cleanName(in.LastName)
	if in.LastName != "" && out.LastName == "" {
		reject("last_name", CodeInvalidFormat, in.LastName)
	}

	if in.Date != "" {
		date, code := checkDate(strings.TrimSpace(in.Date), cfg, now)
		if code != "" {
			reject("date", code, in.Date)
			out.Date = ""
		} else {
			out.Date = date
		}
	}

	if in.Time != "" {
		clock, ok := NormalizeTime(in.Time)
		if !ok {
			reject("time", CodeInvalidFormat, in.Time)
			out.Time = ""
		} else {
			out.Time = clock
		}
	}

	date, clock := out.Date, out.Time
	if date == "" {
		date = vc.CurrentDate
	}
	if clock == "" {
		clock = vc.CurrentTime
	}
	if (out.Date != "" || out.Time != "") && date != "" && clock != "" {
		switch cfg.CheckSchedule(date, clock) {
		case clinic.ConflictClosedDay, clinic.ConflictOutsideHours:
			reject("schedule", CodeScheduleConflict, date+" "+clock)
		}
	}

	if in.Email != "" {
		email := strings.ToLower(strings.TrimSpace(in.Email))
		if !emailFormat.MatchString(email) {
			reject("email", CodeInvalidFormat, in.Email)
			out.Email = ""
		} else {
			out.Email = email
		}
	}

	if in.Phone != "" {
		phone, ok := v.NormalizePhone(in.Phone)
		if !ok {
			reject("phone", CodeInvalidFormat, in.Phone)
			out.Phone = ""
		} else {
			out.Phone = phone
		}
	}

	if in.BirthDate != "" {
		if code := checkBirthDate(strings.TrimSpace(in.BirthDate), now); code != "" {
			reject("birth_date", code, in.BirthDate)
			out.BirthDate = ""
		} else {
			out.BirthDate = strings.TrimSpace(in.BirthDate)
		}
	}

	if in.Practitioner != "" {
		if p, ok := cfg.MatchPractitioner(in.Practitioner); ok {
			out.Practitioner = p.Name
		} else {
			// Kept so the engine can ask for clarification.
			v.logger.Info("practitioner not in roster", "practitioner", in.Practitioner, "clinic_id", cfg.ID)
		}
	}

	out.AppointmentType = strings.TrimSpace(in.AppointmentType)

	result := EntityResult{Valid: len(errs) == 0, Errors: errs, Corrected: out}
	if result.HasError("schedule") {
		result.Conflict = cfg.CheckSchedule(date, clock)
	}
	if len(errs) > 0 {
		v.logger.Debug("entity validation rejected fields", "errors", fmt.Sprint(errs))
	}
	return result
}

func checkDate(s string, cfg *clinic.Config, now time.Time) (string, string) {
	if !strictDatePattern.MatchString(s) {
		return "", CodeInvalidFormat
	}
	d, ok := cfg.ParseDate(s)
	if !ok {
		return "", CodeInvalidFormat
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if d.Before(today) {
		return "", CodeInPast
	}
	if d.After(today.AddDate(MaxBookingHorizon, 0, 0)) {
		return "", CodeTooFar
	}
	return s, ""
}

func checkBirthDate(s string, now time.Time) string {
	if !strictDatePattern.MatchString(s) {
		return CodeInvalidFormat
	}
	born, err := time.ParseInLocation(clinic.DateLayout, s, now.Location())
	if err != nil {
		return CodeInvalidFormat
	}
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	if age < 1 || age > 120 {
		return CodeImplausibleAge
	}
	return ""
}

// NormalizeTime accepts H:MM, HH:MM, 14h and 14h30 and returns zero-padded HH:MM.
func NormalizeTime(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if m := frenchClock.FindStringSubmatch(s); m != nil {
		minutes := m[2]
		if minutes == "" {
			minutes = "00"
		}
		s = m[1] + ":" + minutes
	}
	minutes, ok := clinic.ParseClock(s)
	if !ok {
		return "", false
	}
	return clinic.FormatClock(minutes), true
}

// NormalizePhone strips separators, checks 8-15 digits with optional leading +,
// and rewrites numbers libphonenumber recognizes to E.164.
func (v *EntityValidator) NormalizePhone(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')', '\u00a0':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if !phoneFormat.MatchString(cleaned) {
		return "", false
	}
	if num, err := phonenumbers.Parse(cleaned, v.phoneRegion); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164), true
	}
	return cleaned, true
}

func cleanName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" || len([]rune(s)) > 60 {
		return ""
	}
	for _, r := range s {
		if unicode.IsDigit(r) || r == '@' {
			return ""
		}
	}
	return s
}
