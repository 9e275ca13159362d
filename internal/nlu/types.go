// Package nlu turns patient utterances into intents and booking entities.
package nlu

import (
	"strings"
)

// Intent is the coarse purpose of an utterance.
type Intent string

const (
	IntentBookAppointment   Intent = "BOOK_APPOINTMENT"
	IntentModifyAppointment Intent = "MODIFY_APPOINTMENT"
	IntentCancelAppointment Intent = "CANCEL_APPOINTMENT"
	IntentInformation       Intent = "INFORMATION"
	IntentListAppointments  Intent = "LIST_APPOINTMENTS"
	IntentListPractitioners Intent = "LIST_PRACTITIONERS"
	IntentEmergency         Intent = "EMERGENCY"
	IntentGreeting          Intent = "GREETING"
	IntentAffirmative       Intent = "AFFIRMATIVE"
	IntentNegative          Intent = "NEGATIVE"
	IntentUnknown           Intent = "UNKNOWN"
)

// ParseIntent normalizes a model-supplied intent, UNKNOWN when unrecognized.
func ParseIntent(raw string) Intent {
	intent := Intent(strings.ToUpper(strings.TrimSpace(raw)))
	switch intent {
	case IntentBookAppointment, IntentModifyAppointment, IntentCancelAppointment, IntentInformation,
		IntentListAppointments, IntentListPractitioners, IntentEmergency, IntentGreeting,
		IntentAffirmative, IntentNegative:
		return intent
	default:
		return IntentUnknown
	}
}

// IsFlowTrigger reports intents that start or steer a booking flow.
func (i Intent) IsFlowTrigger() bool {
	switch i {
	case IntentBookAppointment, IntentModifyAppointment, IntentCancelAppointment, IntentListAppointments:
		return true
	}
	return false
}

// IsStrong reports intents explicit enough to justify switching language.
func (i Intent) IsStrong() bool {
	switch i {
	case IntentGreeting, IntentBookAppointment, IntentCancelAppointment, IntentModifyAppointment:
		return true
	}
	return false
}

// TimePreference narrows suggested slots to part of the day.
type TimePreference string

const (
	PreferenceNone      TimePreference = ""
	PreferenceMorning   TimePreference = "MORNING"
	PreferenceAfternoon TimePreference = "AFTERNOON"
)

func ParseTimePreference(raw string) TimePreference {
	switch TimePreference(strings.ToUpper(strings.TrimSpace(raw))) {
	case PreferenceMorning:
		return PreferenceMorning
	case PreferenceAfternoon:
		return PreferenceAfternoon
	default:
		return PreferenceNone
	}
}

// Entities is the partial record extracted from one utterance.
// An empty field means the utterance carried no information for it.
type Entities struct {
	FirstName       string         `json:"first_name,omitempty"`
	LastName        string         `json:"last_name,omitempty"`
	BirthDate       string         `json:"birth_date,omitempty"`
	Email           string         `json:"email,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	AppointmentType string         `json:"appointment_type,omitempty"`
	Date            string         `json:"date,omitempty"`
	Time            string         `json:"time,omitempty"`
	TimePreference  TimePreference `json:"time_preference,omitempty"`
	Practitioner    string         `json:"practitioner,omitempty"`
}

// IsEmpty reports whether no field is set.
func (e Entities) IsEmpty() bool {
	return e == Entities{}
}

// HasSchedulingChange reports whether the entities carry a new date, time or practitioner.
func (e Entities) HasSchedulingChange() bool {
	return e.Date != "" || e.Time != "" || e.Practitioner != ""
}

// Extraction is the structured guess returned for one utterance.
type Extraction struct {
	DetectedLanguage   string   `json:"detected_language"`
	Intent             Intent   `json:"intent"`
	Confidence         float64  `json:"confidence"`
	Entities           Entities `json:"entities"`
	NeedsBackendAction bool     `json:"needs_backend_action"`
	ResponseMessage    string   `json:"response_message,omitempty"`
}

// AmbiguityThreshold is the confidence under which an extraction counts as ambiguous.
const AmbiguityThreshold = 0.5

// IsAmbiguous reports a low-confidence or unknown-intent extraction.
func (x *Extraction) IsAmbiguous() bool {
	if x == nil {
		return false
	}
	return x.Intent == IntentUnknown || x.Confidence < AmbiguityThreshold
}
