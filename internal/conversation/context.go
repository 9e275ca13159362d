package conversation

import (
	"slices"

	"github.com/samber/lo"

	"github.com/wolfman30/sophie-assistant/internal/nlu"
)

// Fields the engine may ask for, in the order it asks for them.
const (
	FieldFirstName       = "first_name"
	FieldLastName        = "last_name"
	FieldBirthDate       = "birth_date"
	FieldEmail           = "email"
	FieldInsuranceCard   = "insurance_card"
	FieldAppointmentType = "appointment_type"
	FieldPractitioner    = "practitioner"
	FieldDate            = "date"
	FieldTime            = "time"
)

// PatientFieldOrder is the fixed order patient fields are collected in.
var PatientFieldOrder = []string{FieldFirstName, FieldLastName, FieldBirthDate, FieldEmail, FieldInsuranceCard}

// AppointmentFieldOrder is the fixed order appointment fields are collected in.
var AppointmentFieldOrder = []string{FieldAppointmentType, FieldPractitioner, FieldDate, FieldTime}

// PatientDraft is the patient data gathered so far in a conversation.
type PatientDraft struct {
	FirstName         string        `json:"first_name,omitempty"`
	LastName          string        `json:"last_name,omitempty"`
	BirthDate         string        `json:"birth_date,omitempty"`
	Email             string        `json:"email,omitempty"`
	InsuranceCardRef  string        `json:"insurance_card_ref,omitempty"`
	SocialInsurance   *bool         `json:"social_insurance,omitempty"`
	InsuranceType     string        `json:"insurance_type,omitempty"`
	BeneficiaryNumber string        `json:"beneficiary_number,omitempty"`
	InsuranceStep     InsuranceStep `json:"insurance_step,omitempty"`
}

// Missing returns the first patient field still unknown, or "".
func (p PatientDraft) Missing() string {
	switch {
	case p.FirstName == "":
		return FieldFirstName
	case p.LastName == "":
		return FieldLastName
	case p.BirthDate == "":
		return FieldBirthDate
	case p.Email == "":
		return FieldEmail
	case p.InsuranceCardRef == "" && !p.InsuranceStep.Done():
		return FieldInsuranceCard
	}
	return ""
}

// Merge is total: a non-empty value in e replaces the draft's, an empty one keeps it.
func (p PatientDraft) Merge(e nlu.Entities) PatientDraft {
	p.FirstName = pick(e.FirstName, p.FirstName)
	p.LastName = pick(e.LastName, p.LastName)
	p.BirthDate = pick(e.BirthDate, p.BirthDate)
	p.Email = pick(e.Email, p.Email)
	return p
}

// AppointmentDraft is the appointment being assembled.
type AppointmentDraft struct {
	Type           string             `json:"type,omitempty"`
	Practitioner   string             `json:"practitioner,omitempty"`
	PractitionerID string             `json:"practitioner_id,omitempty"`
	Date           string             `json:"date,omitempty"`
	Time           string             `json:"time,omitempty"`
	TimePreference nlu.TimePreference `json:"time_preference,omitempty"`
}

// Missing returns the first appointment field still unknown, or "".
func (a AppointmentDraft) Missing() string {
	switch {
	case a.Type == "":
		return FieldAppointmentType
	case a.PractitionerID == "":
		return FieldPractitioner
	case a.Date == "":
		return FieldDate
	case a.Time == "":
		return FieldTime
	}
	return ""
}

// ClearDateTime drops both the date and the time.
func (a AppointmentDraft) ClearDateTime() AppointmentDraft {
	a.Date, a.Time = "", ""
	return a
}

// ClearTime drops the time and keeps the date.
func (a AppointmentDraft) ClearTime() AppointmentDraft {
	a.Time = ""
	return a
}

// ActionKind is the backend action awaiting patient confirmation.
type ActionKind string

const (
	ActionBook   ActionKind = "BOOK"
	ActionCancel ActionKind = "CANCEL"
	ActionModify ActionKind = "MODIFY"
)

// PendingAction is the action a confirmation will execute, with its targets.
type PendingAction struct {
	Kind          ActionKind `json:"kind"`
	AppointmentID string     `json:"appointment_id,omitempty"`
	EventID       string     `json:"event_id,omitempty"`
}

// ConversationContext is the per-conversation working memory persisted between turns.
type ConversationContext struct {
	Patient        PatientDraft     `json:"patient"`
	Appointment    AppointmentDraft `json:"appointment"`
	PendingAction  *PendingAction   `json:"pending_action,omitempty"`
	Flow           ActionKind       `json:"flow,omitempty"`
	RejectedTimes  []string         `json:"rejected_times,omitempty"`
	AmbiguityCount int              `json:"ambiguity_count,omitempty"`
	AwaitingField  string           `json:"awaiting_field,omitempty"`
}

// Clone returns a deep copy.
func (c ConversationContext) Clone() ConversationContext {
	out := c
	out.RejectedTimes = slices.Clone(c.RejectedTimes)
	if c.PendingAction != nil {
		cp := *c.PendingAction
		out.PendingAction = &cp
	}
	if c.Patient.SocialInsurance != nil {
		v := *c.Patient.SocialInsurance
		out.Patient.SocialInsurance = &v
	}
	return out
}

// RejectionKey is the rejected_times entry for a date and time.
func RejectionKey(date, clock string) string {
	return date + " " + clock
}

// IsRejected reports whether the pair was already declined.
func (c ConversationContext) IsRejected(date, clock string) bool {
	if date == "" || clock == "" {
		return false
	}
	return slices.Contains(c.RejectedTimes, RejectionKey(date, clock))
}

// Reject records a declined pair. The set never shrinks outside a reset.
func (c ConversationContext) Reject(date, clock string) ConversationContext {
	if date == "" || clock == "" {
		return c
	}
	c.RejectedTimes = lo.Uniq(append(slices.Clone(c.RejectedTimes), RejectionKey(date, clock)))
	return c
}

// WithPending returns a copy with a fresh pending action.
func (c ConversationContext) WithPending(p *PendingAction) ConversationContext {
	if p != nil {
		cp := *p
		p = &cp
	}
	c.PendingAction = p
	return c
}

// Merge folds newly extracted entities into the context.
//
// A non-empty entity replaces the held value and an empty one keeps it. A
// date/time pair listed in RejectedTimes is never adopted: the held date and
// time are kept instead. PendingAction is carried untouched. AmbiguityCount
// increments on an ambiguous extraction and resets otherwise.
func Merge(existing ConversationContext, e nlu.Entities, ambiguous bool) ConversationContext {
	out := existing.Clone()
	out.Patient = out.Patient.Merge(e)

	appt := existing.Appointment
	appt.Type = pick(e.AppointmentType, appt.Type)
	if e.Practitioner != "" && e.Practitioner != appt.Practitioner {
		appt.Practitioner = e.Practitioner
		appt.PractitionerID = ""
	}
	if e.TimePreference != nlu.PreferenceNone {
		appt.TimePreference = e.TimePreference
	}
	if e.Date != "" || e.Time != "" {
		date := pick(e.Date, appt.Date)
		clock := pick(e.Time, appt.Time)
		if !existing.IsRejected(date, clock) {
			appt.Date, appt.Time = date, clock
		}
	}
	out.Appointment = appt

	if ambiguous {
		out.AmbiguityCount = existing.AmbiguityCount + 1
	} else {
		out.AmbiguityCount = 0
	}
	return out
}

func pick(next, held string) string {
	if next != "" {
		return next
	}
	return held
}
