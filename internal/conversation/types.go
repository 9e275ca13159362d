package conversation

import "time"

// Role is the author of a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is the single dialogue held with one channel identity of one clinic.
type Conversation struct {
	ID            string
	ClinicID      string
	ChannelID     string
	DisplayPhone  string
	State         State
	Language      string
	Context       ConversationContext
	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is one append-only utterance.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	MediaRef       string
	CreatedAt      time.Time
}

// Patient is the persisted profile keyed by clinic and phone.
// Identity fields are write-once; insurance details stay updatable.
type Patient struct {
	ID                string
	ClinicID          string
	Phone             string
	FirstName         string
	LastName          string
	BirthDate         string
	Email             string
	InsuranceCardRef  string
	SocialInsurance   *bool
	InsuranceType     string
	BeneficiaryNumber string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PatientFields is the UpsertPatient input. Empty strings and nil mean "not supplied".
type PatientFields struct {
	FirstName         string
	LastName          string
	BirthDate         string
	Email             string
	InsuranceCardRef  string
	SocialInsurance   *bool
	InsuranceType     string
	BeneficiaryNumber string
}

// IsEmpty reports whether no field is supplied.
func (f PatientFields) IsEmpty() bool {
	return f.FirstName == "" && f.LastName == "" && f.BirthDate == "" && f.Email == "" &&
		f.InsuranceCardRef == "" && f.SocialInsurance == nil && f.InsuranceType == "" && f.BeneficiaryNumber == ""
}

// fieldsFromDraft converts the conversation's patient draft to upsert input.
func fieldsFromDraft(d PatientDraft) PatientFields {
	return PatientFields{
		FirstName:         d.FirstName,
		LastName:          d.LastName,
		BirthDate:         d.BirthDate,
		Email:             d.Email,
		InsuranceCardRef:  d.InsuranceCardRef,
		SocialInsurance:   d.SocialInsurance,
		InsuranceType:     d.InsuranceType,
		BeneficiaryNumber: d.BeneficiaryNumber,
	}
}

// hydrate overlays the stored profile on the draft. Stored identity wins.
func (p *Patient) hydrate(d PatientDraft) PatientDraft {
	if p == nil {
		return d
	}
	d.FirstName = pick(p.FirstName, d.FirstName)
	d.LastName = pick(p.LastName, d.LastName)
	d.BirthDate = pick(p.BirthDate, d.BirthDate)
	d.Email = pick(p.Email, d.Email)
	d.InsuranceCardRef = pick(p.InsuranceCardRef, d.InsuranceCardRef)
	if d.SocialInsurance == nil && p.SocialInsurance != nil {
		v := *p.SocialInsurance
		d.SocialInsurance = &v
	}
	d.InsuranceType = pick(d.InsuranceType, p.InsuranceType)
	d.BeneficiaryNumber = pick(d.BeneficiaryNumber, p.BeneficiaryNumber)
	if d.InsuranceStep == InsuranceNone && p.InsuranceCardRef != "" {
		d.InsuranceStep = InsuranceComplete
	}
	return d
}

// AppointmentStatus is the lifecycle of a booked appointment.
type AppointmentStatus string

const (
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
)

// Appointment is created only by a successful booking and never deleted.
type Appointment struct {
	ID               string
	ClinicID         string
	PatientID        string
	ConversationID   string
	PractitionerID   string
	PractitionerName string
	Type             string
	EventID          string
	StartsAt         time.Time
	EndsAt           time.Time
	Status           AppointmentStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
