package conversation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/sophie-assistant/internal/nlu"
)

func TestMergeIsIdempotent(t *testing.T) {
	base := ConversationContext{
		Patient:     PatientDraft{FirstName: "Jeanne"},
		Appointment: AppointmentDraft{Type: "consultation"},
		Flow:        ActionBook,
	}
	ents := nlu.Entities{LastName: "Dupont", Date: "2025-03-10", Time: "14:00", Practitioner: "Dr Martin"}

	// Idempotent only for confident extractions: an ambiguous merge bumps
	// AmbiguityCount on every call.
	once := Merge(base, ents, false)
	twice := Merge(once, ents, false)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("merge not idempotent (-once +twice):\n%s", diff)
	}
	assert.Zero(t, twice.AmbiguityCount)
	assert.Equal(t, 2, Merge(Merge(once, ents, true), ents, true).AmbiguityCount)
	assert.Equal(t, "Dupont", once.Patient.LastName)
	assert.Equal(t, "Jeanne", once.Patient.FirstName)
	assert.Equal(t, "14:00", once.Appointment.Time)
}

func TestMergeEmptyKeepsValues(t *testing.T) {
	base := ConversationContext{
		Patient:       PatientDraft{FirstName: "Jeanne", Email: "j@example.com"},
		Appointment:   AppointmentDraft{Type: "suivi", Date: "2025-03-10", Time: "09:00", TimePreference: nlu.PreferenceMorning},
		PendingAction: &PendingAction{Kind: ActionBook},
	}

	got := Merge(base, nlu.Entities{}, false)

	if diff := cmp.Diff(base, got); diff != "" {
		t.Fatalf("empty merge changed context (-want +got):\n%s", diff)
	}
	assert.NotSame(t, base.PendingAction, got.PendingAction)
}

func TestMergeNeverAdoptsRejectedPair(t *testing.T) {
	base := ConversationContext{
		Appointment: AppointmentDraft{Date: "2025-03-11", Time: "10:00"},
	}.Reject("2025-03-09", "10:00")

	got := Merge(base, nlu.Entities{Date: "2025-03-09", Time: "10:00"}, false)
	assert.Equal(t, "2025-03-11", got.Appointment.Date)
	assert.Equal(t, "10:00", got.Appointment.Time)

	// A date alone that forms a rejected pair with the held time is refused too.
	got = Merge(base, nlu.Entities{Date: "2025-03-09"}, false)
	assert.Equal(t, "2025-03-11", got.Appointment.Date)

	got = Merge(base, nlu.Entities{Date: "2025-03-09", Time: "11:00"}, false)
	assert.Equal(t, "2025-03-09", got.Appointment.Date)
	assert.Equal(t, "11:00", got.Appointment.Time)
}

func TestRejectIsMonotonic(t *testing.T) {
	c := ConversationContext{}
	c = c.Reject("2025-03-09", "10:00")
	c = c.Reject("2025-03-09", "10:00")
	c = c.Reject("2025-03-10", "")
	c = c.Reject("2025-03-10", "20:00")

	assert.Equal(t, []string{"2025-03-09 10:00", "2025-03-10 20:00"}, c.RejectedTimes)
	for _, ents := range []nlu.Entities{{FirstName: "Paul"}, {Date: "2025-03-12"}, {}} {
		c = Merge(c, ents, true)
		assert.Len(t, c.RejectedTimes, 2)
	}
}

func TestMergePractitionerChangeDropsID(t *testing.T) {
	base := ConversationContext{Appointment: AppointmentDraft{Practitioner: "Dr Martin", PractitionerID: "p-martin"}}

	same := Merge(base, nlu.Entities{Practitioner: "Dr Martin"}, false)
	assert.Equal(t, "p-martin", same.Appointment.PractitionerID)

	changed := Merge(base, nlu.Entities{Practitioner: "Dr Durand"}, false)
	assert.Equal(t, "Dr Durand", changed.Appointment.Practitioner)
	assert.Empty(t, changed.Appointment.PractitionerID)
}

func TestMergeAmbiguityCount(t *testing.T) {
	c := ConversationContext{}
	c = Merge(c, nlu.Entities{}, true)
	c = Merge(c, nlu.Entities{}, true)
	assert.Equal(t, 2, c.AmbiguityCount)
	c = Merge(c, nlu.Entities{Time: "09:00"}, false)
	assert.Zero(t, c.AmbiguityCount)
}

func TestCloneIsDeep(t *testing.T) {
	yes := true
	c := ConversationContext{
		Patient:       PatientDraft{SocialInsurance: &yes},
		PendingAction: &PendingAction{Kind: ActionCancel, AppointmentID: "a-1"},
		RejectedTimes: []string{"2025-03-09 10:00"},
	}
	cp := c.Clone()
	cp.RejectedTimes[0] = "changed"
	cp.PendingAction.AppointmentID = "a-2"
	*cp.Patient.SocialInsurance = false

	assert.Equal(t, "2025-03-09 10:00", c.RejectedTimes[0])
	assert.Equal(t, "a-1", c.PendingAction.AppointmentID)
	assert.True(t, *c.Patient.SocialInsurance)
}

func TestFieldOrder(t *testing.T) {
	p := PatientDraft{}
	var asked []string
	fill := map[string]func(*PatientDraft){
		FieldFirstName:     func(d *PatientDraft) { d.FirstName = "Jeanne" },
		FieldLastName:      func(d *PatientDraft) { d.LastName = "Dupont" },
		FieldBirthDate:     func(d *PatientDraft) { d.BirthDate = "1985-03-14" },
		FieldEmail:         func(d *PatientDraft) { d.Email = "j@example.com" },
		FieldInsuranceCard: func(d *PatientDraft) { d.InsuranceStep = InsuranceSkipped },
	}
	for field := p.Missing(); field != ""; field = p.Missing() {
		asked = append(asked, field)
		fill[field](&p)
	}
	assert.Equal(t, PatientFieldOrder, asked)

	a := AppointmentDraft{}
	asked = nil
	for field := a.Missing(); field != ""; field = a.Missing() {
		asked = append(asked, field)
		switch field {
		case FieldAppointmentType:
			a.Type = "consultation"
		case FieldPractitioner:
			a.PractitionerID = "p-martin"
		case FieldDate:
			a.Date = "2025-03-10"
		case FieldTime:
			a.Time = "09:00"
		}
	}
	assert.Equal(t, AppointmentFieldOrder, asked)
}

func TestParseState(t *testing.T) {
	assert.Equal(t, StateConfirmation, ParseState(" confirmation "))
	assert.Equal(t, StateIdle, ParseState("bogus"))
	assert.True(t, StateCompleted.IsResting())
	assert.True(t, StateCollectingPatientData.MidFlow())
	assert.False(t, StateIdle.MidFlow())
}
