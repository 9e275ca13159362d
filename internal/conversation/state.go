// Package conversation runs the appointment dialogue: conversation records,
// the per-turn state machine, persistence and the inbound pipeline.
package conversation

import "strings"

// State is the conversation's phase in the booking dialogue.
type State string

const (
	StateIdle                      State = "IDLE"
	StateCollectingPatientData     State = "COLLECTING_PATIENT_DATA"
	StateCollectingAppointmentData State = "COLLECTING_APPOINTMENT_DATA"
	StateConfirmation              State = "CONFIRMATION"
	StateCompleted                 State = "COMPLETED"
	StateEmergency                 State = "EMERGENCY"
)

// ParseState maps a stored value back to a State, IDLE when unknown.
func ParseState(raw string) State {
	s := State(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StateIdle, StateCollectingPatientData, StateCollectingAppointmentData,
		StateConfirmation, StateCompleted, StateEmergency:
		return s
	default:
		return StateIdle
	}
}

// IsCollecting reports the two data-collection states.
func (s State) IsCollecting() bool {
	return s == StateCollectingPatientData || s == StateCollectingAppointmentData
}

// IsResting reports states that latch back to IDLE on the next message.
func (s State) IsResting() bool {
	return s == StateCompleted || s == StateEmergency
}

// MidFlow reports whether a dialogue is under way.
func (s State) MidFlow() bool {
	return s.IsCollecting() || s == StateConfirmation
}

func (s State) String() string {
	return string(s)
}

// InsuranceStep is the nested insurance sub-dialogue. While Active it takes
// precedence over the conversation State.
type InsuranceStep string

const (
	InsuranceNone                      InsuranceStep = ""
	InsuranceAwaitingCard              InsuranceStep = "AWAITING_CARD"
	InsuranceAwaitingSocialInsurance   InsuranceStep = "AWAITING_SOCIAL_INSURANCE"
	InsuranceAwaitingType              InsuranceStep = "AWAITING_INSURANCE_TYPE"
	InsuranceAwaitingBeneficiaryNumber InsuranceStep = "AWAITING_BENEFICIARY_NUMBER"
	InsuranceComplete                  InsuranceStep = "COMPLETE"
	InsuranceSkipped                   InsuranceStep = "SKIPPED"
)

// Active reports whether the sub-dialogue is waiting for an answer.
func (s InsuranceStep) Active() bool {
	switch s {
	case InsuranceAwaitingCard, InsuranceAwaitingSocialInsurance, InsuranceAwaitingType, InsuranceAwaitingBeneficiaryNumber:
		return true
	}
	return false
}

// Done reports whether the sub-dialogue has ended, answered or skipped.
func (s InsuranceStep) Done() bool {
	return s == InsuranceComplete || s == InsuranceSkipped
}
