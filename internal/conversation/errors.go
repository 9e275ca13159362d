package conversation

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation: conversation not found")
	ErrPatientNotFound      = errors.New("conversation: patient not found")
	ErrAppointmentNotFound  = errors.New("conversation: appointment not found")
)
