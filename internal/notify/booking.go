// Package notify delivers out-of-band notices to patients, currently the
// booking confirmation email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// ErrNoRecipient is returned when a confirmation has no email address.
var ErrNoRecipient = errors.New("notify: no recipient email")

// BookingConfirmation is what the patient receives after a booking.
type BookingConfirmation struct {
	ClinicName    string
	ClinicPhone   string
	ClinicAddress string
	// ClinicEmail receives the patient's replies when set.
	ClinicEmail      string
	PatientName      string
	PatientEmail     string
	PractitionerName string
	AppointmentType  string
	// When is the appointment time already rendered in the patient's language.
	When     string
	StartsAt time.Time
	Language string
}

// Service renders notices and hands them to an EmailSender.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	return &Service{email: email, logger: logger}
}

// SendBookingConfirmation emails the patient a summary of the booked appointment.
func (s *Service) SendBookingConfirmation(ctx context.Context, c BookingConfirmation) error {
	if strings.TrimSpace(c.PatientEmail) == "" {
		return ErrNoRecipient
	}
	msg := renderBookingConfirmation(c)
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: booking confirmation: %w", err)
	}
	s.logger.Info("booking confirmation sent", "clinic", c.ClinicName, "starts_at", c.StartsAt)
	return nil
}

func renderBookingConfirmation(c BookingConfirmation) EmailMessage {
	english := c.Language == "en"
	subject := fmt.Sprintf("Confirmation de votre rendez-vous - %s", c.ClinicName)
	lines := []string{
		fmt.Sprintf("Bonjour %s,", c.PatientName),
		"",
		fmt.Sprintf("Votre rendez-vous du %s avec %s est confirmé.", c.When, c.PractitionerName),
	}
	if c.AppointmentType != "" {
		lines = append(lines, "Motif : "+c.AppointmentType)
	}
	if c.ClinicAddress != "" {
		lines = append(lines, "Adresse : "+c.ClinicAddress)
	}
	lines = append(lines, "", fmt.Sprintf("Pour toute modification, répondez à Sophie ou appelez le %s.", c.ClinicPhone))

	if english {
		subject = fmt.Sprintf("Your appointment is confirmed - %s", c.ClinicName)
		lines = []string{
			fmt.Sprintf("Hello %s,", c.PatientName),
			"",
			fmt.Sprintf("Your appointment on %s with %s is confirmed.", c.When, c.PractitionerName),
		}
		if c.AppointmentType != "" {
			lines = append(lines, "Reason: "+c.AppointmentType)
		}
		if c.ClinicAddress != "" {
			lines = append(lines, "Address: "+c.ClinicAddress)
		}
		lines = append(lines, "", fmt.Sprintf("To change it, reply to Sophie or call %s.", c.ClinicPhone))
	}

	var body strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		body.WriteString("<p>" + html.EscapeString(l) + "</p>")
	}
	return EmailMessage{
		To:       c.PatientEmail,
		ToName:   c.PatientName,
		FromName: senderName(c.ClinicName),
		ReplyTo:  c.ClinicEmail,
		Subject:  subject,
		Body:     strings.Join(lines, "\n"),
		HTML:     body.String(),
	}
}

// senderName signs mail as the assistant of the clinic.
func senderName(clinic string) string {
	if strings.TrimSpace(clinic) == "" {
		return defaultFromName
	}
	return defaultFromName + " - " + clinic
}
