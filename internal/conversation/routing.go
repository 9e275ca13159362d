package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/sophie-assistant/internal/calendar"
	"github.com/wolfman30/sophie-assistant/internal/clinic"
	"github.com/wolfman30/sophie-assistant/internal/nlu"
	"github.com/wolfman30/sophie-assistant/internal/notify"
)

var askPatientField = map[string]string{
	FieldFirstName:     msgAskFirstName,
	FieldLastName:      msgAskLastName,
	FieldBirthDate:     msgAskBirthDate,
	FieldEmail:         msgAskEmail,
	FieldInsuranceCard: msgAskInsuranceCard,
}

// takeNotes returns the pending validation notes as a reply prefix.
func takeNotes(t *turn) string {
	if len(t.notes) == 0 {
		return ""
	}
	prefix := strings.Join(t.notes, " ") + "\n"
	t.notes = nil
	return prefix
}

// collect asks for the next missing field, patient data first, and moves to
// confirmation once everything is known.
func (e *Engine) collect(ctx context.Context, t *turn) string {
	prefix := takeNotes(t)

	if t.cc.Flow != ActionModify {
		if field := t.cc.Patient.Missing(); field != "" {
			t.state = StateCollectingPatientData
			t.cc.AwaitingField = field
			if field == FieldInsuranceCard {
				t.cc.Patient.InsuranceStep = InsuranceAwaitingCard
			}
			return prefix + localize(t.lang, askPatientField[field])
		}
	}

	t.state = StateCollectingAppointmentData
	if msg := e.scheduleProblem(t); msg != "" {
		return prefix + msg
	}

	cfg := t.clinic
	switch t.cc.Appointment.Missing() {
	case FieldAppointmentType:
		t.cc.AwaitingField = FieldAppointmentType
		return prefix + localize(t.lang, msgAskAppointmentType, choiceSuffix(cfg.AppointmentTypes))
	case FieldPractitioner:
		if p, ok := solePractitioner(cfg); ok {
			t.cc.Appointment.Practitioner, t.cc.Appointment.PractitionerID = p.Name, p.ID
			return prefix + e.collect(ctx, t)
		}
		t.cc.AwaitingField = FieldPractitioner
		if name := t.cc.Appointment.Practitioner; name != "" {
			t.cc.Appointment.Practitioner = ""
			return prefix + localize(t.lang, msgUnknownPractitioner, name, choiceSuffix(practitionerNames(cfg)))
		}
		return prefix + localize(t.lang, msgAskPractitioner, choiceSuffix(practitionerNames(cfg)))
	case FieldDate, FieldTime:
		return e.offerSlots(ctx, t, e.practitionerFor(t), prefix)
	}
	return prefix + e.checkAndConfirm(ctx, t)
}

// solePractitioner returns the practitioner to use without asking: the only
// roster entry, or the clinic itself when no roster is configured.
func solePractitioner(cfg *clinic.Config) (clinic.Practitioner, bool) {
	switch len(cfg.Practitioners) {
	case 0:
		return clinic.Practitioner{ID: cfg.ID, Name: cfg.Name}, true
	case 1:
		return cfg.Practitioners[0], true
	}
	return clinic.Practitioner{}, false
}

// practitionerFor resolves the drafted practitioner against the roster.
func (e *Engine) practitionerFor(t *turn) clinic.Practitioner {
	id := t.cc.Appointment.PractitionerID
	if p, ok := t.clinic.PractitionerByID(id); ok {
		return p
	}
	if p, ok := solePractitioner(t.clinic); ok && p.ID == id {
		return p
	}
	return clinic.Practitioner{ID: id, Name: t.cc.Appointment.Practitioner}
}

// scheduleProblem checks the drafted date and time against opening hours and
// the clock. Only the offending field is cleared, and the pair is recorded
// as rejected so it is never re-adopted.
func (e *Engine) scheduleProblem(t *turn) string {
	a := t.cc.Appointment
	if a.Date == "" {
		return ""
	}
	cfg := t.clinic
	day, ok := cfg.ParseDate(a.Date)
	if !ok {
		t.cc.Appointment.Date = ""
		return localize(t.lang, msgInvalidDate)
	}

	if cfg.IsClosedOn(day) {
		t.logger.Info("requested day is closed", "date", a.Date, "time", a.Time)
		t.cc = t.cc.Reject(a.Date, a.Time)
		t.cc.Appointment.Date = ""
		t.cc.AwaitingField = FieldDate
		t.outcome = "closed_day"
		return localize(t.lang, msgClosedDay, formatDay(t.lang, cfg, a.Date))
	}
	if a.Time == "" {
		return ""
	}

	if cfg.CheckSchedule(a.Date, a.Time) == clinic.ConflictOutsideHours {
		open, closeAt, _ := cfg.DayWindow(day)
		t.logger.Info("requested time outside opening hours", "date", a.Date, "time", a.Time)
		t.cc = t.cc.Reject(a.Date, a.Time)
		t.cc.Appointment = t.cc.Appointment.ClearTime()
		t.cc.AwaitingField = FieldTime
		t.outcome = "outside_hours"
		return localize(t.lang, msgOutsideHours, formatDay(t.lang, cfg, a.Date),
			open.Format(clinic.ClockLayout), closeAt.Format(clinic.ClockLayout))
	}

	if start, ok := cfg.Combine(a.Date, a.Time); ok && !start.After(t.now) {
		t.cc = t.cc.Reject(a.Date, a.Time)
		t.cc.Appointment = t.cc.Appointment.ClearTime()
		t.cc.AwaitingField = FieldTime
		t.outcome = "time_in_past"
		return localize(t.lang, msgTimeInPast)
	}
	return ""
}

// slotWindow returns the drafted appointment's start and end instants.
func (e *Engine) slotWindow(t *turn) (time.Time, time.Time, bool) {
	start, ok := t.clinic.Combine(t.cc.Appointment.Date, t.cc.Appointment.Time)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return start, start.Add(time.Duration(e.cfg.SlotMinutes) * time.Minute), true
}

// available asks the calendar; an error counts as unavailable.
func (e *Engine) available(ctx context.Context, t *turn, p clinic.Practitioner, start, end time.Time) bool {
	free, err := e.calendar.CheckAvailability(ctx, calendarID(p), start, end)
	if err != nil {
		t.logger.Warn("availability check failed", "practitioner_id", p.ID, "start", start, "error", err)
		return false
	}
	return free
}

// slotTaken rejects the drafted pair, keeps the date and offers alternatives.
func (e *Engine) slotTaken(ctx context.Context, t *turn, p clinic.Practitioner) string {
	a := t.cc.Appointment
	t.cc = t.cc.Reject(a.Date, a.Time)
	t.cc.Appointment = t.cc.Appointment.ClearTime()
	if t.cc.Flow != ActionModify {
		t.cc.PendingAction = nil
	}
	t.state = StateCollectingAppointmentData
	t.outcome = "slot_taken"
	prefix := localize(t.lang, msgSlotTaken, formatWhen(t.lang, t.clinic, a.Date, a.Time)) + "\n"
	return e.offerSlots(ctx, t, p, prefix)
}

// checkAndConfirm verifies the complete draft with the calendar and asks the
// patient to confirm.
func (e *Engine) checkAndConfirm(ctx context.Context, t *turn) string {
	p := e.practitionerFor(t)
	start, end, ok := e.slotWindow(t)
	if !ok {
		t.cc.Appointment = t.cc.Appointment.ClearDateTime()
		return localize(t.lang, msgInvalidDate)
	}
	if !e.available(ctx, t, p, start, end) {
		return e.slotTaken(ctx, t, p)
	}

	a := t.cc.Appointment
	when := formatWhen(t.lang, t.clinic, a.Date, a.Time)
	t.state = StateConfirmation
	t.cc.AwaitingField = ""
	t.outcome = "awaiting_confirmation"

	if t.cc.Flow == ActionModify && t.cc.PendingAction != nil {
		t.cc.PendingAction.Kind = ActionModify
		return localize(t.lang, msgConfirmModify, p.Name, when)
	}
	t.cc.Flow = ActionBook
	t.cc = t.cc.WithPending(&PendingAction{Kind: ActionBook})
	return localize(t.lang, msgConfirmBooking, a.Type, when, p.Name)
}

// handleConfirmation routes the patient's answer to a pending action.
func (e *Engine) handleConfirmation(ctx context.Context, t *turn) string {
	pa := t.cc.PendingAction
	if pa == nil {
		t.logger.Warn("confirmation state without pending action")
		if t.cc.Flow != "" {
			return e.collect(ctx, t)
		}
		t.state = StateIdle
		return e.generate(ctx, t)
	}

	if pa.Kind != ActionCancel && nlu.HasCorrectionSignal(t.text) && t.entities.HasSchedulingChange() {
		t.logger.Info("correction during confirmation", "pending", string(pa.Kind))
		if pa.Kind == ActionBook {
			t.cc.PendingAction = nil
		}
		t.outcome = "correction"
		return e.collect(ctx, t)
	}

	switch confirmationAnswer(t) {
	case nlu.IntentAffirmative:
		return e.finalize(ctx, t)
	case nlu.IntentNegative:
		return e.abort(t)
	default:
		t.outcome = "confirmation_unclear"
		return localize(t.lang, msgConfirmationUnclear)
	}
}

func confirmationAnswer(t *turn) nlu.Intent {
	if answer := nlu.ClassifyYesNo(t.text); answer != nlu.IntentUnknown {
		return answer
	}
	if nlu.MentionsCancel(t.text) {
		if t.cc.PendingAction != nil && t.cc.PendingAction.Kind == ActionCancel {
			return nlu.IntentAffirmative
		}
		return nlu.IntentNegative
	}
	switch t.intent {
	case nlu.IntentAffirmative, nlu.IntentNegative:
		return t.intent
	}
	return nlu.IntentUnknown
}

// abort drops the flow in progress without touching the calendar.
func (e *Engine) abort(t *turn) string {
	t.cc.PendingAction = nil
	t.cc.Appointment = AppointmentDraft{}
	t.cc.Flow = ""
	t.cc.AwaitingField = ""
	t.state = StateIdle
	t.outcome = "aborted"
	return localize(t.lang, msgActionAborted)
}

func (e *Engine) finalize(ctx context.Context, t *turn) string {
	switch t.cc.PendingAction.Kind {
	case ActionCancel:
		return e.finalizeCancel(ctx, t)
	case ActionModify:
		return e.finalizeModify(ctx, t)
	default:
		return e.finalizeBook(ctx, t)
	}
}

// complete clears the working memory after a successful backend action.
func (e *Engine) complete(ctx context.Context, t *turn, d Decision, result string) {
	if e.memory != nil {
		if err := e.memory.Remember(ctx, t.conv.ID, d); err != nil {
			t.logger.Warn("failed to remember decision", "kind", d.Kind, "error", err)
		}
	}
	t.cc = ConversationContext{}
	t.state = StateCompleted
	t.outcome = result
	e.metrics.ObserveBooking(result)
}

func (e *Engine) technicalError(t *turn, op string, err error) string {
	t.logger.Error("backend action failed", "op", op, "error", err)
	t.outcome = "technical_error"
	e.metrics.ObserveBooking("failed")
	return localize(t.lang, msgTechnicalError)
}

func (e *Engine) finalizeBook(ctx context.Context, t *turn) string {
	p := e.practitionerFor(t)
	start, end, ok := e.slotWindow(t)
	if !ok {
		t.cc.PendingAction = nil
		t.cc.Appointment = t.cc.Appointment.ClearDateTime()
		return e.collect(ctx, t)
	}
	if !e.available(ctx, t, p, start, end) {
		return e.slotTaken(ctx, t, p)
	}

	patient := e.savePatient(ctx, t)
	if patient == nil {
		return e.technicalError(t, "upsert_patient", errors.New("patient record unavailable"))
	}

	a := t.cc.Appointment
	eventID, err := e.calendar.CreateEvent(ctx, calendar.Event{
		PractitionerID: calendarID(p),
		Summary:        fmt.Sprintf("%s - %s %s", a.Type, patient.FirstName, patient.LastName),
		Description:    fmt.Sprintf("Patient: %s %s\nTéléphone: %s\nMotif: %s", patient.FirstName, patient.LastName, t.conv.DisplayPhone, a.Type),
		Start:          start,
		End:            end,
	})
	if err != nil {
		t.logger.Warn("calendar event creation failed", "practitioner_id", p.ID, "error", err)
		return e.slotTaken(ctx, t, p)
	}

	appt, err := e.store.CreateAppointment(ctx, Appointment{
		ClinicID:         t.conv.ClinicID,
		PatientID:        patient.ID,
		ConversationID:   t.conv.ID,
		PractitionerID:   p.ID,
		PractitionerName: p.Name,
		Type:             a.Type,
		EventID:          eventID,
		StartsAt:         start,
		EndsAt:           end,
		Status:           AppointmentConfirmed,
	})
	if err != nil {
		if delErr := e.calendar.DeleteEvent(ctx, calendarID(p), eventID); delErr != nil {
			t.logger.Error("failed to roll back calendar event", "event_id", eventID, "error", delErr)
		}
		return e.technicalError(t, "create_appointment", err)
	}

	when := formatWhen(t.lang, t.clinic, a.Date, a.Time)
	t.logger.Info("appointment booked", "appointment_id", appt.ID, "practitioner_id", p.ID, "starts_at", start)
	e.sendConfirmation(ctx, t, patient, appt, when)
	e.complete(ctx, t, Decision{Kind: DecisionBooked, AppointmentID: appt.ID, At: t.now}, "confirmed")
	return localize(t.lang, msgBooked, when, p.Name)
}

func (e *Engine) sendConfirmation(ctx context.Context, t *turn, patient *Patient, appt *Appointment, when string) {
	if e.notifier == nil || patient.Email == "" {
		return
	}
	err := e.notifier.SendBookingConfirmation(ctx, notify.BookingConfirmation{
		ClinicName:       t.clinic.Name,
		ClinicPhone:      t.clinic.Phone,
		ClinicAddress:    t.clinic.Address,
		ClinicEmail:      t.clinic.Email,
		PatientName:      strings.TrimSpace(patient.FirstName + " " + patient.LastName),
		PatientEmail:     patient.Email,
		PractitionerName: appt.PractitionerName,
		AppointmentType:  appt.Type,
		When:             when,
		StartsAt:         appt.StartsAt,
		Language:         t.lang,
	})
	if err != nil {
		t.logger.Warn("booking confirmation email failed", "appointment_id", appt.ID, "error", err)
	}
}

func (e *Engine) finalizeCancel(ctx context.Context, t *turn) string {
	pa := *t.cc.PendingAction
	p := e.practitionerFor(t)
	if pa.EventID != "" {
		err := e.calendar.DeleteEvent(ctx, calendarID(p), pa.EventID)
		if err != nil && !errors.Is(err, calendar.ErrEventNotFound) {
			return e.technicalError(t, "delete_event", err)
		}
	}
	if err := e.store.CancelAppointment(ctx, pa.AppointmentID); err != nil {
		return e.technicalError(t, "cancel_appointment", err)
	}

	when := formatWhen(t.lang, t.clinic, t.cc.Appointment.Date, t.cc.Appointment.Time)
	t.logger.Info("appointment cancelled", "appointment_id", pa.AppointmentID)
	e.complete(ctx, t, Decision{Kind: DecisionCancelled, AppointmentID: pa.AppointmentID, At: t.now}, "cancelled")
	return localize(t.lang, msgCancelled, when)
}

func (e *Engine) finalizeModify(ctx context.Context, t *turn) string {
	pa := *t.cc.PendingAction
	p := e.practitionerFor(t)
	start, end, ok := e.slotWindow(t)
	if !ok {
		t.cc.Appointment = t.cc.Appointment.ClearDateTime()
		return e.collect(ctx, t)
	}
	if !e.available(ctx, t, p, start, end) {
		return e.slotTaken(ctx, t, p)
	}

	a := t.cc.Appointment
	if pa.EventID != "" {
		err := e.calendar.UpdateEvent(ctx, calendar.Event{
			ID:             pa.EventID,
			PractitionerID: calendarID(p),
			Summary:        a.Type,
			Start:          start,
			End:            end,
		})
		if err != nil {
			return e.technicalError(t, "update_event", err)
		}
	}
	if err := e.store.RescheduleAppointment(ctx, pa.AppointmentID, start, end); err != nil {
		return e.technicalError(t, "reschedule_appointment", err)
	}

	when := formatWhen(t.lang, t.clinic, a.Date, a.Time)
	t.logger.Info("appointment rescheduled", "appointment_id", pa.AppointmentID, "starts_at", start)
	e.complete(ctx, t, Decision{Kind: DecisionRescheduled, AppointmentID: pa.AppointmentID, At: t.now}, "rescheduled")
	return localize(t.lang, msgRescheduled, when, p.Name)
}

// upcoming lists the patient's future confirmed appointments. A nil slice
// with a message means the caller should reply with that message.
func (e *Engine) upcoming(ctx context.Context, t *turn) ([]Appointment, string) {
	if t.patient == nil {
		t.state = StateIdle
		t.outcome = "patient_unknown"
		return nil, localize(t.lang, msgPatientUnknown)
	}
	appts, err := e.store.ListUpcomingAppointments(ctx, t.conv.ClinicID, t.patient.ID, t.now)
	if err != nil {
		return nil, e.technicalError(t, "list_appointments", err)
	}
	if len(appts) == 0 {
		t.state = StateIdle
		t.outcome = "no_appointments"
		return nil, localize(t.lang, msgNoAppointments)
	}
	return appts, ""
}

// pickAppointment prefers the appointment on the date the patient named.
func pickAppointment(appts []Appointment, cfg *clinic.Config, date string) Appointment {
	if date != "" {
		for _, a := range appts {
			if a.StartsAt.In(cfg.Location()).Format(clinic.DateLayout) == date {
				return a
			}
		}
	}
	return appts[0]
}

// draftFrom loads a stored appointment into the working draft.
func draftFrom(a Appointment, cfg *clinic.Config) AppointmentDraft {
	local := a.StartsAt.In(cfg.Location())
	return AppointmentDraft{
		Type:           a.Type,
		Practitioner:   a.PractitionerName,
		PractitionerID: a.PractitionerID,
		Date:           local.Format(clinic.DateLayout),
		Time:           local.Format(clinic.ClockLayout),
	}
}

func (e *Engine) startCancel(ctx context.Context, t *turn) string {
	appts, msg := e.upcoming(ctx, t)
	if appts == nil {
		t.cc.Flow = ""
		return msg
	}
	target := pickAppointment(appts, t.clinic, t.entities.Date)
	t.cc.Flow = ActionCancel
	t.cc.Appointment = draftFrom(target, t.clinic)
	t.cc.AwaitingField = ""
	t.cc = t.cc.WithPending(&PendingAction{Kind: ActionCancel, AppointmentID: target.ID, EventID: target.EventID})
	t.state = StateConfirmation
	t.outcome = "awaiting_confirmation"
	return localize(t.lang, msgConfirmCancel, formatInstant(t.lang, t.clinic, target.StartsAt), target.PractitionerName)
}

// startModify targets the next appointment and collects the new date and
// time. The current slot is rejected so it is never offered back.
func (e *Engine) startModify(ctx context.Context, t *turn) string {
	appts, msg := e.upcoming(ctx, t)
	if appts == nil {
		t.cc.Flow = ""
		return msg
	}
	target := appts[0]
	current := draftFrom(target, t.clinic)

	next := AppointmentDraft{
		Type:           current.Type,
		Practitioner:   current.Practitioner,
		PractitionerID: current.PractitionerID,
		TimePreference: t.cc.Appointment.TimePreference,
	}
	if t.entities.Date != "" {
		next.Date = t.cc.Appointment.Date
	}
	if t.entities.Time != "" {
		next.Time = t.cc.Appointment.Time
	}

	t.cc = t.cc.Reject(current.Date, current.Time)
	t.cc.Appointment = next
	t.cc.Flow = ActionModify
	t.cc = t.cc.WithPending(&PendingAction{Kind: ActionModify, AppointmentID: target.ID, EventID: target.EventID})
	return e.collect(ctx, t)
}

func (e *Engine) listAppointments(ctx context.Context, t *turn) string {
	appts, msg := e.upcoming(ctx, t)
	if appts == nil {
		return msg
	}
	lines := make([]string, 0, len(appts))
	for _, a := range appts {
		line := fmt.Sprintf("- %s, %s", formatInstant(t.lang, t.clinic, a.StartsAt), a.PractitionerName)
		if a.Type != "" {
			line += " (" + a.Type + ")"
		}
		lines = append(lines, line)
	}
	t.outcome = "listed_appointments"
	return localize(t.lang, msgListAppointments, strings.Join(lines, "\n"))
}

func (e *Engine) listPractitioners(ctx context.Context, t *turn) string {
	t.outcome = "listed_practitioners"
	var reply string
	if len(t.clinic.Practitioners) == 0 {
		reply = localize(t.lang, msgNoPractitioners)
	} else {
		lines := make([]string, 0, len(t.clinic.Practitioners))
		for _, p := range t.clinic.Practitioners {
			line := "- " + p.Name
			if p.Specialty != "" {
				line += " (" + p.Specialty + ")"
			}
			lines = append(lines, line)
		}
		reply = localize(t.lang, msgListPractitioners, strings.Join(lines, "\n"))
	}
	if t.state.IsCollecting() {
		return reply + "\n" + e.collect(ctx, t)
	}
	return reply
}
