package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/sophie-assistant/internal/calendar"
	"github.com/wolfman30/sophie-assistant/internal/clinic"
	"github.com/wolfman30/sophie-assistant/internal/lock"
	"github.com/wolfman30/sophie-assistant/internal/nlu"
	"github.com/wolfman30/sophie-assistant/internal/notify"
	"github.com/wolfman30/sophie-assistant/internal/observability/metrics"
	"github.com/wolfman30/sophie-assistant/internal/validation"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
	"github.com/wolfman30/sophie-assistant/pkg/textnorm"
)

// ClinicDirectory resolves clinic profiles.
type ClinicDirectory interface {
	Get(ctx context.Context, clinicID string) (*clinic.Config, error)
}

// BookingNotifier sends the patient a booking confirmation out of band.
type BookingNotifier interface {
	SendBookingConfirmation(ctx context.Context, c notify.BookingConfirmation) error
}

// EngineConfig holds the dialogue tunables.
type EngineConfig struct {
	InactivityWindow    time.Duration
	FirstVisitDelayDays int
	SlotMinutes         int
	MaxSlots            int
	SearchDays          int
	HistoryLimit        int
	PhoneRegion         string
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InactivityWindow:    15 * time.Minute,
		FirstVisitDelayDays: 2,
		SlotMinutes:         30,
		MaxSlots:            6,
		SearchDays:          14,
		HistoryLimit:        10,
		PhoneRegion:         "FR",
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = d.InactivityWindow
	}
	if c.FirstVisitDelayDays < 0 {
		c.FirstVisitDelayDays = d.FirstVisitDelayDays
	}
	if c.SlotMinutes <= 0 {
		c.SlotMinutes = d.SlotMinutes
	}
	if c.MaxSlots <= 0 {
		c.MaxSlots = d.MaxSlots
	}
	if c.SearchDays <= 0 {
		c.SearchDays = d.SearchDays
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.PhoneRegion == "" {
		c.PhoneRegion = d.PhoneRegion
	}
	return c
}

// Engine is the dialogue orchestrator. Each call to ProcessMessage runs one
// turn: read the conversation, decide, persist and return the reply.
type Engine struct {
	store     Store
	clinics   ClinicDirectory
	calendar  calendar.Provider
	extractor nlu.EntityExtractor
	responder *Responder
	entities  *validation.EntityValidator
	memory    DecisionMemory
	locker    lock.Locker
	notifier  BookingNotifier
	metrics   *metrics.DialogueMetrics
	logger    *logging.Logger
	tracer    trace.Tracer
	cfg       EngineConfig
	now       func() time.Time
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

func WithExtractor(x nlu.EntityExtractor) EngineOption {
	return func(e *Engine) { e.extractor = x }
}

func WithResponder(r *Responder) EngineOption {
	return func(e *Engine) { e.responder = r }
}

func WithDecisionMemory(m DecisionMemory) EngineOption {
	return func(e *Engine) { e.memory = m }
}

// WithLocker replaces the in-process keyed mutex used by HandleInbound.
func WithLocker(l lock.Locker) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

func WithBookingNotifier(n BookingNotifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

func WithMetrics(m *metrics.DialogueMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithEngineConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) { e.cfg = cfg.withDefaults() }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store Store, clinics ClinicDirectory, cal calendar.Provider, opts ...EngineOption) *Engine {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if clinics == nil {
		panic("conversation: clinic directory cannot be nil")
	}
	if cal == nil {
		panic("conversation: calendar provider cannot be nil")
	}
	e := &Engine{
		store:    store,
		clinics:  clinics,
		calendar: cal,
		locker:   lock.NewKeyedMutex(),
		logger:   logging.Default(),
		tracer:   otel.Tracer("sophie.dialogue"),
		cfg:      DefaultEngineConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.entities = validation.NewEntityValidator(e.cfg.PhoneRegion, e.logger)
	return e
}

// turn is the working state of one ProcessMessage call.
type turn struct {
	conv       *Conversation
	clinic     *clinic.Config
	text       string
	mediaRef   string
	now        time.Time
	lang       string
	state      State
	cc         ConversationContext
	patient    *Patient
	extraction *nlu.Extraction
	intent     nlu.Intent
	entities   nlu.Entities
	notes      []string
	outcome    string
	logger     *logging.Logger
}

// InboundMessage is a patient message as delivered by a channel adapter.
type InboundMessage struct {
	ClinicID     string `json:"clinic_id"`
	ChannelID    string `json:"channel_id"`
	DisplayPhone string `json:"display_phone,omitempty"`
	ClinicName   string `json:"clinic_name,omitempty"`
	Text         string `json:"text"`
	MediaRef     string `json:"media_ref,omitempty"`
}

// TurnResult is the outcome of HandleInbound.
type TurnResult struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	State          State  `json:"state"`
}

// HandleInbound resolves the conversation for the sender and runs the turn
// while holding the per-conversation lock.
func (e *Engine) HandleInbound(ctx context.Context, msg InboundMessage) (TurnResult, error) {
	if msg.ClinicID == "" || msg.ChannelID == "" {
		return TurnResult{}, errors.New("conversation: clinic_id and channel_id are required")
	}
	phone := msg.DisplayPhone
	if phone == "" {
		phone = msg.ChannelID
	}
	conv, err := e.store.GetOrCreateConversation(ctx, msg.ClinicID, msg.ChannelID, phone)
	if err != nil {
		return TurnResult{}, fmt.Errorf("conversation: resolve conversation: %w", err)
	}

	result := TurnResult{ConversationID: conv.ID}
	waitStart := time.Now()
	err = e.locker.WithLock(ctx, msg.turnKey(), func(ctx context.Context) error {
		e.metrics.ObserveLockWait(time.Since(waitStart))
		result.Reply = e.ProcessMessage(ctx, conv.ID, msg.Text, msg.ClinicName, msg.MediaRef)
		if latest, err := e.store.GetConversation(ctx, conv.ID); err == nil {
			result.State = latest.State
		}
		return nil
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("conversation: turn lock: %w", err)
	}
	return result, nil
}

// ProcessMessage runs one dialogue turn and always returns a reply.
// Callers must serialize turns per conversation; HandleInbound does.
func (e *Engine) ProcessMessage(ctx context.Context, conversationID, text, clinicName, mediaRef string) string {
	ctx, span := e.tracer.Start(ctx, "dialogue.process_message", trace.WithAttributes(attribute.String("conversation_id", conversationID)))
	defer span.End()
	started := time.Now()

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		e.logger.Error("conversation lookup failed", "conversation_id", conversationID, "error", err)
		e.metrics.ObserveTurn("UNKNOWN", "missing_conversation", time.Since(started))
		lang := nlu.DetectLanguage(text)
		if !nlu.IsSupportedLanguage(lang) {
			lang = nlu.DefaultLanguage
		}
		return localize(lang, msgConversationMissing)
	}

	cfg := e.clinicConfig(ctx, conv.ClinicID, clinicName)
	t := &turn{
		conv:     conv,
		clinic:   cfg,
		text:     strings.TrimSpace(text),
		mediaRef: strings.TrimSpace(mediaRef),
		now:      e.now().In(cfg.Location()),
		lang:     conv.Language,
		state:    conv.State,
		cc:       conv.Context.Clone(),
		logger:   e.logger.With("conversation_id", conv.ID, "clinic_id", conv.ClinicID),
	}

	if _, err := e.store.SaveMessage(ctx, conv.ID, RoleUser, text, t.mediaRef); err != nil {
		t.logger.Error("failed to save inbound message", "error", err)
	}

	reply := e.runTurn(ctx, t)
	if strings.TrimSpace(reply) == "" {
		reply = validation.Fallback("", validation.ResponseContext{ClinicPhone: cfg.Phone, Language: t.lang})
		t.outcome = "empty_reply"
	}

	e.persist(ctx, t, reply)
	span.SetAttributes(attribute.String("state", string(t.state)), attribute.String("outcome", t.outcome))
	e.metrics.ObserveTurn(string(t.state), t.outcome, time.Since(started))
	e.metrics.ObserveTransition(string(conv.State), string(t.state))
	t.logger.Info("dialogue turn completed",
		"from_state", string(conv.State),
		"state", string(t.state),
		"intent", string(t.intent),
		"outcome", t.outcome,
		"language", t.lang,
	)
	return reply
}

func (e *Engine) clinicConfig(ctx context.Context, clinicID, clinicName string) *clinic.Config {
	cfg, err := e.clinics.Get(ctx, clinicID)
	if err != nil || cfg == nil {
		e.logger.Warn("clinic config unavailable, using defaults", "clinic_id", clinicID, "error", err)
		cfg = clinic.DefaultConfig(clinicID)
	}
	if clinicName != "" {
		cp := *cfg
		cp.Name = clinicName
		cfg = &cp
	}
	return cfg
}

func (e *Engine) runTurn(ctx context.Context, t *turn) string {
	if t.state.IsResting() {
		if t.state == StateEmergency {
			t.cc = ConversationContext{}
		}
		t.state = StateIdle
	}

	if e.expired(t) {
		t.logger.Info("conversation inactive, resetting context", "last_message_at", t.conv.LastMessageAt)
		t.cc = ConversationContext{}
		t.state = StateIdle
	}

	t.lang = e.resolveLanguage(t)

	if nlu.IsEmergency(t.text) {
		t.logger.Warn("emergency keywords detected")
		t.state = StateEmergency
		t.intent = nlu.IntentEmergency
		t.outcome = "emergency"
		return localize(t.lang, msgEmergency)
	}

	if nlu.IsBareGreeting(t.text) || nlu.IsResetRequest(t.text) {
		if t.state != StateIdle {
			t.logger.Info("reset requested mid-flow", "state", string(t.state))
		}
		t.cc = ConversationContext{}
		t.state = StateIdle
		t.intent = nlu.IntentGreeting
		t.outcome = "greeting"
		return e.greeting(ctx, t)
	}

	t.patient = e.loadPatient(ctx, t)
	t.cc.Patient = t.patient.hydrate(t.cc.Patient)

	if t.cc.Patient.InsuranceStep.Active() {
		t.outcome = "insurance"
		return e.handleInsurance(ctx, t)
	}

	e.understand(ctx, t)
	e.applyEntities(ctx, t)

	switch {
	case t.state == StateConfirmation:
		return e.handleConfirmation(ctx, t)
	case t.intent == nlu.IntentListPractitioners:
		return e.listPractitioners(ctx, t)
	case t.intent == nlu.IntentListAppointments:
		return e.listAppointments(ctx, t)
	case t.intent == nlu.IntentCancelAppointment:
		if t.state.IsCollecting() && t.cc.Flow == ActionBook {
			return e.abort(t)
		}
		return e.startCancel(ctx, t)
	case t.intent == nlu.IntentModifyAppointment && t.cc.Flow != ActionModify:
		return e.startModify(ctx, t)
	case t.intent == nlu.IntentInformation && t.state.IsCollecting():
		answer := e.generate(ctx, t)
		return answer + "\n" + e.collect(ctx, t)
	case t.intent == nlu.IntentBookAppointment || t.state.IsCollecting():
		if t.cc.Flow == "" {
			t.cc.Flow = ActionBook
		}
		return e.collect(ctx, t)
	default:
		return e.generate(ctx, t)
	}
}

// expired reports an inactivity gap, except while an insurance step is
// pending or a card image arrives during patient data collection.
func (e *Engine) expired(t *turn) bool {
	if t.conv.LastMessageAt == nil {
		return false
	}
	if t.now.Sub(*t.conv.LastMessageAt) <= e.cfg.InactivityWindow {
		return false
	}
	if t.cc.Patient.InsuranceStep.Active() {
		return false
	}
	if t.mediaRef != "" && t.state == StateCollectingPatientData {
		return false
	}
	return t.state != StateIdle || !isZeroContext(t.cc)
}

func isZeroContext(c ConversationContext) bool {
	return c.Patient == (PatientDraft{}) && c.Appointment == (AppointmentDraft{}) && c.PendingAction == nil &&
		c.Flow == "" && len(c.RejectedTimes) == 0 && c.AmbiguityCount == 0 && c.AwaitingField == ""
}

func (e *Engine) resolveLanguage(t *turn) string {
	return nlu.ResolveLanguage(nlu.LanguageSwitch{
		Stored:         t.conv.Language,
		Detected:       nlu.DetectLanguage(t.text),
		Intent:         nlu.GuessIntent(t.text),
		TokenCount:     len(textnorm.Tokens(t.text)),
		CollectingData: t.state.IsCollecting() || t.cc.Patient.InsuranceStep.Active(),
	})
}

func (e *Engine) greeting(ctx context.Context, t *turn) string {
	p := e.loadPatient(ctx, t)
	if p != nil && p.FirstName != "" {
		return localize(t.lang, msgGreetingNamed, p.FirstName, t.clinic.Name)
	}
	return localize(t.lang, msgGreeting, t.clinic.Name)
}

func (e *Engine) loadPatient(ctx context.Context, t *turn) *Patient {
	if t.patient != nil {
		return t.patient
	}
	p, err := e.store.GetPatient(ctx, t.conv.ClinicID, t.conv.DisplayPhone)
	if err != nil {
		if !errors.Is(err, ErrPatientNotFound) {
			t.logger.Warn("patient lookup failed", "error", err)
		}
		return nil
	}
	return p
}

// savePatient upserts the drafted patient and re-applies the stored record,
// so a write-once field the store kept wins over the draft.
func (e *Engine) savePatient(ctx context.Context, t *turn) *Patient {
	fields := fieldsFromDraft(t.cc.Patient)
	if fields.IsEmpty() {
		return t.patient
	}
	p, err := e.store.UpsertPatient(ctx, t.conv.ClinicID, t.conv.DisplayPhone, fields)
	if err != nil {
		t.logger.Error("failed to upsert patient", "error", err)
		return t.patient
	}
	t.patient = p
	step := t.cc.Patient.InsuranceStep
	t.cc.Patient = p.hydrate(t.cc.Patient)
	t.cc.Patient.InsuranceStep = step
	return p
}

// understand fills intent and entities from a remembered slot choice, the
// extractor, or the local parsers when no extraction is available.
func (e *Engine) understand(ctx context.Context, t *turn) {
	if slot, ok := e.selectOfferedSlot(ctx, t); ok {
		t.intent = nlu.IntentBookAppointment
		t.entities = nlu.Entities{Date: slot.Date, Time: slot.Time}
		if t.cc.Appointment.PractitionerID == "" {
			if p, ok := t.clinic.PractitionerByID(slot.PractitionerID); ok {
				t.entities.Practitioner = p.Name
			}
		}
		t.outcome = "slot_selected"
		return
	}

	shouldExtract := nlu.LooksTransactional(t.text) || t.state != StateIdle
	if shouldExtract && e.extractor != nil {
		_, span := e.tracer.Start(ctx, "dialogue.extract")
		t.extraction = e.extractor.ExtractEntities(ctx, nlu.ExtractRequest{
			Text:          t.text,
			Language:      t.lang,
			State:         string(t.state),
			AwaitingField: t.cc.AwaitingField,
			Known:         knownFields(t.cc),
			Practitioners: practitionerNames(t.clinic),
			Now:           t.now,
		})
		span.End()
	}

	if t.extraction != nil {
		t.logger.Debug("extraction",
			"intent", string(t.extraction.Intent),
			"confidence", t.extraction.Confidence,
			"entities", fmt.Sprintf("%+v", t.extraction.Entities),
		)
		t.intent = t.extraction.Intent
		t.entities = t.extraction.Entities
		if t.intent == nlu.IntentUnknown {
			if guess := nlu.GuessIntent(t.text); guess != nlu.IntentUnknown {
				t.intent = guess
			}
		}
		return
	}

	t.intent = nlu.GuessIntent(t.text)
	if shouldExtract {
		t.entities = e.localEntities(t)
	}
}

// localEntities is the model-free extraction, steered by the field last asked for.
func (e *Engine) localEntities(t *turn) nlu.Entities {
	ents := nlu.ParseLocal(t.text, t.now)
	switch t.cc.AwaitingField {
	case FieldFirstName, FieldLastName:
		if nlu.IsFillerReply(t.text) {
			break
		}
		if name, ok := nameLike(t.text); ok {
			if t.cc.AwaitingField == FieldFirstName {
				ents.FirstName = name
			} else {
				ents.LastName = name
			}
		}
	case FieldAppointmentType:
		if ents.Date == "" && ents.Time == "" && nlu.ClassifyYesNo(t.text) == nlu.IntentUnknown {
			ents.AppointmentType = strings.Join(strings.Fields(t.text), " ")
		}
	case FieldPractitioner:
		ents.Practitioner = t.text
	}
	if ents.Practitioner == "" && textnorm.ContainsAny(t.text, []string{"dr", "docteur", "doctor"}) {
		if p, ok := t.clinic.MatchPractitioner(t.text); ok {
			ents.Practitioner = p.Name
		}
	}
	return ents
}

// nameLike accepts one to three alphabetic words.
func nameLike(text string) (string, bool) {
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > 3 {
		return "", false
	}
	for _, w := range words {
		for _, r := range w {
			if !(r == '-' || r == '\'' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r > 0x7f) {
				return "", false
			}
		}
	}
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		words[i] = string(runes)
	}
	return strings.Join(words, " "), true
}

func knownFields(c ConversationContext) map[string]string {
	known := map[string]string{}
	add := func(k, v string) {
		if v != "" {
			known[k] = v
		}
	}
	add(FieldFirstName, c.Patient.FirstName)
	add(FieldLastName, c.Patient.LastName)
	add(FieldAppointmentType, c.Appointment.Type)
	add(FieldPractitioner, c.Appointment.Practitioner)
	add(FieldDate, c.Appointment.Date)
	add(FieldTime, c.Appointment.Time)
	return known
}

func practitionerNames(cfg *clinic.Config) []string {
	names := make([]string, 0, len(cfg.Practitioners))
	for _, p := range cfg.Practitioners {
		names = append(names, p.Name)
	}
	return names
}

// applyEntities validates the turn's entities, merges them into the context
// and persists any new patient facts.
func (e *Engine) applyEntities(ctx context.Context, t *turn) {
	ents := t.entities
	if t.cc.AwaitingField == FieldBirthDate && ents.BirthDate == "" && ents.Date != "" {
		ents.BirthDate, ents.Date = ents.Date, ""
	}
	if t.state == StateConfirmation && !nlu.HasCorrectionSignal(t.text) {
		ents.Date, ents.Time, ents.Practitioner = "", "", ""
	}
	if t.cc.Flow == ActionModify {
		ents.Practitioner = ""
	}
	t.entities = ents
	if ents.IsEmpty() {
		t.cc.AmbiguityCount = Merge(t.cc, ents, t.extraction.IsAmbiguous()).AmbiguityCount
		return
	}

	res := e.entities.Validate(ents, validation.EntityContext{
		Clinic:      t.clinic,
		Now:         t.now,
		CurrentDate: t.cc.Appointment.Date,
		CurrentTime: t.cc.Appointment.Time,
	})
	for _, fe := range res.Errors {
		if note := validationNote(fe); note != "" {
			t.notes = append(t.notes, localize(t.lang, note))
		}
	}

	before := t.cc.Appointment
	t.cc = Merge(t.cc, res.Corrected, t.extraction.IsAmbiguous())
	if (res.Corrected.Date != "" || res.Corrected.Time != "") && before.Date == t.cc.Appointment.Date && before.Time == t.cc.Appointment.Time {
		t.logger.Info("rejected date/time not re-adopted", "date", res.Corrected.Date, "time", res.Corrected.Time)
	}
	if t.cc.AmbiguityCount > 0 {
		t.logger.Info("ambiguous extraction", "ambiguity_count", t.cc.AmbiguityCount)
	}

	e.resolvePractitioner(t)

	if res.Corrected.FirstName != "" || res.Corrected.LastName != "" || res.Corrected.BirthDate != "" || res.Corrected.Email != "" {
		e.savePatient(ctx, t)
	}
}

// resolvePractitioner binds a drafted practitioner name to a roster entry.
func (e *Engine) resolvePractitioner(t *turn) {
	a := &t.cc.Appointment
	if a.Practitioner == "" || a.PractitionerID != "" {
		return
	}
	if p, ok := t.clinic.MatchPractitioner(a.Practitioner); ok {
		a.Practitioner = p.Name
		a.PractitionerID = p.ID
	}
}

func validationNote(fe validation.FieldError) string {
	switch fe.Field {
	case "date":
		switch fe.Code {
		case validation.CodeInPast:
			return msgDateInPast
		case validation.CodeTooFar:
			return msgDateTooFar
		default:
			return msgInvalidDate
		}
	case "birth_date":
		return msgInvalidBirthDate
	case "email":
		return msgInvalidEmail
	}
	return ""
}

// persist writes the turn's outcome. Failures are logged; the reply still goes out.
func (e *Engine) persist(ctx context.Context, t *turn, reply string) {
	if err := e.store.UpdateContext(ctx, t.conv.ID, t.cc); err != nil {
		t.logger.Error("failed to update context", "error", err)
	}
	if t.state != t.conv.State {
		if err := e.store.TransitionState(ctx, t.conv.ID, t.state); err != nil {
			t.logger.Error("failed to transition state", "error", err, "state", string(t.state))
		}
	}
	if t.lang != t.conv.Language {
		if err := e.store.UpdateLanguage(ctx, t.conv.ID, t.lang); err != nil {
			t.logger.Error("failed to update language", "error", err)
		}
	}
	if _, err := e.store.SaveMessage(ctx, t.conv.ID, RoleAssistant, reply, ""); err != nil {
		t.logger.Error("failed to save reply", "error", err)
	}
}

// generate answers free-form messages through the validated responder.
func (e *Engine) generate(ctx context.Context, t *turn) string {
	if t.outcome == "" {
		t.outcome = "generated"
	}
	rc := validation.ResponseContext{Source: t.clinic.FactsContext(), ClinicPhone: t.clinic.Phone, Language: t.lang}
	if e.responder == nil {
		candidate := ""
		if t.extraction != nil {
			candidate = t.extraction.ResponseMessage
		}
		return validation.NewResponseValidator().Validate(candidate, rc).Text
	}

	history, err := e.store.ListMessages(ctx, t.conv.ID, e.cfg.HistoryLimit)
	if err != nil {
		t.logger.Warn("failed to load history", "error", err)
	}
	req := ReplyRequest{
		ClinicID:       t.conv.ClinicID,
		ConversationID: t.conv.ID,
		Text:           t.text,
		Language:       t.lang,
		Facts:          rc.Source,
		ClinicPhone:    rc.ClinicPhone,
		History:        history,
	}
	if t.extraction != nil {
		req.Candidate = t.extraction.ResponseMessage
	}
	return e.responder.Reply(ctx, req)
}
