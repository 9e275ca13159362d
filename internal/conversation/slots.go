package conversation

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/wolfman30/sophie-assistant/internal/calendar"
	"github.com/wolfman30/sophie-assistant/internal/clinic"
	"github.com/wolfman30/sophie-assistant/internal/nlu"
	"github.com/wolfman30/sophie-assistant/pkg/textnorm"
)

// calendarID is the identifier the calendar provider knows a practitioner by.
func calendarID(p clinic.Practitioner) string {
	if p.CalendarID != "" {
		return p.CalendarID
	}
	return p.ID
}

type slotQuery struct {
	practitioner clinic.Practitioner
	from         string
	preference   nlu.TimePreference
	motif        string
	returning    bool
}

// bookingDelayDays is 0 for urgent motifs and returning patients, the first-visit delay otherwise.
func (e *Engine) bookingDelayDays(motif string, returning bool) int {
	if returning || nlu.IsUrgentMotif(motif) {
		return 0
	}
	return e.cfg.FirstVisitDelayDays
}

// suggestSlots walks forward from the earliest bookable day, skipping closed
// days, and returns up to MaxSlots free slots. Calendar failures count as no
// availability for that day.
func (e *Engine) suggestSlots(ctx context.Context, t *turn, q slotQuery) []SlotOption {
	cfg := t.clinic
	loc := cfg.Location()
	now := t.now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	start := today.AddDate(0, 0, e.bookingDelayDays(q.motif, q.returning))
	if q.from != "" {
		if d, ok := cfg.ParseDate(q.from); ok && d.After(start) {
			start = d
		}
	}

	calID := calendarID(q.practitioner)
	var out []SlotOption
	for i := 0; i < e.cfg.SearchDays && len(out) < e.cfg.MaxSlots; i++ {
		day := start.AddDate(0, 0, i)
		if cfg.IsClosedOn(day) {
			continue
		}
		free, err := e.calendar.GetAvailableSlots(ctx, calID, day, e.cfg.SlotMinutes, cfg.HoursOn(day))
		if err != nil {
			t.logger.Warn("calendar slots unavailable", "practitioner_id", q.practitioner.ID, "date", day.Format(clinic.DateLayout), "error", err)
			continue
		}

		candidates := lo.FilterMap(free, func(s calendar.Slot, _ int) (SlotOption, bool) {
			if !s.Start.After(now) {
				return SlotOption{}, false
			}
			local := s.Start.In(loc)
			switch q.preference {
			case nlu.PreferenceMorning:
				if local.Hour() >= 12 {
					return SlotOption{}, false
				}
			case nlu.PreferenceAfternoon:
				if local.Hour() < 12 {
					return SlotOption{}, false
				}
			}
			opt := SlotOption{
				Date:           local.Format(clinic.DateLayout),
				Time:           local.Format(clinic.ClockLayout),
				PractitionerID: q.practitioner.ID,
			}
			return opt, !t.cc.IsRejected(opt.Date, opt.Time)
		})
		out = append(out, lo.Slice(candidates, 0, e.cfg.MaxSlots-len(out))...)
	}
	return out
}

var (
	slotIndexPattern = regexp.MustCompile(`^(?:(?:le|la|l|option|choix|creneau|numero|n|number|slot|#)\s*)?([1-9])$`)
	ordinalWords     = map[string]int{
		"premier": 1, "premiere": 1, "first": 1,
		"deuxieme": 2, "second": 2, "seconde": 2,
		"troisieme": 3, "third": 3,
		"quatrieme": 4, "fourth": 4,
		"cinquieme": 5, "fifth": 5,
		"sixieme": 6, "sixth": 6,
	}
)

// parseSlotIndex reads "2", "le 2", "option 3" or "le premier" as a 1-based choice.
func parseSlotIndex(text string) (int, bool) {
	tokens := textnorm.Tokens(text)
	if len(tokens) == 0 || len(tokens) > 4 {
		return 0, false
	}
	folded := textnorm.Fold(text)
	if m := slotIndexPattern.FindStringSubmatch(folded); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, true
	}
	for _, tok := range tokens {
		if n, ok := ordinalWords[tok]; ok {
			return n, true
		}
	}
	return 0, false
}

// selectOfferedSlot resolves an index reply against the slots offered last.
func (e *Engine) selectOfferedSlot(ctx context.Context, t *turn) (SlotOption, bool) {
	if e.memory == nil || t.state != StateCollectingAppointmentData {
		return SlotOption{}, false
	}
	idx, ok := parseSlotIndex(t.text)
	if !ok {
		return SlotOption{}, false
	}
	recent, err := e.memory.Recent(ctx, t.conv.ID, 1)
	if err != nil {
		t.logger.Warn("decision memory unavailable", "error", err)
		return SlotOption{}, false
	}
	if len(recent) == 0 || recent[0].Kind != DecisionSlotsOffered || idx > len(recent[0].Slots) {
		return SlotOption{}, false
	}
	return recent[0].Slots[idx-1], true
}

// offerSlots proposes concrete slots for the drafted practitioner, or asks
// an open question when none are found.
func (e *Engine) offerSlots(ctx context.Context, t *turn, p clinic.Practitioner, prefix string) string {
	slots := e.suggestSlots(ctx, t, slotQuery{
		practitioner: p,
		from:         t.cc.Appointment.Date,
		preference:   t.cc.Appointment.TimePreference,
		motif:        t.cc.Appointment.Type,
		returning:    e.isReturning(ctx, t),
	})
	if len(slots) == 0 {
		if t.cc.Appointment.Date != "" {
			t.cc.AwaitingField = FieldTime
			return prefix + localize(t.lang, msgAskTime, formatDay(t.lang, t.clinic, t.cc.Appointment.Date))
		}
		t.cc.AwaitingField = FieldDate
		return prefix + localize(t.lang, msgNoSlots, p.Name)
	}

	if e.memory != nil {
		if err := e.memory.Remember(ctx, t.conv.ID, Decision{Kind: DecisionSlotsOffered, Slots: slots, At: t.now}); err != nil {
			t.logger.Warn("failed to remember offered slots", "error", err)
		}
	}
	t.cc.AwaitingField = FieldTime
	return prefix + localize(t.lang, msgOfferSlots, p.Name, formatSlots(t.lang, t.clinic, slots))
}

// isReturning reports a patient with a prior confirmed appointment.
func (e *Engine) isReturning(ctx context.Context, t *turn) bool {
	if t.patient == nil {
		return false
	}
	ok, err := e.store.HasConfirmedAppointment(ctx, t.conv.ClinicID, t.patient.ID)
	if err != nil {
		t.logger.Warn("appointment history lookup failed", "error", err)
		return false
	}
	return ok
}
