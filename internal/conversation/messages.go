package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/sophie-assistant/internal/clinic"
	"github.com/wolfman30/sophie-assistant/internal/nlu"
)

// Message catalog keys.
const (
	msgGreeting             = "greeting"
	msgGreetingNamed        = "greeting_named"
	msgEmergency            = "emergency"
	msgConversationMissing  = "conversation_missing"
	msgTechnicalError       = "technical_error"
	msgAskFirstName         = "ask_first_name"
	msgAskLastName          = "ask_last_name"
	msgAskBirthDate         = "ask_birth_date"
	msgAskEmail             = "ask_email"
	msgAskInsuranceCard     = "ask_insurance_card"
	msgInsuranceCardThanks  = "insurance_card_thanks"
	msgAskSocialInsurance   = "ask_social_insurance"
	msgAskInsuranceType     = "ask_insurance_type"
	msgAskBeneficiary       = "ask_beneficiary_number"
	msgInsuranceDone        = "insurance_done"
	msgInsuranceSkipped     = "insurance_skipped"
	msgAskAppointmentType   = "ask_appointment_type"
	msgAskPractitioner      = "ask_practitioner"
	msgUnknownPractitioner  = "unknown_practitioner"
	msgAskDate              = "ask_date"
	msgAskTime              = "ask_time"
	msgOfferSlots           = "offer_slots"
	msgNoSlots              = "no_slots"
	msgClosedDay            = "closed_day"
	msgOutsideHours         = "outside_hours"
	msgTimeInPast           = "time_in_past"
	msgSlotTaken            = "slot_taken"
	msgInvalidDate          = "invalid_date"
	msgDateInPast           = "date_in_past"
	msgDateTooFar           = "date_too_far"
	msgInvalidBirthDate     = "invalid_birth_date"
	msgInvalidEmail         = "invalid_email"
	msgConfirmBooking       = "confirm_booking"
	msgConfirmCancel        = "confirm_cancel"
	msgConfirmModify        = "confirm_modify"
	msgConfirmationUnclear  = "confirmation_unclear"
	msgBooked               = "booked"
	msgCancelled            = "cancelled"
	msgRescheduled          = "rescheduled"
	msgActionAborted        = "action_aborted"
	msgNoAppointments       = "no_appointments"
	msgListAppointments     = "list_appointments"
	msgListPractitioners    = "list_practitioners"
	msgNoPractitioners      = "no_practitioners"
	msgPatientUnknown       = "patient_unknown"
)

var catalog = map[string]map[string]string{
	nlu.LanguageFrench: {
		msgGreeting:            "Bonjour, je suis Sophie, l'assistante de %s. Je peux vous aider à prendre, déplacer ou annuler un rendez-vous. Que puis-je faire pour vous ?",
		msgGreetingNamed:       "Bonjour %s, je suis Sophie, l'assistante de %s. Que puis-je faire pour vous ?",
		msgEmergency:           "Si vous pensez faire face à une urgence médicale, appelez immédiatement le 15 (SAMU) ou le 112. Je ne suis pas en mesure de gérer les urgences.",
		msgConversationMissing: "Je suis désolée, je n'ai pas pu retrouver notre conversation. Pouvez-vous renvoyer votre message dans un instant ?",
		msgTechnicalError:      "Je suis désolée, un problème technique m'empêche de finaliser votre demande. Pouvez-vous réessayer dans un instant ?",
		msgAskFirstName:        "Pour commencer, pouvez-vous m'indiquer votre prénom ?",
		msgAskLastName:         "Merci. Quel est votre nom de famille ?",
		msgAskBirthDate:        "Quelle est votre date de naissance (par exemple 1985-03-14) ?",
		msgAskEmail:            "Quelle adresse e-mail puis-je utiliser pour vous envoyer la confirmation ?",
		msgAskInsuranceCard:    "Pouvez-vous m'envoyer une photo de votre carte Vitale ou de votre carte de mutuelle ? Vous pouvez aussi répondre « passer ».",
		msgInsuranceCardThanks: "Merci, j'ai bien reçu votre carte.",
		msgAskSocialInsurance:  "Êtes-vous affilié(e) à la Sécurité sociale ? (oui / non)",
		msgAskInsuranceType:    "Quel est votre type de couverture complémentaire (mutuelle, CSS, AME...) ?",
		msgAskBeneficiary:      "Quel est votre numéro d'adhérent ou de bénéficiaire ?",
		msgInsuranceDone:       "Merci, vos informations d'assurance sont enregistrées.",
		msgInsuranceSkipped:    "Pas de souci, nous verrons cela au cabinet.",
		msgAskAppointmentType:  "Quel est le motif de votre rendez-vous%s ?",
		msgAskPractitioner:     "Avec quel praticien souhaitez-vous prendre rendez-vous%s ?",
		msgUnknownPractitioner: "Je ne trouve pas « %s » parmi nos praticiens%s. Avec qui souhaitez-vous prendre rendez-vous ?",
		msgAskDate:             "Quel jour vous conviendrait ?",
		msgAskTime:             "À quelle heure le %s ?",
		msgOfferSlots:          "Voici les prochains créneaux disponibles avec %s :\n%s\nRépondez par le numéro du créneau qui vous convient.",
		msgNoSlots:             "Je n'ai pas trouvé de créneau disponible avec %s prochainement. Quel jour vous conviendrait ?",
		msgClosedDay:           "Le cabinet est fermé le %s. Quel autre jour vous conviendrait ?",
		msgOutsideHours:        "Le %s, le cabinet est ouvert de %s à %s. Quelle heure vous conviendrait dans ces horaires ?",
		msgTimeInPast:          "Cet horaire est déjà passé. Quelle autre heure vous conviendrait ?",
		msgSlotTaken:           "Le créneau du %s n'est plus disponible.",
		msgInvalidDate:         "Je n'ai pas compris la date. Pouvez-vous la préciser ?",
		msgDateInPast:          "Cette date est déjà passée. Quel autre jour vous conviendrait ?",
		msgDateTooFar:          "Nous ne prenons pas de rendez-vous à plus d'un an. Quel autre jour vous conviendrait ?",
		msgInvalidBirthDate:    "Cette date de naissance ne semble pas valide. Pouvez-vous la donner au format AAAA-MM-JJ ?",
		msgInvalidEmail:        "Cette adresse e-mail ne semble pas valide. Pouvez-vous la vérifier ?",
		msgConfirmBooking:      "Je récapitule : %s, %s avec %s. Je confirme ce rendez-vous ? (oui / non)",
		msgConfirmCancel:       "Souhaitez-vous annuler votre rendez-vous du %s avec %s ? (oui / non)",
		msgConfirmModify:       "Je déplace votre rendez-vous avec %s au %s. C'est bien cela ? (oui / non)",
		msgConfirmationUnclear: "Je n'ai pas bien compris. Répondez « oui » pour confirmer ou « non » pour abandonner.",
		msgBooked:              "C'est noté ! Votre rendez-vous du %s avec %s est confirmé. À bientôt.",
		msgCancelled:           "Votre rendez-vous du %s a bien été annulé.",
		msgRescheduled:         "C'est fait, votre rendez-vous est déplacé au %s avec %s.",
		msgActionAborted:       "Très bien, je n'ai rien modifié. Puis-je vous aider pour autre chose ?",
		msgNoAppointments:      "Je ne trouve aucun rendez-vous à venir à votre nom.",
		msgListAppointments:    "Vos prochains rendez-vous :\n%s",
		msgListPractitioners:   "Nos praticiens :\n%s",
		msgNoPractitioners:     "Je n'ai pas la liste des praticiens. Je vous invite à contacter le cabinet.",
		msgPatientUnknown:      "Je ne trouve pas de dossier à ce numéro. Souhaitez-vous prendre un rendez-vous ?",
	},
	nlu.LanguageEnglish: {
		msgGreeting:            "Hello, I'm Sophie, the assistant at %s. I can help you book, move or cancel an appointment. How can I help?",
		msgGreetingNamed:       "Hello %s, I'm Sophie, the assistant at %s. How can I help?",
		msgEmergency:           "If you think this is a medical emergency, call 112 (or 15 for SAMU) right away. I can't handle emergencies.",
		msgConversationMissing: "I'm sorry, I couldn't find our conversation. Could you send your message again in a moment?",
		msgTechnicalError:      "I'm sorry, a technical problem prevents me from completing your request. Could you try again in a moment?",
		msgAskFirstName:        "To get started, what is your first name?",
		msgAskLastName:         "Thank you. What is your last name?",
		msgAskBirthDate:        "What is your date of birth (for example 1985-03-14)?",
		msgAskEmail:            "Which email address can I use to send you the confirmation?",
		msgAskInsuranceCard:    "Could you send a photo of your health insurance card? You can also reply \"skip\".",
		msgInsuranceCardThanks: "Thank you, I received your card.",
		msgAskSocialInsurance:  "Are you covered by French social security? (yes / no)",
		msgAskInsuranceType:    "What kind of complementary coverage do you have (mutuelle, CSS, AME...)?",
		msgAskBeneficiary:      "What is your member or beneficiary number?",
		msgInsuranceDone:       "Thank you, your insurance details are saved.",
		msgInsuranceSkipped:    "No problem, we'll sort that out at the clinic.",
		msgAskAppointmentType:  "What is the reason for your visit%s?",
		msgAskPractitioner:     "Which practitioner would you like to see%s?",
		msgUnknownPractitioner: "I can't find \"%s\" among our practitioners%s. Who would you like to see?",
		msgAskDate:             "Which day would suit you?",
		msgAskTime:             "What time on %s?",
		msgOfferSlots:          "Here are the next available slots with %s:\n%s\nReply with the number of the slot you want.",
		msgNoSlots:             "I couldn't find an available slot with %s soon. Which day would suit you?",
		msgClosedDay:           "The clinic is closed on %s. Which other day would suit you?",
		msgOutsideHours:        "On %s the clinic is open from %s to %s. What time within those hours would suit you?",
		msgTimeInPast:          "That time has already passed. What other time would suit you?",
		msgSlotTaken:           "The slot on %s is no longer available.",
		msgInvalidDate:         "I didn't understand the date. Could you say it again?",
		msgDateInPast:          "That date has already passed. Which other day would suit you?",
		msgDateTooFar:          "We don't book more than a year ahead. Which other day would suit you?",
		msgInvalidBirthDate:    "That date of birth doesn't look right. Could you give it as YYYY-MM-DD?",
		msgInvalidEmail:        "That email address doesn't look valid. Could you check it?",
		msgConfirmBooking:      "To sum up: %s, %s with %s. Shall I confirm this appointment? (yes / no)",
		msgConfirmCancel:       "Do you want to cancel your appointment on %s with %s? (yes / no)",
		msgConfirmModify:       "I'll move your appointment with %s to %s. Is that right? (yes / no)",
		msgConfirmationUnclear: "Sorry, I didn't catch that. Reply \"yes\" to confirm or \"no\" to drop it.",
		msgBooked:              "Done! Your appointment on %s with %s is confirmed. See you soon.",
		msgCancelled:           "Your appointment on %s has been cancelled.",
		msgRescheduled:         "Done, your appointment is moved to %s with %s.",
		msgActionAborted:       "All right, I haven't changed anything. Can I help with something else?",
		msgNoAppointments:      "I can't find any upcoming appointment under your name.",
		msgListAppointments:    "Your upcoming appointments:\n%s",
		msgListPractitioners:   "Our practitioners:\n%s",
		msgNoPractitioners:     "I don't have the list of practitioners. Please contact the clinic.",
		msgPatientUnknown:      "I can't find a record for this number. Would you like to book an appointment?",
	},
}

// localize renders a catalog entry, falling back to the default language.
func localize(lang, key string, args ...any) string {
	entries, ok := catalog[lang]
	if !ok {
		entries = catalog[nlu.DefaultLanguage]
	}
	tmpl, ok := entries[key]
	if !ok {
		tmpl = catalog[nlu.DefaultLanguage][key]
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

var (
	frenchWeekdays = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}
	frenchMonths   = [...]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"}
)

// formatDay renders a YYYY-MM-DD date for patients, or the raw value when unparseable.
func formatDay(lang string, cfg *clinic.Config, date string) string {
	d, ok := cfg.ParseDate(date)
	if !ok {
		return date
	}
	if lang == nlu.LanguageEnglish {
		return d.Format("Monday, January 2")
	}
	return fmt.Sprintf("%s %d %s", frenchWeekdays[d.Weekday()], d.Day(), frenchMonths[d.Month()-1])
}

// formatWhen renders a date and clock together.
func formatWhen(lang string, cfg *clinic.Config, date, clock string) string {
	if lang == nlu.LanguageEnglish {
		return fmt.Sprintf("%s at %s", formatDay(lang, cfg, date), clock)
	}
	return fmt.Sprintf("%s à %s", formatDay(lang, cfg, date), strings.Replace(clock, ":", "h", 1))
}

// formatInstant renders a stored appointment time in the clinic's zone.
func formatInstant(lang string, cfg *clinic.Config, t time.Time) string {
	local := t.In(cfg.Location())
	return formatWhen(lang, cfg, local.Format(clinic.DateLayout), local.Format(clinic.ClockLayout))
}

// formatSlots renders a numbered slot list.
func formatSlots(lang string, cfg *clinic.Config, slots []SlotOption) string {
	lines := make([]string, 0, len(slots))
	for i, s := range slots {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, formatWhen(lang, cfg, s.Date, s.Time)))
	}
	return strings.Join(lines, "\n")
}

// choiceSuffix renders " (a, b, c)" for an ask prompt, or "" for an empty list.
func choiceSuffix(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return " (" + strings.Join(options, ", ") + ")"
}
