package nlu

import (
	"regexp"
	"strings"

	"github.com/wolfman30/sophie-assistant/pkg/textnorm"
)

var emergencyPhrases = []string{
	"urgence vitale", "douleur thoracique", "douleur a la poitrine", "mal a la poitrine", "crise cardiaque",
	"avc", "je fais un malaise", "perte de connaissance", "inconscient", "ne respire plus", "du mal a respirer",
	"difficulte a respirer", "hemorragie", "saigne beaucoup", "envie de mourir", "me suicider", "overdose",
	"chest pain", "heart attack", "stroke", "can't breathe", "cannot breathe", "trouble breathing",
	"unconscious", "bleeding heavily", "suicidal", "kill myself",
}

var greetingWords = []string{
	"bonjour", "bonsoir", "salut", "coucou", "hello", "hi", "hey", "good morning", "good afternoon", "good evening",
}

var resetPhrases = []string{
	"recommencer", "on recommence", "reset", "reinitialiser", "nouvelle demande", "tout annuler", "annuler tout",
	"start over", "restart", "new request",
}

var transactionalWords = []string{
	"rdv", "rendez vous", "rendezvous", "rendez", "consultation", "reserver", "reservation", "prendre",
	"annuler", "annulation", "modifier", "deplacer", "decaler", "reporter", "changer", "dispo", "disponible",
	"disponibilite", "disponibilites", "creneau", "creneaux", "docteur", "dr", "medecin", "demain",
	"lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi", "dimanche", "matin", "apres midi", "heure",
	"appointment", "book", "booking", "schedule", "reschedule", "cancel", "available", "availability", "slot",
	"doctor", "tomorrow", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"morning", "afternoon", "mes rendez vous", "my appointments", "praticien", "praticiens",
}

var urgencyMotifs = []string{
	"urgent", "urgence", "douleur", "fievre", "infection", "blessure", "saignement", "brulure", "au plus vite",
	"des que possible", "aujourd hui", "pain", "fever", "injury", "asap", "as soon as possible", "today",
}

var affirmativePhrases = []string{
	"oui", "ouais", "ouaip", "yes", "yep", "yeah", "ok", "okay", "d accord", "daccord", "parfait", "confirme",
	"je confirme", "c est bon", "c est parfait", "ca marche", "exactement", "tout a fait", "bien sur", "volontiers",
	"sure", "correct", "confirm", "that works", "perfect",
}

var negativePhrases = []string{
	"non", "nan", "no", "nope", "pas du tout", "je ne veux pas", "ne confirme pas", "n annule pas",
	"n annulez pas", "pas ca", "pas maintenant", "not now", "don't", "do not",
}

var cancelVerbs = []string{
	"annule", "annulez", "annuler", "annule le", "annulez le", "cancel", "cancel it",
}

var courtesyWords = []string{
	"merci", "merci beaucoup", "super", "genial", "tres bien", "bien", "thanks", "thank you", "great", "cool",
}

var correctionPhrases = []string{
	"plutot", "finalement", "en fait", "changer", "modifier", "autre", "pas ce", "instead", "actually",
	"rather", "change", "another", "different",
}

var (
	timeLikePattern = regexp.MustCompile(`\b\d{1,2}\s*(h|:|heures?|am|pm)`)
	dateLikePattern = regexp.MustCompile(`\b\d{1,4}[/-]\d{1,2}([/-]\d{2,4})?\b`)
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// IsEmergency runs the keyword filter applied before any model call.
func IsEmergency(text string) bool {
	return textnorm.ContainsAny(text, emergencyPhrases)
}

// IsBareGreeting reports a message made only of greeting words and filler.
func IsBareGreeting(text string) bool {
	tokens := textnorm.Tokens(text)
	if len(tokens) == 0 || len(tokens) > 4 {
		return false
	}
	if !textnorm.ContainsAny(text, greetingWords) {
		return false
	}
	filler := map[string]bool{"sophie": true, "a": true, "vous": true, "toi": true, "there": true, "madame": true, "docteur": true, "good": true, "morning": true, "afternoon": true, "evening": true}
	for _, tok := range tokens {
		if filler[tok] {
			continue
		}
		if !textnorm.ContainsAny(tok, greetingWords) {
			return false
		}
	}
	return true
}

// IsResetRequest reports an explicit request to start over.
func IsResetRequest(text string) bool {
	return textnorm.ContainsAny(text, resetPhrases)
}

// LooksTransactional is the cheap heuristic deciding whether extraction is worth a model call.
func LooksTransactional(text string) bool {
	if textnorm.ContainsAny(text, transactionalWords) {
		return true
	}
	folded := textnorm.Fold(text)
	return timeLikePattern.MatchString(folded) || dateLikePattern.MatchString(folded) || emailPattern.MatchString(text)
}

// IsUrgentMotif reports a motif that lifts the first-visit booking delay.
func IsUrgentMotif(motif string) bool {
	return textnorm.ContainsAny(motif, urgencyMotifs)
}

// HasCorrectionSignal reports wording that revises a previous answer.
func HasCorrectionSignal(text string) bool {
	return textnorm.ContainsAny(text, correctionPhrases)
}

// ClassifyYesNo returns AFFIRMATIVE, NEGATIVE or UNKNOWN. Negation wins over assent.
func ClassifyYesNo(text string) Intent {
	switch {
	case textnorm.ContainsAny(text, negativePhrases):
		return IntentNegative
	case textnorm.ContainsAny(text, affirmativePhrases):
		return IntentAffirmative
	default:
		return IntentUnknown
	}
}

// MentionsCancel reports a cancel verb. Its meaning depends on the pending
// action: assent when a cancellation is awaiting confirmation, refusal otherwise.
func MentionsCancel(text string) bool {
	return textnorm.ContainsAny(text, cancelVerbs)
}

// IsFillerReply reports a message carrying no identity information: a yes/no,
// a greeting, a courtesy word, or only stopwords.
func IsFillerReply(text string) bool {
	if ClassifyYesNo(text) != IntentUnknown || IsBareGreeting(text) {
		return true
	}
	tokens := textnorm.Tokens(text)
	if len(tokens) == 0 {
		return true
	}
	for _, tok := range tokens {
		if stopwords[LanguageFrench][tok] || stopwords[LanguageEnglish][tok] || textnorm.ContainsAny(tok, courtesyWords) {
			continue
		}
		return false
	}
	return true
}

// GuessIntent is the deterministic classifier used when no extraction is available.
func GuessIntent(text string) Intent {
	folded := textnorm.Fold(text)
	switch {
	case IsEmergency(text):
		return IntentEmergency
	case IsBareGreeting(text):
		return IntentGreeting
	case textnorm.ContainsAny(text, []string{"annuler", "annulation", "cancel"}):
		return IntentCancelAppointment
	case textnorm.ContainsAny(text, []string{"deplacer", "decaler", "reporter", "modifier mon", "changer mon", "reschedule", "move my"}):
		return IntentModifyAppointment
	case textnorm.ContainsAny(text, []string{"mes rendez vous", "mes rdv", "my appointments"}):
		return IntentListAppointments
	case textnorm.ContainsAny(text, []string{"quels medecins", "quels praticiens", "liste des praticiens", "which doctors", "list of doctors"}):
		return IntentListPractitioners
	case textnorm.ContainsAny(text, []string{"rdv", "rendez vous", "reserver", "prendre", "appointment", "book"}):
		return IntentBookAppointment
	}
	if yn := ClassifyYesNo(text); yn != IntentUnknown {
		return yn
	}
	if strings.HasSuffix(strings.TrimSpace(folded), "?") {
		return IntentInformation
	}
	return IntentUnknown
}
