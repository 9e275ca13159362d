package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wolfman30/sophie-assistant/pkg/textnorm"
)

// Topics a reply may make unsourced claims about.
const (
	TopicParking    = "parking"
	TopicLocation   = "location"
	TopicDecoration = "decoration"
	TopicEquipment  = "equipment"
	TopicSupport    = "tech_support"
	TopicLeak       = "leak"
	TopicEmpty      = "empty"
)

// Violation is one reason a reply was refused.
type Violation struct {
	Topic  string
	Reason string
	Match  string
}

// ResponseResult is the outcome of validating a candidate reply.
// Text is the reply to send: the original when valid, a grounded fallback otherwise.
type ResponseResult struct {
	Valid      bool
	Violations []Violation
	Text       string
}

// ResponseContext is the structured context the reply was generated from.
type ResponseContext struct {
	Source      string
	ClinicPhone string
	Language    string
}

// claimPattern matches on folded text. A claim is allowed when any of
// sourcedBy appears in the folded source context.
type claimPattern struct {
	re        *regexp.Regexp
	topic     string
	reason    string
	sourcedBy []string
}

var claimPatterns = []claimPattern{
	{regexp.MustCompile(`\b(parking|stationnement|se garer|garer votre|place de parc|parking lot|car park|park (your car|nearby|behind|in front))\b`), TopicParking, "claim:parking", []string{"parking", "stationnement"}},
	{regexp.MustCompile(`\b(\d+(er|e|eme|st|nd|rd|th)? (etage|floor)|rez de chaussee|ground floor|au sous sol|basement)\b`), TopicLocation, "claim:floor", []string{"etage", "floor", "rez de chaussee"}},
	{regexp.MustCompile(`\b(ascenseur|elevator|lift) (est|is|disponible|available|situe|located)`), TopicLocation, "claim:elevator", []string{"ascenseur", "elevator"}},
	{regexp.MustCompile(`\b(derriere|a cote de|en face de|au dessus de|au coin de|behind|next to|opposite|across from|around the corner) (le|la|l|du|de la|the) ?(cabinet|clinique|batiment|pharmacie|gare|clinic|building|pharmacy|station)`), TopicLocation, "claim:relative_position", []string{"derriere", "a cote", "en face", "behind", "next to", "opposite"}},
	{regexp.MustCompile(`\b(murs?|couleurs?|decoration|deco|walls?|colou?rs?|decor) .{0,40}(pour|afin de|car|parce que|because|to make|so that|designed to) .{0,40}(apais|calm|detend|relax|rassur|reassur|serein)`), TopicDecoration, "claim:decoration_rationale", nil},
	{regexp.MustCompile(`\b(nous (disposons|sommes equipes|avons) d?[eu]?s? ?(un|une|des)? ?(scanner|irm|echographe|radiographie|laser|appareil|equipement)|we (have|are equipped with) (an?|the)? ?(mri|scanner|ct|ultrasound|x ray|laser|equipment))`), TopicEquipment, "claim:equipment", nil},
	{regexp.MustCompile(`\b(je (vais|peux) (reinitialiser|reparer|resoudre|corriger) (votre|le|la) (compte|mot de passe|application|probleme technique|bug)|i (will|can) (reset|fix|repair|resolve) (your|the) (account|password|app|application|technical issue|bug)|support technique (va|vous) (rappel|contact))`), TopicSupport, "claim:tech_support_promise", nil},
	{regexp.MustCompile(`\b(mes instructions|mon prompt|my (system )?prompt|my instructions)\b`), TopicLeak, "leak:instructions_disclosure", nil},
	{regexp.MustCompile(`\b(api[ _]?key|secret[ _]?key|access[ _]?token)\b`), TopicLeak, "leak:credential", nil},
}

// requiresSource terms may only appear when the same term is in the source context.
var requiresSource = []struct {
	term  string
	topic string
}{
	{"parking", TopicParking},
	{"stationnement", TopicParking},
	{"gratuit", TopicParking},
	{"payant", TopicParking},
	{"free parking", TopicParking},
	{"paid parking", TopicParking},
	{"etage", TopicLocation},
	{"floor", TopicLocation},
	{"ascenseur", TopicLocation},
	{"elevator", TopicLocation},
	{"salle d attente", TopicLocation},
	{"waiting room", TopicLocation},
	{"derriere", TopicLocation},
	{"en face", TopicLocation},
	{"a cote", TopicLocation},
	{"behind", TopicLocation},
	{"next to", TopicLocation},
	{"opposite", TopicLocation},
}

// ResponseValidator refuses replies carrying claims that are not in the context given to the model.
type ResponseValidator struct{}

func NewResponseValidator() *ResponseValidator {
	return &ResponseValidator{}
}

// Validate never returns an empty Text.
func (v *ResponseValidator) Validate(reply string, rc ResponseContext) ResponseResult {
	if strings.TrimSpace(reply) == "" {
		violation := Violation{Topic: TopicEmpty, Reason: "empty_reply"}
		return ResponseResult{Violations: []Violation{violation}, Text: Fallback("", rc)}
	}

	text := " " + strings.Join(textnorm.Tokens(reply), " ") + " "
	source := " " + strings.Join(textnorm.Tokens(rc.Source), " ") + " "

	var violations []Violation
	seen := map[string]bool{}
	add := func(vl Violation) {
		if seen[vl.Reason+vl.Match] {
			return
		}
		seen[vl.Reason+vl.Match] = true
		violations = append(violations, vl)
	}

	for _, p := range claimPatterns {
		m := p.re.FindString(text)
		if m == "" || sourced(source, p.sourcedBy) {
			continue
		}
		add(Violation{Topic: p.topic, Reason: p.reason, Match: strings.TrimSpace(m)})
	}

	for _, rs := range requiresSource {
		needle := " " + rs.term + " "
		if strings.Contains(text, needle) && !strings.Contains(source, needle) {
			add(Violation{Topic: rs.topic, Reason: "unsourced_term", Match: rs.term})
		}
	}

	if len(violations) == 0 {
		return ResponseResult{Valid: true, Text: reply}
	}
	return ResponseResult{Violations: violations, Text: Fallback(violations[0].Topic, rc)}
}

func sourced(source string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(source, " "+t+" ") {
			return true
		}
	}
	return false
}

// Fallback returns the deterministic reply for a refused topic.
func Fallback(topic string, rc ResponseContext) string {
	english := rc.Language == "en"
	phone := strings.TrimSpace(rc.ClinicPhone)

	var subject string
	switch topic {
	case TopicParking:
		subject = pick(english, "access and parking", "l'accès et le stationnement")
	case TopicLocation:
		subject = pick(english, "directions to the clinic", "l'accès au cabinet")
	case TopicDecoration, TopicEquipment:
		subject = pick(english, "the clinic's facilities", "les installations du cabinet")
	case TopicSupport:
		subject = pick(english, "technical questions", "les questions techniques")
	}

	switch {
	case subject != "" && phone != "":
		return fmt.Sprintf(pick(english,
			"I don't have verified information about %s. Please call the clinic at %s.",
			"Je n'ai pas d'information vérifiée sur %s. Je vous invite à contacter le cabinet au %s."), subject, phone)
	case subject != "":
		return fmt.Sprintf(pick(english,
			"I don't have verified information about %s. Please contact the clinic directly.",
			"Je n'ai pas d'information vérifiée sur %s. Je vous invite à contacter directement le cabinet."), subject)
	case phone != "":
		return fmt.Sprintf(pick(english,
			"I can't answer that precisely. Please call the clinic at %s. I can also help you book, move or cancel an appointment.",
			"Je ne peux pas vous répondre précisément. Je vous invite à contacter le cabinet au %s. Je peux aussi vous aider à prendre, déplacer ou annuler un rendez-vous."), phone)
	default:
		return pick(english,
			"I can't answer that precisely. Please contact the clinic directly. I can also help you book, move or cancel an appointment.",
			"Je ne peux pas vous répondre précisément. Je vous invite à contacter directement le cabinet. Je peux aussi vous aider à prendre, déplacer ou annuler un rendez-vous.")
	}
}

func pick(english bool, en, fr string) string {
	if english {
		return en
	}
	return fr
}
