package nlu

import (
	"github.com/wolfman30/sophie-assistant/pkg/textnorm"
)

const (
	LanguageFrench  = "fr"
	LanguageEnglish = "en"
)

// DefaultLanguage is used until a conversation has a stored preference.
const DefaultLanguage = LanguageFrench

var stopwords = map[string]map[string]bool{
	LanguageFrench: set("je", "j", "tu", "vous", "il", "elle", "nous", "le", "la", "les", "un", "une", "des", "de",
		"du", "et", "est", "suis", "pour", "avec", "pas", "ne", "mon", "ma", "mes", "bonjour", "merci", "oui", "non",
		"voudrais", "veux", "rendez", "demain", "aujourd", "hui", "matin", "apres", "midi", "au", "aux", "ce", "cette",
		"qui", "que", "quoi", "quand", "svp", "sil", "plait", "avez", "ai", "fait", "docteur", "salut", "bonsoir"),
	LanguageEnglish: set("i", "you", "he", "she", "we", "the", "a", "an", "of", "and", "is", "am", "are", "for",
		"with", "not", "my", "me", "hello", "hi", "thanks", "thank", "yes", "no", "would", "like", "want",
		"appointment", "tomorrow", "today", "morning", "afternoon", "to", "in", "on", "at", "this", "that",
		"who", "what", "when", "please", "have", "do", "can", "could", "book", "doctor", "hey"),
}

func set(words ...string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}

// DetectLanguage scores stopword hits per language and returns "" when undecided.
func DetectLanguage(text string) string {
	frScore, enScore := 0, 0
	for _, tok := range textnorm.Tokens(text) {
		if stopwords[LanguageFrench][tok] {
			frScore++
		}
		if stopwords[LanguageEnglish][tok] {
			enScore++
		}
	}
	switch {
	case frScore > enScore:
		return LanguageFrench
	case enScore > frScore:
		return LanguageEnglish
	default:
		return ""
	}
}

// IsSupportedLanguage reports whether replies exist for lang.
func IsSupportedLanguage(lang string) bool {
	return lang == LanguageFrench || lang == LanguageEnglish
}

// LanguageSwitch carries what ResolveLanguage needs to know about the turn.
type LanguageSwitch struct {
	Stored         string
	Detected       string
	Intent         Intent
	TokenCount     int
	CollectingData bool
}

// MinTokensForSwitch is the message length under which a stored language is never overridden.
const MinTokensForSwitch = 5

// ResolveLanguage keeps the stored language unless the new one is backed by a
// strong intent in a substantial message outside data collection.
func ResolveLanguage(in LanguageSwitch) string {
	stored := in.Stored
	if !IsSupportedLanguage(stored) {
		if IsSupportedLanguage(in.Detected) {
			return in.Detected
		}
		return DefaultLanguage
	}
	if !IsSupportedLanguage(in.Detected) || in.Detected == stored {
		return stored
	}
	if in.Intent.IsStrong() && in.TokenCount >= MinTokensForSwitch && !in.CollectingData {
		return in.Detected
	}
	return stored
}
