package compliance

import "regexp"

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// French social insurance number (NIR), with or without spaces, optional key.
	nirRe   = regexp.MustCompile(`\b[12][\s.]?\d{2}[\s.]?\d{2}[\s.]?(?:\d{2}|2[AB])[\s.]?\d{3}[\s.]?\d{3}(?:[\s.]?\d{2})?\b`)
	phoneRe = regexp.MustCompile(`(?:\+33[\s.]?|\b0)[1-9](?:[\s.]?\d{2}){4}\b|\+\d{10,14}\b`)
	longRe  = regexp.MustCompile(`\b\d{9,}\b`)
)

// Redact replaces emails, phone numbers, social insurance numbers and other
// long identifiers with placeholders. Names are kept.
func Redact(text string) string {
	if text == "" {
		return ""
	}
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = nirRe.ReplaceAllString(text, "[NIR]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	text = longRe.ReplaceAllString(text, "[ID]")
	return text
}
