package clinic

import (
	"strings"

	"github.com/agext/levenshtein"
	"github.com/wolfman30/sophie-assistant/pkg/textnorm"
)

// Practitioner is a bookable member of the clinic staff.
type Practitioner struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Specialty  string `json:"specialty,omitempty"`
	CalendarID string `json:"calendar_id"`
}

var honorifics = map[string]bool{
	"dr": true, "docteur": true, "doctor": true, "doc": true,
	"pr": true, "professeur": true, "prof": true,
	"mme": true, "madame": true, "m": true, "monsieur": true, "mr": true, "mrs": true, "ms": true,
}

func nameTokens(name string) []string {
	var out []string
	for _, tok := range textnorm.Tokens(name) {
		if honorifics[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// MatchPractitioner resolves a free-text name against the roster.
// Containment in either direction wins; otherwise a token within one edit
// of a roster token of at least four letters is accepted.
func (c *Config) MatchPractitioner(name string) (Practitioner, bool) {
	query := strings.Join(nameTokens(name), " ")
	if query == "" || c == nil {
		return Practitioner{}, false
	}

	for _, p := range c.Practitioners {
		full := strings.Join(nameTokens(p.Name), " ")
		if full == "" {
			continue
		}
		if strings.Contains(full, query) || strings.Contains(query, full) {
			return p, true
		}
	}

	queryTokens := strings.Fields(query)
	for _, p := range c.Practitioners {
		for _, rt := range nameTokens(p.Name) {
			if len(rt) < 4 {
				continue
			}
			for _, qt := range queryTokens {
				if levenshtein.Distance(qt, rt, nil) <= 1 {
					return p, true
				}
			}
		}
	}
	return Practitioner{}, false
}

// PractitionerByID looks up a roster entry.
func (c *Config) PractitionerByID(id string) (Practitioner, bool) {
	for _, p := range c.Practitioners {
		if p.ID == id {
			return p, true
		}
	}
	return Practitioner{}, false
}
