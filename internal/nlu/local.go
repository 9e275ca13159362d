package nlu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/sophie-assistant/pkg/textnorm"
)

var (
	clockPattern    = regexp.MustCompile(`\b([01]?\d|2[0-3])\s*(?:heures?|h|:)\s*([0-5]\d)?\b`)
	meridiemPattern = regexp.MustCompile(`\b(1[0-2]|0?[1-9])(?::([0-5]\d))?\s*(am|pm)\b`)
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	slashDate       = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	phonePattern    = regexp.MustCompile(`\+?\d[\d\s.\-]{6,}\d`)
)

var weekdayNames = map[string]time.Weekday{
	"lundi": time.Monday, "mardi": time.Tuesday, "mercredi": time.Wednesday, "jeudi": time.Thursday,
	"vendredi": time.Friday, "samedi": time.Saturday, "dimanche": time.Sunday,
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday, "sunday": time.Sunday,
}

// ParseLocal pulls the entities recognizable without a model: clock times,
// explicit or relative dates, emails, phone numbers and part-of-day preference.
// now anchors relative dates and must carry the clinic's location.
func ParseLocal(text string, now time.Time) Entities {
	var e Entities
	folded := textnorm.Fold(text)

	if m := emailPattern.FindString(text); m != "" {
		e.Email = m
	}

	scrubbed := folded
	if m := isoDatePattern.FindStringSubmatch(folded); m != nil {
		e.Date = m[1]
		scrubbed = strings.Replace(scrubbed, m[0], " ", 1)
	} else if m := slashDate.FindStringSubmatch(folded); m != nil {
		if d, ok := slashToISO(m, now); ok {
			e.Date = d
			scrubbed = strings.Replace(scrubbed, m[0], " ", 1)
		}
	}
	if e.Date == "" {
		e.Date = relativeDate(folded, now)
	}

	if m := meridiemPattern.FindStringSubmatch(scrubbed); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins := 0
		if m[2] != "" {
			mins, _ = strconv.Atoi(m[2])
		}
		if m[3] == "pm" && h < 12 {
			h += 12
		}
		if m[3] == "am" && h == 12 {
			h = 0
		}
		e.Time = fmt.Sprintf("%02d:%02d", h, mins)
	} else if m := clockPattern.FindStringSubmatch(scrubbed); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins := 0
		if m[2] != "" {
			mins, _ = strconv.Atoi(m[2])
		}
		e.Time = fmt.Sprintf("%02d:%02d", h, mins)
	}

	if e.Email == "" && e.Date == "" {
		if m := phonePattern.FindString(text); m != "" {
			digits := strings.Map(func(r rune) rune {
				if r >= '0' && r <= '9' {
					return r
				}
				return -1
			}, m)
			if len(digits) >= 8 {
				e.Phone = strings.TrimSpace(m)
			}
		}
	}

	switch {
	case textnorm.ContainsAny(text, []string{"apres midi", "afternoon", "aprem"}):
		e.TimePreference = PreferenceAfternoon
	case textnorm.ContainsAny(text, []string{"matin", "morning", "matinee"}):
		e.TimePreference = PreferenceMorning
	}
	return e
}

func slashToISO(m []string, now time.Time) (string, bool) {
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year := now.Year()
	if m[3] != "" {
		year, _ = strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
	if d.Day() != day || int(d.Month()) != month {
		return "", false
	}
	if m[3] == "" && d.Before(truncateDay(now)) {
		d = d.AddDate(1, 0, 0)
	}
	return d.Format("2006-01-02"), true
}

func relativeDate(folded string, now time.Time) string {
	today := truncateDay(now)
	tokens := textnorm.Tokens(folded)
	joined := " " + strings.Join(tokens, " ") + " "
	switch {
	case strings.Contains(joined, " apres demain ") || strings.Contains(joined, " day after tomorrow "):
		return today.AddDate(0, 0, 2).Format("2006-01-02")
	case strings.Contains(joined, " demain ") || strings.Contains(joined, " tomorrow "):
		return today.AddDate(0, 0, 1).Format("2006-01-02")
	case strings.Contains(joined, " aujourd hui ") || strings.Contains(joined, " today "):
		return today.Format("2006-01-02")
	}
	for _, tok := range tokens {
		if wd, ok := weekdayNames[tok]; ok {
			delta := (int(wd) - int(today.Weekday()) + 7) % 7
			if delta == 0 {
				delta = 7
			}
			return today.AddDate(0, 0, delta).Format("2006-01-02")
		}
	}
	return ""
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
