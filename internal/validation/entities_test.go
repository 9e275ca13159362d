package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/sophie-assistant/internal/clinic"
	"github.com/wolfman30/sophie-assistant/internal/nlu"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

func testContext(t *testing.T) EntityContext {
	t.Helper()
	cfg := clinic.DefaultConfig("c1")
	cfg.Practitioners = []clinic.Practitioner{{ID: "p1", Name: "Dr Martin"}, {ID: "p2", Name: "Dr Claire Lefèvre"}}
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return EntityContext{Clinic: cfg, Now: time.Date(2025, 3, 5, 11, 0, 0, 0, loc)} // Wednesday
}

func TestDateBoundaries(t *testing.T) {
	v := NewEntityValidator("FR", logging.Discard())
	vc := testContext(t)
	tomorrow := vc.Now.AddDate(0, 0, 1).Format(clinic.DateLayout)

	tests := []struct {
		date  string
		valid bool
		code  string
	}{
		{"2020-01-01", false, CodeInPast},
		{"2099-01-01", false, CodeTooFar},
		{tomorrow, true, ""},
		{"2025-03-05", true, ""},
		{"05/03/2025", false, CodeInvalidFormat},
		{"2025-02-30", false, CodeInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			res := v.Validate(nlu.Entities{Date: tt.date}, vc)
			assert.Equal(t, tt.valid, res.Valid)
			if tt.valid {
				assert.Equal(t, tt.date, res.Corrected.Date)
				return
			}
			assert.Empty(t, res.Corrected.Date, "invalid dates are dropped, never guessed")
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.code, res.Errors[0].Code)
		})
	}
}

func TestTimeNormalization(t *testing.T) {
	tests := map[string]string{
		"14:00": "14:00",
		"9:30":  "09:30",
		"14h":   "14:00",
		"14h30": "14:30",
		"9 h":   "09:00",
	}
	for in, want := range tests {
		got, ok := NormalizeTime(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"25:00", "14", "2pm", "14:5"} {
		_, ok := NormalizeTime(bad)
		assert.False(t, ok, bad)
	}
}

func TestScheduleConflictOnSunday(t *testing.T) {
	v := NewEntityValidator("FR", logging.Discard())
	vc := testContext(t)

	for _, clock := range []string{"00:00", "10:00", "15:30"} {
		res := v.Validate(nlu.Entities{Date: "2025-03-09", Time: clock}, vc)
		assert.False(t, res.Valid, clock)
		assert.Equal(t, clinic.ConflictClosedDay, res.Conflict, clock)
		assert.True(t, res.HasError("schedule"))
		assert.Equal(t, "2025-03-09", res.Corrected.Date, "conflicts are flagged, the engine decides")
	}
}

func TestScheduleConflictUsesCurrentContext(t *testing.T) {
	v := NewEntityValidator("FR", logging.Discard())
	vc := testContext(t)
	vc.CurrentDate = "2025-03-07" // Friday, closes 17:00

	res := v.Validate(nlu.Entities{Time: "17:30"}, vc)
	assert.Equal(t, clinic.ConflictOutsideHours, res.Conflict)

	res = v.Validate(nlu.Entities{Time: "16h"}, vc)
	assert.True(t, res.Valid)
	assert.Equal(t, "16:00", res.Corrected.Time)
}

func TestEmailPhoneBirthDate(t *testing.T) {
	v := NewEntityValidator("FR", logging.Discard())
	vc := testContext(t)

	res := v.Validate(nlu.Entities{Email: " Marie.Durand@Example.FR ", Phone: "06 12-34 56 78", BirthDate: "1985-06-15"}, vc)
	assert.True(t, res.Valid)
	assert.Equal(t, "marie.durand@example.fr", res.Corrected.Email)
	assert.Equal(t, "+33612345678", res.Corrected.Phone)
	assert.Equal(t, "1985-06-15", res.Corrected.BirthDate)

	res = v.Validate(nlu.Entities{Email: "marie@", Phone: "12 34", BirthDate: "1890-01-01"}, vc)
	assert.False(t, res.Valid)
	assert.Empty(t, res.Corrected.Email)
	assert.Empty(t, res.Corrected.Phone)
	assert.Empty(t, res.Corrected.BirthDate)
	assert.Len(t, res.Errors, 3)

	res = v.Validate(nlu.Entities{BirthDate: "2024-12-01"}, vc)
	assert.False(t, res.Valid, "under one year old is implausible")
	res = v.Validate(nlu.Entities{BirthDate: "15/06/1985"}, vc)
	assert.False(t, res.Valid)
}

func TestPhoneKeepsUnrecognizedButWellFormedNumbers(t *testing.T) {
	v := NewEntityValidator("FR", logging.Discard())
	phone, ok := v.NormalizePhone("+999 1234 5678")
	assert.True(t, ok)
	assert.Equal(t, "+99912345678", phone)
}

func TestPractitionerMatching(t *testing.T) {
	v := NewEntityValidator("FR", logging.Discard())
	vc := testContext(t)

	res := v.Validate(nlu.Entities{Practitioner: "docteur lefevre"}, vc)
	assert.True(t, res.Valid)
	assert.Equal(t, "Dr Claire Lefèvre", res.Corrected.Practitioner)

	res = v.Validate(nlu.Entities{Practitioner: "Dr House"}, vc)
	assert.True(t, res.Valid, "a roster miss is not a rejection")
	assert.Equal(t, "Dr House", res.Corrected.Practitioner)
}

func TestNamesWithDigitsAreDropped(t *testing.T) {
	v := NewEntityValidator("FR", logging.Discard())
	res := v.Validate(nlu.Entities{FirstName: "  Marie  ", LastName: "Dur4nd"}, testContext(t))
	assert.Equal(t, "Marie", res.Corrected.FirstName)
	assert.Empty(t, res.Corrected.LastName)
	assert.True(t, res.HasError("last_name"))
}
