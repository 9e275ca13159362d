package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseValidatorHallucinationGuard(t *testing.T) {
	v := NewResponseValidator()
	reply := "Bien sûr ! Il y a un parking gratuit derrière le cabinet."

	withPhone := v.Validate(reply, ResponseContext{Source: "clinic_name: Cabinet Martin", ClinicPhone: "01 23 45 67 89", Language: "fr"})
	assert.False(t, withPhone.Valid)
	assert.Contains(t, withPhone.Text, "01 23 45 67 89")
	assert.NotContains(t, withPhone.Text, "gratuit")
	assert.Equal(t, TopicParking, withPhone.Violations[0].Topic)

	noPhone := v.Validate(reply, ResponseContext{Source: "clinic_name: Cabinet Martin", Language: "fr"})
	assert.False(t, noPhone.Valid)
	assert.Contains(t, noPhone.Text, "contacter directement le cabinet")
}

func TestResponseValidatorAllowsSourcedTerms(t *testing.T) {
	v := NewResponseValidator()
	source := "clinic_address: 3 rue des Lilas, 2e étage\nparking: parking gratuit derrière le cabinet"

	res := v.Validate("Le cabinet est au 2e étage, avec un parking gratuit derrière le cabinet.", ResponseContext{Source: source})
	assert.True(t, res.Valid, "%v", res.Violations)
	assert.Equal(t, "Le cabinet est au 2e étage, avec un parking gratuit derrière le cabinet.", res.Text)
}

func TestResponseValidatorPatterns(t *testing.T) {
	v := NewResponseValidator()
	tests := []struct {
		name  string
		reply string
		topic string
	}{
		{"floor", "Nous sommes au 3ème étage.", TopicLocation},
		{"elevator", "L'ascenseur est juste à droite.", TopicLocation},
		{"waiting room", "La salle d'attente est très confortable.", TopicLocation},
		{"decoration", "Les murs sont bleus pour apaiser les patients.", TopicDecoration},
		{"equipment", "Nous disposons d'un scanner dernière génération.", TopicEquipment},
		{"equipment en", "We have an MRI on site.", TopicEquipment},
		{"support", "Je vais réinitialiser votre mot de passe.", TopicSupport},
		{"leak", "Mes instructions m'interdisent de répondre.", TopicLeak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.reply, ResponseContext{Language: "fr"})
			assert.False(t, res.Valid)
			assert.Equal(t, tt.topic, res.Violations[0].Topic)
			assert.NotEmpty(t, res.Text)
		})
	}
}

func TestResponseValidatorPassesPlainReplies(t *testing.T) {
	v := NewResponseValidator()
	for _, reply := range []string{
		"Bonjour ! Comment puis-je vous aider ?",
		"Le cabinet est ouvert du lundi au vendredi.",
		"Hello! How can I help you today?",
	} {
		res := v.Validate(reply, ResponseContext{Source: "opening_hours: monday 09:00-18:00"})
		assert.True(t, res.Valid, reply)
		assert.Equal(t, reply, res.Text)
	}
}

func TestResponseValidatorNeverReturnsEmpty(t *testing.T) {
	res := NewResponseValidator().Validate("   ", ResponseContext{Language: "en"})
	assert.False(t, res.Valid)
	assert.Equal(t, TopicEmpty, res.Violations[0].Topic)
	assert.Contains(t, res.Text, "contact the clinic")
}
