package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "docteur benoit leveque", Fold("  Docteur  Benoît Lévêque "))
	assert.Equal(t, "", Fold("   "))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"rdv", "a", "14h", "svp"}, Tokens("RDV à 14h, svp!"))
}

func TestContainsAny(t *testing.T) {
	tests := []struct {
		text    string
		phrases []string
		want    bool
	}{
		{"J'ai une douleur thoracique", []string{"douleur thoracique"}, true},
		{"Bonjour!", []string{"bonjour"}, true},
		{"bonjournée", []string{"bonjour"}, false},
		{"je veux un rendez-vous", []string{"rendez vous"}, true},
		{"merci", nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsAny(tt.text, tt.phrases), tt.text)
	}
}
