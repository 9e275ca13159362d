package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/sophie-assistant/internal/nlu"
)

func awaitingCardDraft() PatientDraft {
	p := readyPatient()
	p.InsuranceStep = InsuranceAwaitingCard
	return p
}

func TestInsuranceFullSequence(t *testing.T) {
	f := newFixture(t)
	f.seed(t, StateCollectingPatientData, ConversationContext{
		Patient:       awaitingCardDraft(),
		Flow:          ActionBook,
		AwaitingField: FieldInsuranceCard,
	})

	reply := f.sendMedia("", "s3://cards/vitale.jpg")
	assert.Equal(t, localize(nlu.LanguageFrench, msgInsuranceCardThanks)+" "+localize(nlu.LanguageFrench, msgAskSocialInsurance), reply)
	assert.Equal(t, InsuranceAwaitingSocialInsurance, f.reload(t).Context.Patient.InsuranceStep)

	reply = f.send("peut-être")
	assert.Equal(t, localize(nlu.LanguageFrench, msgAskSocialInsurance), reply)

	reply = f.send("oui")
	assert.Equal(t, localize(nlu.LanguageFrench, msgAskInsuranceType), reply)

	reply = f.send("mutuelle")
	assert.Equal(t, localize(nlu.LanguageFrench, msgAskBeneficiary), reply)

	reply = f.send("??")
	assert.Equal(t, localize(nlu.LanguageFrench, msgAskBeneficiary), reply)

	reply = f.send("12345678901")
	assert.Contains(t, reply, localize(nlu.LanguageFrench, msgInsuranceDone))
	assert.Contains(t, reply, "Quel est le motif de votre rendez-vous")

	conv := f.reload(t)
	assert.Equal(t, InsuranceComplete, conv.Context.Patient.InsuranceStep)
	assert.Equal(t, StateCollectingAppointmentData, conv.State)
	assert.Equal(t, FieldAppointmentType, conv.Context.AwaitingField)

	p, err := f.store.GetPatient(context.Background(), f.clinic.ID, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "s3://cards/vitale.jpg", p.InsuranceCardRef)
	require.NotNil(t, p.SocialInsurance)
	assert.True(t, *p.SocialInsurance)
	assert.Equal(t, "mutuelle", p.InsuranceType)
	assert.Equal(t, "12345678901", p.BeneficiaryNumber)
}

func TestInsuranceSkipResumesCollection(t *testing.T) {
	f := newFixture(t)
	f.seed(t, StateCollectingPatientData, ConversationContext{
		Patient:       awaitingCardDraft(),
		Flow:          ActionBook,
		AwaitingField: FieldInsuranceCard,
	})

	reply := f.send("je passe")

	assert.Contains(t, reply, localize(nlu.LanguageFrench, msgInsuranceSkipped))
	assert.Contains(t, reply, "Quel est le motif de votre rendez-vous")
	conv := f.reload(t)
	assert.Equal(t, InsuranceSkipped, conv.Context.Patient.InsuranceStep)
	assert.Equal(t, StateCollectingAppointmentData, conv.State)
}

func TestInsuranceNoSocialSecurityEndsEarly(t *testing.T) {
	f := newFixture(t)
	cc := ConversationContext{Patient: awaitingCardDraft(), Flow: ActionBook}
	cc.Patient.InsuranceStep = InsuranceAwaitingSocialInsurance
	f.seed(t, StateCollectingPatientData, cc)

	reply := f.send("non")

	assert.Contains(t, reply, localize(nlu.LanguageFrench, msgInsuranceDone))
	conv := f.reload(t)
	assert.Equal(t, InsuranceComplete, conv.Context.Patient.InsuranceStep)
	require.NotNil(t, conv.Context.Patient.SocialInsurance)
	assert.False(t, *conv.Context.Patient.SocialInsurance)
}

func TestInsuranceCardRepromptsOnUnrelatedText(t *testing.T) {
	f := newFixture(t)
	f.seed(t, StateCollectingPatientData, ConversationContext{Patient: awaitingCardDraft(), Flow: ActionBook})

	reply := f.send("d'accord je cherche")

	assert.Equal(t, localize(nlu.LanguageFrench, msgAskInsuranceCard), reply)
	assert.Equal(t, InsuranceAwaitingCard, f.reload(t).Context.Patient.InsuranceStep)
}

func TestWantsToSkip(t *testing.T) {
	assert.True(t, wantsToSkip("Plus tard svp"))
	assert.True(t, wantsToSkip("skip"))
	assert.False(t, wantsToSkip("je passerai demain"))
}
