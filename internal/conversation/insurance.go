package conversation

import (
	"context"
	"regexp"
	"strings"

	"github.com/wolfman30/sophie-assistant/internal/nlu"
	"github.com/wolfman30/sophie-assistant/pkg/textnorm"
)

var (
	skipPhrases       = []string{"passer", "je passe", "plus tard", "pas de carte", "pas maintenant", "skip", "later", "no card", "je ne sais pas", "i don't know"}
	beneficiaryFormat = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 \-]{3,29}$`)
)

func wantsToSkip(text string) bool {
	return textnorm.ContainsAny(text, skipPhrases)
}

// handleInsurance advances the insurance sub-dialogue. It runs whenever a step
// is active, whatever the conversation state, and hands back to field
// collection once the sub-dialogue ends.
func (e *Engine) handleInsurance(ctx context.Context, t *turn) string {
	p := &t.cc.Patient
	t.logger.Debug("insurance step", "step", string(p.InsuranceStep), "has_media", t.mediaRef != "")

	switch p.InsuranceStep {
	case InsuranceAwaitingCard:
		switch {
		case t.mediaRef != "":
			p.InsuranceCardRef = t.mediaRef
			p.InsuranceStep = InsuranceAwaitingSocialInsurance
			e.savePatient(ctx, t)
			return localize(t.lang, msgInsuranceCardThanks) + " " + localize(t.lang, msgAskSocialInsurance)
		case wantsToSkip(t.text) || nlu.ClassifyYesNo(t.text) == nlu.IntentNegative:
			p.InsuranceStep = InsuranceSkipped
			return e.resumeAfterInsurance(ctx, t, localize(t.lang, msgInsuranceSkipped))
		default:
			return localize(t.lang, msgAskInsuranceCard)
		}

	case InsuranceAwaitingSocialInsurance:
		switch nlu.ClassifyYesNo(t.text) {
		case nlu.IntentAffirmative:
			yes := true
			p.SocialInsurance = &yes
			p.InsuranceStep = InsuranceAwaitingType
			e.savePatient(ctx, t)
			return localize(t.lang, msgAskInsuranceType)
		case nlu.IntentNegative:
			no := false
			p.SocialInsurance = &no
			p.InsuranceStep = InsuranceComplete
			e.savePatient(ctx, t)
			return e.resumeAfterInsurance(ctx, t, localize(t.lang, msgInsuranceDone))
		default:
			return localize(t.lang, msgAskSocialInsurance)
		}

	case InsuranceAwaitingType:
		if wantsToSkip(t.text) || nlu.ClassifyYesNo(t.text) == nlu.IntentNegative {
			p.InsuranceStep = InsuranceComplete
			return e.resumeAfterInsurance(ctx, t, localize(t.lang, msgInsuranceDone))
		}
		kind := strings.Join(strings.Fields(t.text), " ")
		if kind == "" || len([]rune(kind)) > 60 {
			return localize(t.lang, msgAskInsuranceType)
		}
		p.InsuranceType = kind
		p.InsuranceStep = InsuranceAwaitingBeneficiaryNumber
		e.savePatient(ctx, t)
		return localize(t.lang, msgAskBeneficiary)

	case InsuranceAwaitingBeneficiaryNumber:
		if wantsToSkip(t.text) {
			p.InsuranceStep = InsuranceComplete
			return e.resumeAfterInsurance(ctx, t, localize(t.lang, msgInsuranceDone))
		}
		number := strings.TrimSpace(t.text)
		if !beneficiaryFormat.MatchString(number) || !strings.ContainsAny(number, "0123456789") {
			return localize(t.lang, msgAskBeneficiary)
		}
		p.BeneficiaryNumber = number
		p.InsuranceStep = InsuranceComplete
		e.savePatient(ctx, t)
		return e.resumeAfterInsurance(ctx, t, localize(t.lang, msgInsuranceDone))
	}
	return e.resumeAfterInsurance(ctx, t, "")
}

// resumeAfterInsurance continues the interrupted flow, or just acknowledges
// when the flow lapsed while the sub-dialogue was pending.
func (e *Engine) resumeAfterInsurance(ctx context.Context, t *turn, ack string) string {
	if t.cc.Flow == "" && !t.state.IsCollecting() {
		if ack == "" {
			return e.generate(ctx, t)
		}
		return ack
	}
	if t.cc.Flow == "" {
		t.cc.Flow = ActionBook
	}
	next := e.collect(ctx, t)
	if ack == "" {
		return next
	}
	return ack + "\n" + next
}
