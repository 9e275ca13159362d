package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/sophie-assistant/internal/llm"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// ExtractRequest is everything the extractor may look at for one utterance.
type ExtractRequest struct {
	Text          string
	Language      string
	State         string
	AwaitingField string
	Known         map[string]string
	Practitioners []string
	Now           time.Time
}

// EntityExtractor turns text into a structured guess. A nil result means
// "no extraction available" and is never an error for the caller.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, req ExtractRequest) *Extraction
}

// LLMExtractor implements EntityExtractor with a JSON-mode prompt.
type LLMExtractor struct {
	client llm.Client
	model  string
	logger *logging.Logger
}

func NewLLMExtractor(client llm.Client, model string, logger *logging.Logger) *LLMExtractor {
	if client == nil {
		panic("nlu: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMExtractor{client: client, model: model, logger: logger}
}

const extractionPrompt = `You extract booking information for a medical clinic assistant.
Reply with ONE JSON object and nothing else:
{"detected_language":"fr|en","intent":"BOOK_APPOINTMENT|MODIFY_APPOINTMENT|CANCEL_APPOINTMENT|INFORMATION|LIST_APPOINTMENTS|LIST_PRACTITIONERS|EMERGENCY|GREETING|AFFIRMATIVE|NEGATIVE|UNKNOWN",
 "confidence":0.0-1.0,
 "entities":{"first_name":"","last_name":"","birth_date":"YYYY-MM-DD","email":"","phone":"","appointment_type":"","date":"YYYY-MM-DD","time":"HH:MM","time_preference":"MORNING|AFTERNOON","practitioner":""},
 "needs_backend_action":false,
 "response_message":""}
Rules:
- Only fill an entity the patient actually stated in THIS message. Leave the others empty. Never guess.
- Resolve relative dates ("demain", "lundi prochain") against today's date given below.
- Times are 24h HH:MM ("14h" -> "14:00", "2pm" -> "14:00").
- practitioner: copy the name as written by the patient.
- response_message: a short reply in the patient's language, or empty.`

func (x *LLMExtractor) ExtractEntities(ctx context.Context, req ExtractRequest) *Extraction {
	if strings.TrimSpace(req.Text) == "" {
		return nil
	}

	var facts strings.Builder
	fmt.Fprintf(&facts, "today: %s (%s)\n", req.Now.Format("2006-01-02"), strings.ToLower(req.Now.Weekday().String()))
	fmt.Fprintf(&facts, "conversation_language: %s\n", req.Language)
	fmt.Fprintf(&facts, "conversation_state: %s\n", req.State)
	if req.AwaitingField != "" {
		fmt.Fprintf(&facts, "assistant_asked_for: %s\n", req.AwaitingField)
	}
	if len(req.Practitioners) > 0 {
		fmt.Fprintf(&facts, "practitioners: %s\n", strings.Join(req.Practitioners, ", "))
	}
	keys := make([]string, 0, len(req.Known))
	for k := range req.Known {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&facts, "known_%s: %s\n", k, req.Known[k])
	}

	resp, err := x.client.Complete(ctx, llm.Request{
		Model:       x.model,
		System:      []string{extractionPrompt, facts.String()},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: req.Text}},
		MaxTokens:   400,
		Temperature: 0,
	})
	if err != nil {
		x.logger.Warn("entity extraction failed", "error", err)
		return nil
	}

	extraction, err := ParseExtraction(resp.Text)
	if err != nil {
		x.logger.Warn("entity extraction unparseable", "error", err, "raw", resp.Text)
		return nil
	}
	return extraction
}

// ParseExtraction decodes model output into an Extraction, normalizing enums and confidence.
func ParseExtraction(raw string) (*Extraction, error) {
	var payload struct {
		DetectedLanguage   string          `json:"detected_language"`
		Intent             string          `json:"intent"`
		Confidence         float64         `json:"confidence"`
		Entities           json.RawMessage `json:"entities"`
		NeedsBackendAction bool            `json:"needs_backend_action"`
		ResponseMessage    string          `json:"response_message"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSONObject(raw)), &payload); err != nil {
		return nil, fmt.Errorf("nlu: decode extraction: %w", err)
	}

	var fields map[string]any
	if len(payload.Entities) > 0 && string(payload.Entities) != "null" {
		if err := json.Unmarshal(payload.Entities, &fields); err != nil {
			return nil, fmt.Errorf("nlu: decode entities: %w", err)
		}
	}
	str := func(key string) string {
		v, ok := fields[key]
		if !ok || v == nil {
			return ""
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if strings.EqualFold(s, "null") {
			return ""
		}
		return s
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	lang := strings.ToLower(strings.TrimSpace(payload.DetectedLanguage))
	if !IsSupportedLanguage(lang) {
		lang = ""
	}

	return &Extraction{
		DetectedLanguage: lang,
		Intent:           ParseIntent(payload.Intent),
		Confidence:       confidence,
		Entities: Entities{
			FirstName:       str("first_name"),
			LastName:        str("last_name"),
			BirthDate:       str("birth_date"),
			Email:           str("email"),
			Phone:           str("phone"),
			AppointmentType: str("appointment_type"),
			Date:            str("date"),
			Time:            str("time"),
			TimePreference:  ParseTimePreference(str("time_preference")),
			Practitioner:    str("practitioner"),
		},
		NeedsBackendAction: payload.NeedsBackendAction,
		ResponseMessage:    strings.TrimSpace(payload.ResponseMessage),
	}, nil
}
