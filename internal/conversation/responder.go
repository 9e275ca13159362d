package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/sophie-assistant/internal/llm"
	"github.com/wolfman30/sophie-assistant/internal/observability/metrics"
	"github.com/wolfman30/sophie-assistant/internal/validation"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

const responderSystemPrompt = `You are Sophie, the text assistant of a medical clinic.
Answer in the patient's language (%s), in two or three short sentences, warm and professional.
Only state facts that appear in the CLINIC FACTS block. If the answer is not there, say you don't know and suggest contacting the clinic.
Never describe parking, floors, access, decoration or equipment unless the facts state it. Never give medical advice.
You can help the patient book, move or cancel an appointment.`

// ReplyRequest is what the responder may ground a generated reply on.
type ReplyRequest struct {
	ClinicID       string
	ConversationID string
	Text           string
	Language       string
	Facts          string
	ClinicPhone    string
	History        []Message
	// Candidate is a reply already proposed upstream, validated before any generation.
	Candidate string
}

// ReplyAuditor records guardrail decisions. *compliance.AuditService implements it.
type ReplyAuditor interface {
	LogReplyRejected(ctx context.Context, clinicID, conversationID, userMessage, reply, topic string, violations []string) error
	LogFallback(ctx context.Context, clinicID, conversationID, reason string) error
}

// ResponderOption configures optional responder collaborators.
type ResponderOption func(*Responder)

// WithReplyAuditor records rejected replies and fallbacks.
func WithReplyAuditor(a ReplyAuditor) ResponderOption {
	return func(r *Responder) { r.auditor = a }
}

// Responder produces validated free-text replies: generate, validate, regenerate
// up to the configured ceiling, then fall back to a deterministic answer.
type Responder struct {
	client      llm.Client
	model       string
	validator   *validation.ResponseValidator
	maxAttempts int
	logger      *logging.Logger
	metrics     *metrics.DialogueMetrics
	auditor     ReplyAuditor
}

func NewResponder(client llm.Client, model string, maxAttempts int, logger *logging.Logger, m *metrics.DialogueMetrics, opts ...ResponderOption) *Responder {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Responder{
		client:      client,
		model:       model,
		validator:   validation.NewResponseValidator(),
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     m,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reply never returns an empty string.
func (r *Responder) Reply(ctx context.Context, req ReplyRequest) string {
	rc := validation.ResponseContext{Source: req.Facts, ClinicPhone: req.ClinicPhone, Language: req.Language}
	lastTopic := ""

	if strings.TrimSpace(req.Candidate) != "" {
		res := r.validator.Validate(req.Candidate, rc)
		if res.Valid {
			return res.Text
		}
		lastTopic = r.reject(ctx, req, req.Candidate, res)
	}

	if r.client == nil {
		r.metrics.ObserveFallback("no_model")
		return validation.Fallback(lastTopic, rc)
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		resp, err := r.client.Complete(ctx, r.buildRequest(req))
		if err != nil {
			r.logger.Warn("responder generation failed", "conversation_id", req.ConversationID, "attempt", attempt, "error", err)
			r.fallback(ctx, req, "model_error")
			return validation.Fallback(lastTopic, rc)
		}
		res := r.validator.Validate(resp.Text, rc)
		if res.Valid {
			return res.Text
		}
		lastTopic = r.reject(ctx, req, resp.Text, res)
	}

	r.fallback(ctx, req, "validator")
	return validation.Fallback(lastTopic, rc)
}

func (r *Responder) reject(ctx context.Context, req ReplyRequest, text string, res validation.ResponseResult) string {
	reasons := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		reasons = append(reasons, v.Reason+":"+v.Match)
		r.metrics.ObserveHallucination(v.Topic)
	}
	r.logger.Warn("generated reply rejected",
		"conversation_id", req.ConversationID,
		"rejected_text", text,
		"violations", strings.Join(reasons, ","),
	)
	topic := ""
	if len(res.Violations) > 0 {
		topic = res.Violations[0].Topic
	}
	if r.auditor != nil {
		if err := r.auditor.LogReplyRejected(ctx, req.ClinicID, req.ConversationID, req.Text, text, topic, reasons); err != nil {
			r.logger.Warn("failed to audit rejected reply", "conversation_id", req.ConversationID, "error", err)
		}
	}
	return topic
}

func (r *Responder) fallback(ctx context.Context, req ReplyRequest, reason string) {
	r.metrics.ObserveFallback(reason)
	if r.auditor == nil {
		return
	}
	if err := r.auditor.LogFallback(ctx, req.ClinicID, req.ConversationID, reason); err != nil {
		r.logger.Warn("failed to audit fallback", "conversation_id", req.ConversationID, "error", err)
	}
}

func (r *Responder) buildRequest(req ReplyRequest) llm.Request {
	system := []string{
		fmt.Sprintf(responderSystemPrompt, req.Language),
		"CLINIC FACTS:\n" + req.Facts,
	}
	msgs := make([]llm.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		role := llm.RoleUser
		if m.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Content != req.Text {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Text})
	}
	return llm.Request{
		Model:       r.model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   300,
		Temperature: 0.3,
	}
}
