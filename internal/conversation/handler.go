package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// TranscriptReader is the read side of the store used by the transcript endpoint.
type TranscriptReader interface {
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// Handler wires HTTP requests to the dialogue engine.
type Handler struct {
	turns     TurnHandler
	store     TranscriptReader
	publisher *Publisher
	logger    *logging.Logger
}

// NewHandler creates a conversation handler. When publisher is set, inbound
// messages are queued and answered asynchronously.
func NewHandler(turns TurnHandler, store TranscriptReader, publisher *Publisher, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		turns:     turns,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Routes mounts the conversation endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/clinics/{clinicID}/messages", h.Message)
	r.Get("/conversations/{conversationID}/messages", h.Transcript)
}

type messageRequest struct {
	ChannelID    string `json:"channel_id"`
	DisplayPhone string `json:"display_phone"`
	ClinicName   string `json:"clinic_name"`
	Text         string `json:"text"`
	MediaRef     string `json:"media_ref"`
}

type acceptedResponse struct {
	JobID string `json:"job_id"`
}

type messageView struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	MediaRef  string    `json:"media_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type transcriptResponse struct {
	ConversationID string        `json:"conversation_id"`
	State          State         `json:"state"`
	Language       string        `json:"language"`
	Messages       []messageView `json:"messages"`
}

// Message handles POST /clinics/{clinicID}/messages.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode message request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	if req.ChannelID == "" || (strings.TrimSpace(req.Text) == "" && req.MediaRef == "") {
		http.Error(w, "channel_id and text or media_ref are required", http.StatusBadRequest)
		return
	}

	msg := InboundMessage{
		ClinicID:     chi.URLParam(r, "clinicID"),
		ChannelID:    req.ChannelID,
		DisplayPhone: req.DisplayPhone,
		ClinicName:   req.ClinicName,
		Text:         req.Text,
		MediaRef:     req.MediaRef,
	}

	if h.publisher != nil {
		jobID, err := h.publisher.Enqueue(r.Context(), msg)
		if err != nil {
			h.logger.Error("failed to enqueue message", "error", err, "clinic_id", msg.ClinicID)
			http.Error(w, "Failed to accept message", http.StatusServiceUnavailable)
			return
		}
		h.writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: jobID})
		return
	}

	result, err := h.turns.HandleInbound(r.Context(), msg)
	if err != nil {
		h.logger.Error("failed to process message", "error", err, "clinic_id", msg.ClinicID)
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Transcript handles GET /conversations/{conversationID}/messages.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load conversation", "error", err, "conversation_id", id)
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}
	msgs, err := h.store.ListMessages(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("failed to list messages", "error", err, "conversation_id", id)
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}

	resp := transcriptResponse{
		ConversationID: conv.ID,
		State:          conv.State,
		Language:       conv.Language,
		Messages:       make([]messageView, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageView{ID: m.ID, Role: m.Role, Content: m.Content, MediaRef: m.MediaRef, CreatedAt: m.CreatedAt})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
