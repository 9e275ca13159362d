package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// ReplyMessenger delivers assistant replies back to the channel adapter.
type ReplyMessenger interface {
	SendReply(ctx context.Context, reply OutboundReply) error
}

// OutboundReply carries what a channel adapter needs to answer the patient.
type OutboundReply struct {
	JobID          string `json:"job_id"`
	ConversationID string `json:"conversation_id"`
	ClinicID       string `json:"clinic_id"`
	ChannelID      string `json:"channel_id"`
	Body           string `json:"body"`
	State          State  `json:"state"`
}

// QueueReplyMessenger publishes replies on an outbound queue.
type QueueReplyMessenger struct {
	queue queueClient
}

func NewQueueReplyMessenger(queue queueClient) *QueueReplyMessenger {
	if queue == nil {
		panic("conversation: reply queue cannot be nil")
	}
	return &QueueReplyMessenger{queue: queue}
}

func (m *QueueReplyMessenger) SendReply(ctx context.Context, reply OutboundReply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("conversation: encode reply: %w", err)
	}
	return m.queue.Send(ctx, outgoingMessage{
		Body:    string(body),
		GroupID: reply.ClinicID + ":" + reply.ChannelID,
		DedupID: reply.JobID,
	})
}

// LogReplyMessenger only logs replies. Used when no reply queue is configured.
type LogReplyMessenger struct {
	logger *logging.Logger
}

func NewLogReplyMessenger(logger *logging.Logger) *LogReplyMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogReplyMessenger{logger: logger}
}

func (m *LogReplyMessenger) SendReply(ctx context.Context, reply OutboundReply) error {
	m.logger.Info("reply ready", "job_id", reply.JobID, "conversation_id", reply.ConversationID, "state", string(reply.State))
	return nil
}
