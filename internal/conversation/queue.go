package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

type queueClient interface {
	Send(ctx context.Context, msg outgoingMessage) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// outgoingMessage is one body to enqueue. GroupID keeps messages of one
// sender ordered on FIFO queues; Delay postpones delivery of a retry.
type outgoingMessage struct {
	Body    string
	GroupID string
	DedupID string
	Delay   time.Duration
}

// inboundJob is the queued form of an InboundMessage.
type inboundJob struct {
	ID         string         `json:"id"`
	Message    InboundMessage `json:"message"`
	Attempt    int            `json:"attempt"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// turnKey identifies the sender; it is both the lock key and the FIFO group.
func (m InboundMessage) turnKey() string {
	return m.ClinicID + ":" + m.ChannelID
}

func encodeJob(job inboundJob) (inboundJob, outgoingMessage, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return inboundJob{}, outgoingMessage{}, fmt.Errorf("conversation: failed to encode job: %w", err)
	}
	return job, outgoingMessage{
		Body:    string(body),
		GroupID: job.Message.turnKey(),
		DedupID: fmt.Sprintf("%s-%d", job.ID, job.Attempt),
	}, nil
}

func decodeJob(body string) (inboundJob, error) {
	var job inboundJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return inboundJob{}, fmt.Errorf("conversation: failed to decode job: %w", err)
	}
	if job.Message.ClinicID == "" || job.Message.ChannelID == "" {
		return inboundJob{}, errors.New("conversation: job without clinic or channel")
	}
	return job, nil
}

// Publisher enqueues inbound messages for the conversation worker.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Enqueue returns the job id the reply will carry.
func (p *Publisher) Enqueue(ctx context.Context, msg InboundMessage) (string, error) {
	job, out, err := encodeJob(inboundJob{Message: msg})
	if err != nil {
		return "", err
	}
	if err := p.queue.Send(ctx, out); err != nil {
		return "", fmt.Errorf("conversation: enqueue: %w", err)
	}
	p.logger.Debug("inbound message enqueued", "job_id", job.ID, "clinic_id", msg.ClinicID)
	return job.ID, nil
}

// retry re-enqueues a job with its attempt counter bumped.
func (p *Publisher) retry(ctx context.Context, job inboundJob, delay time.Duration) error {
	job.Attempt++
	_, out, err := encodeJob(job)
	if err != nil {
		return err
	}
	out.Delay = delay
	return p.queue.Send(ctx, out)
}
