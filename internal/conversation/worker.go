package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/sophie-assistant/internal/lock"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// TurnHandler runs one dialogue turn for an inbound message. *Engine implements it.
type TurnHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) (TurnResult, error)
}

// Worker consumes inbound message jobs and publishes the replies.
type Worker struct {
	handler   TurnHandler
	queue     queueClient
	retries   *Publisher
	messenger ReplyMessenger
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	maxAttempts      int
	retryDelay       time.Duration
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	defaultMaxAttempts   = 3
	defaultRetryDelay    = 2 * time.Second
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		cfg.receiveWaitSecs = min(seconds, maxWaitSeconds)
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		cfg.receiveBatchSize = min(size, maxReceiveBatchSize)
	}
}

// WithMaxAttempts bounds how often a job is retried after a failed turn.
func WithMaxAttempts(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the delay before a retried job is redelivered.
func WithRetryDelay(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d >= 0 {
			cfg.retryDelay = d
		}
	}
}

func NewWorker(handler TurnHandler, queue queueClient, messenger ReplyMessenger, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: turn handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if messenger == nil {
		messenger = NewLogReplyMessenger(logger)
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		maxAttempts:      defaultMaxAttempts,
		retryDelay:       defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		handler:   handler,
		queue:     queue,
		retries:   NewPublisher(queue, logger),
		messenger: messenger,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches the consumer goroutines. They stop when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable conversation job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}
	logger := w.logger.With("job_id", job.ID, "clinic_id", job.Message.ClinicID, "attempt", job.Attempt)

	result, err := w.handler.HandleInbound(ctx, job.Message)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.retry(ctx, logger, job, err)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	reply := OutboundReply{
		JobID:          job.ID,
		ConversationID: result.ConversationID,
		ClinicID:       job.Message.ClinicID,
		ChannelID:      job.Message.ChannelID,
		Body:           result.Reply,
		State:          result.State,
	}
	if err := w.messenger.SendReply(ctx, reply); err != nil {
		logger.Error("failed to deliver reply", "error", err, "conversation_id", result.ConversationID)
	}
	logger.Info("conversation job processed", "conversation_id", result.ConversationID, "state", string(result.State))
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) retry(ctx context.Context, logger *logging.Logger, job inboundJob, cause error) {
	if job.Attempt+1 >= w.cfg.maxAttempts {
		logger.Error("conversation job abandoned", "error", cause)
		return
	}
	delay := w.cfg.retryDelay
	if !errors.Is(cause, lock.ErrLockNotAcquired) {
		delay *= 2
	}
	logger.Warn("conversation job failed, retrying", "error", cause, "delay", delay)
	if err := w.retries.retry(ctx, job, delay); err != nil {
		logger.Error("failed to re-enqueue conversation job", "error", err)
	}
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}
