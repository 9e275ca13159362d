package bootstrap

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/sophie-assistant/internal/config"
	"github.com/wolfman30/sophie-assistant/internal/conversation"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// Pipeline is the asynchronous inbound path: the publisher used by the HTTP
// handler and the worker that drains the same queue.
type Pipeline struct {
	Publisher *conversation.Publisher
	Worker    *conversation.Worker
	// InProcess is true when the queue lives in memory, so the worker must run
	// inside the API process.
	InProcess bool

	closers []func()
}

// Close releases the in-memory queue, if any. Stop the worker first.
func (p *Pipeline) Close() {
	if p == nil {
		return
	}
	for _, c := range p.closers {
		c()
	}
	p.closers = nil
}

// BuildPipeline wires the inbound queue. It returns nil when neither the
// memory queue nor CONVERSATION_QUEUE_URL is configured; the API then
// answers turns synchronously.
func BuildPipeline(cfg *appconfig.Config, awsCfg aws.Config, turns conversation.TurnHandler, logger *logging.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if turns == nil {
		return nil, errors.New("bootstrap: turn handler is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	messenger := BuildReplyMessenger(cfg, awsCfg, logger)
	workerOpts := []conversation.WorkerOption{conversation.WithWorkerCount(cfg.WorkerCount)}

	if cfg.UseMemoryQueue {
		queue := conversation.NewMemoryQueue(256)
		logger.Info("using in-memory conversation queue", "workers", cfg.WorkerCount)
		return &Pipeline{
			Publisher: conversation.NewPublisher(queue, logger),
			Worker:    conversation.NewWorker(turns, queue, messenger, logger, workerOpts...),
			InProcess: true,
			closers:   []func(){queue.Close},
		}, nil
	}
	if cfg.ConversationQueueURL == "" {
		return nil, nil
	}

	queue := conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ConversationQueueURL)
	logger.Info("using sqs conversation queue", "queue_url", cfg.ConversationQueueURL)
	return &Pipeline{
		Publisher: conversation.NewPublisher(queue, logger),
		Worker:    conversation.NewWorker(turns, queue, messenger, logger, workerOpts...),
	}, nil
}

// BuildReplyMessenger publishes replies to REPLY_QUEUE_URL when set, or logs them.
func BuildReplyMessenger(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) conversation.ReplyMessenger {
	if cfg.ReplyQueueURL == "" {
		return conversation.NewLogReplyMessenger(logger)
	}
	return conversation.NewQueueReplyMessenger(conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ReplyQueueURL))
}

// RunWorker starts the pipeline worker and blocks until ctx is cancelled and
// every in-flight job has finished.
func RunWorker(ctx context.Context, p *Pipeline) {
	if p == nil || p.Worker == nil {
		return
	}
	p.Worker.Start(ctx)
	<-ctx.Done()
	p.Worker.Wait()
}
