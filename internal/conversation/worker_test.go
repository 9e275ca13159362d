package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wolfman30/sophie-assistant/internal/lock"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

type fakeTurnHandler struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    []InboundMessage
}

func (f *fakeTurnHandler) HandleInbound(ctx context.Context, msg InboundMessage) (TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return TurnResult{}, f.err
	}
	return TurnResult{ConversationID: "conv-" + msg.ChannelID, Reply: "echo: " + msg.Text, State: StateIdle}, nil
}

func (f *fakeTurnHandler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type collectingMessenger struct {
	mu      sync.Mutex
	replies []OutboundReply
}

func (c *collectingMessenger) SendReply(ctx context.Context, reply OutboundReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, reply)
	return nil
}

func (c *collectingMessenger) Replies() []OutboundReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OutboundReply(nil), c.replies...)
}

func startWorker(t *testing.T, handler TurnHandler, queue *MemoryQueue, messenger ReplyMessenger, opts ...WorkerOption) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	base := []WorkerOption{WithWorkerCount(1), WithReceiveWaitSeconds(0), WithRetryDelay(0)}
	w := NewWorker(handler, queue, messenger, logging.Discard(), append(base, opts...)...)
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Wait()
		queue.Close()
	})
}

func TestWorkerDeliversReply(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	queue := NewMemoryQueue(8)
	handler := &fakeTurnHandler{}
	messenger := &collectingMessenger{}
	publisher := NewPublisher(queue, logging.Discard())

	jobID, err := publisher.Enqueue(context.Background(), InboundMessage{ClinicID: "clinic-1", ChannelID: "+33612345678", Text: "Bonjour"})
	require.NoError(t, err)

	t.Run("process", func(t *testing.T) {
		startWorker(t, handler, queue, messenger)
		require.Eventually(t, func() bool { return len(messenger.Replies()) == 1 }, 2*time.Second, 10*time.Millisecond)
	})

	reply := messenger.Replies()[0]
	assert.Equal(t, jobID, reply.JobID)
	assert.Equal(t, "clinic-1", reply.ClinicID)
	assert.Equal(t, "+33612345678", reply.ChannelID)
	assert.Equal(t, "echo: Bonjour", reply.Body)
	assert.Equal(t, "conv-+33612345678", reply.ConversationID)
	assert.Equal(t, 1, queue.Deleted())
}

func TestWorkerRetriesFailedTurn(t *testing.T) {
	queue := NewMemoryQueue(8)
	handler := &fakeTurnHandler{failures: 1, err: lock.ErrLockNotAcquired}
	messenger := &collectingMessenger{}
	startWorker(t, handler, queue, messenger, WithMaxAttempts(3))

	_, err := NewPublisher(queue, logging.Discard()).Enqueue(context.Background(), InboundMessage{ClinicID: "clinic-1", ChannelID: "+33612345678", Text: "oui"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(messenger.Replies()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, handler.Calls())
	assert.Equal(t, 2, queue.Deleted())
}

func TestWorkerAbandonsAfterMaxAttempts(t *testing.T) {
	queue := NewMemoryQueue(8)
	handler := &fakeTurnHandler{failures: -1, err: errors.New("store unavailable")}
	messenger := &collectingMessenger{}
	startWorker(t, handler, queue, messenger, WithMaxAttempts(2))

	_, err := NewPublisher(queue, logging.Discard()).Enqueue(context.Background(), InboundMessage{ClinicID: "clinic-1", ChannelID: "+33612345678", Text: "oui"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return queue.Deleted() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, handler.Calls())
	assert.Empty(t, messenger.Replies())
}

func TestWorkerDropsUndecodableJob(t *testing.T) {
	queue := NewMemoryQueue(8)
	handler := &fakeTurnHandler{}
	startWorker(t, handler, queue, &collectingMessenger{})

	require.NoError(t, queue.Send(context.Background(), outgoingMessage{Body: "not json"}))
	require.NoError(t, queue.Send(context.Background(), outgoingMessage{Body: `{"id":"j1","message":{"text":"hi"}}`}))

	require.Eventually(t, func() bool { return queue.Deleted() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, handler.Calls())
}

func TestNewWorkerPanicsWithoutDeps(t *testing.T) {
	assert.Panics(t, func() { NewWorker(nil, NewMemoryQueue(1), nil, nil) })
	assert.Panics(t, func() { NewWorker(&fakeTurnHandler{}, nil, nil, nil) })
}

func TestWorkerOptionsClamp(t *testing.T) {
	w := NewWorker(&fakeTurnHandler{}, NewMemoryQueue(1), nil, nil,
		WithReceiveWaitSeconds(60),
		WithReceiveBatchSize(50),
		WithWorkerCount(0),
		WithMaxAttempts(-1),
	)
	assert.Equal(t, maxWaitSeconds, w.cfg.receiveWaitSecs)
	assert.Equal(t, maxReceiveBatchSize, w.cfg.receiveBatchSize)
	assert.Equal(t, defaultWorkerCount, w.cfg.workers)
	assert.Equal(t, defaultMaxAttempts, w.cfg.maxAttempts)
}
