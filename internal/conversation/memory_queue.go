package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a queueClient backed by a buffered channel, for local runs
// and tests. Delayed sends are delivered by a timer.
type MemoryQueue struct {
	ch chan queueMessage

	mu      sync.Mutex
	deleted map[string]bool
	timers  []*time.Timer
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch:      make(chan queueMessage, buffer),
		deleted: make(map[string]bool),
	}
}

// Send enqueues a message or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, out outgoingMessage) error {
	msg := queueMessage{
		ID:            uuid.NewString(),
		Body:          out.Body,
		ReceiptHandle: uuid.NewString(),
	}
	if out.Delay > 0 {
		q.mu.Lock()
		q.timers = append(q.timers, time.AfterFunc(out.Delay, func() {
			select {
			case q.ch <- msg:
			default:
			}
		}))
		q.mu.Unlock()
		return nil
	}

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case msg := <-q.ch:
		messages := []queueMessage{msg}
		for len(messages) < maxMessages {
			select {
			case next := <-q.ch:
				messages = append(messages, next)
			default:
				return messages, nil
			}
		}
		return messages, nil
	}
}

// Delete records the acknowledgement; memory messages are never redelivered.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted[receiptHandle] = true
	return nil
}

// Deleted reports how many messages were acknowledged.
func (q *MemoryQueue) Deleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deleted)
}

// Close stops pending delayed deliveries.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.timers {
		t.Stop()
	}
	q.timers = nil
}
