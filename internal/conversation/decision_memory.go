package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const decisionKeyPrefix = "decisions:"

// Decision kinds remembered per conversation.
const (
	DecisionSlotsOffered = "slots_offered"
	DecisionBooked       = "booked"
	DecisionCancelled    = "cancelled"
	DecisionRescheduled  = "rescheduled"
)

// SlotOption is one concrete slot shown to the patient.
type SlotOption struct {
	Date           string `json:"date"`
	Time           string `json:"time"`
	PractitionerID string `json:"practitioner_id"`
}

// Decision is something the assistant offered or did, kept for follow-up turns.
type Decision struct {
	Kind          string       `json:"kind"`
	Slots         []SlotOption `json:"slots,omitempty"`
	AppointmentID string       `json:"appointment_id,omitempty"`
	At            time.Time    `json:"at"`
}

// DecisionMemory is a bounded, expiring, newest-first log per conversation.
type DecisionMemory interface {
	Remember(ctx context.Context, conversationID string, d Decision) error
	Recent(ctx context.Context, conversationID string, n int) ([]Decision, error)
	Forget(ctx context.Context, conversationID string) error
}

func decisionKey(conversationID string) string {
	return decisionKeyPrefix + conversationID
}

// RedisDecisionMemory keeps the log in a capped Redis list.
type RedisDecisionMemory struct {
	redis  *redis.Client
	tracer trace.Tracer
	size   int64
	ttl    time.Duration
}

func NewRedisDecisionMemory(redisClient *redis.Client, size int, ttl time.Duration) *RedisDecisionMemory {
	if redisClient == nil {
		panic("conversation: redis client cannot be nil")
	}
	if size <= 0 {
		size = 10
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDecisionMemory{
		redis:  redisClient,
		tracer: otel.Tracer("sophie.internal.conversation.decisions"),
		size:   int64(size),
		ttl:    ttl,
	}
}

func (m *RedisDecisionMemory) Remember(ctx context.Context, conversationID string, d Decision) error {
	if conversationID == "" {
		return errors.New("conversation: decision conversationID required")
	}
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("conversation: marshal decision: %w", err)
	}

	ctx, span := m.tracer.Start(ctx, "conversation.decisions.remember")
	defer span.End()

	key := decisionKey(conversationID)
	pipe := m.redis.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, m.size-1)
	pipe.Expire(ctx, key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: remember decision: %w", err)
	}
	return nil
}

func (m *RedisDecisionMemory) Recent(ctx context.Context, conversationID string, n int) ([]Decision, error) {
	ctx, span := m.tracer.Start(ctx, "conversation.decisions.recent")
	defer span.End()

	end := int64(-1)
	if n > 0 {
		end = int64(n) - 1
	}
	raw, err := m.redis.LRange(ctx, decisionKey(conversationID), 0, end).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: list decisions: %w", err)
	}

	out := make([]Decision, 0, len(raw))
	for _, item := range raw {
		var d Decision
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *RedisDecisionMemory) Forget(ctx context.Context, conversationID string) error {
	if err := m.redis.Del(ctx, decisionKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("conversation: forget decisions: %w", err)
	}
	return nil
}

// MemoryDecisionMemory is the in-process variant with the same bounds.
type MemoryDecisionMemory struct {
	mu      sync.Mutex
	entries map[string]*decisionLog
	size    int
	ttl     time.Duration
	now     func() time.Time
}

type decisionLog struct {
	items     []Decision
	expiresAt time.Time
}

func NewMemoryDecisionMemory(size int, ttl time.Duration) *MemoryDecisionMemory {
	if size <= 0 {
		size = 10
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryDecisionMemory{entries: make(map[string]*decisionLog), size: size, ttl: ttl, now: time.Now}
}

func (m *MemoryDecisionMemory) Remember(ctx context.Context, conversationID string, d Decision) error {
	if conversationID == "" {
		return errors.New("conversation: decision conversationID required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)
	if d.At.IsZero() {
		d.At = now.UTC()
	}
	log := m.entries[conversationID]
	if log == nil {
		log = &decisionLog{}
		m.entries[conversationID] = log
	}
	log.items = append([]Decision{d}, log.items...)
	if len(log.items) > m.size {
		log.items = log.items[:m.size]
	}
	log.expiresAt = now.Add(m.ttl)
	return nil
}

func (m *MemoryDecisionMemory) Recent(ctx context.Context, conversationID string, n int) ([]Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(m.now())
	log := m.entries[conversationID]
	if log == nil {
		return nil, nil
	}
	items := log.items
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	return append([]Decision(nil), items...), nil
}

func (m *MemoryDecisionMemory) Forget(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, conversationID)
	return nil
}

func (m *MemoryDecisionMemory) sweep(now time.Time) {
	for id, log := range m.entries {
		if !now.Before(log.expiresAt) {
			delete(m.entries, id)
		}
	}
}

var (
	_ DecisionMemory = (*RedisDecisionMemory)(nil)
	_ DecisionMemory = (*MemoryDecisionMemory)(nil)
)
