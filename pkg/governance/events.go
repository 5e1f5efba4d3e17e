package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventType names an in-process governance notification.
type EventType string

const (
	EventPenaltyApplied       EventType = "penalty_applied"
	EventAppealFiled          EventType = "appeal_filed"
	EventAppealResolved       EventType = "appeal_resolved"
	EventRecoveryCompleted    EventType = "recovery_completed"
	EventRemediationGraduated EventType = "remediation_graduated"
)

// Event is delivered to in-process observers.
type Event struct {
	Type    EventType `json:"type"`
	AgentID string    `json:"agent_id"`
	Payload any       `json:"payload,omitempty"`
}

// Handler receives events synchronously on the emitting goroutine.
// Handlers must not call back into the engine for the same agent.
type Handler func(Event)

// Emitter is a typed observer registry for in-process listeners
// (dashboards, loggers). It keeps the controller decoupled from whoever
// is watching.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// On registers a handler for one event type.
func (e *Emitter) On(t EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = append(e.handlers[t], h)
}

// OnAll registers a handler for every event type.
func (e *Emitter) OnAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers the event to matching handlers.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	matched := append([]Handler(nil), e.handlers[ev.Type]...)
	matched = append(matched, e.all...)
	e.mu.RUnlock()

	for _, h := range matched {
		h(ev)
	}
}

// Publisher is the external event-bus collaborator. Publishing is
// fire-and-forget from the engine's perspective: the engine never
// manages connections, retries, or serialization of the transport.
type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, payload any) (string, error)
}

// NopPublisher discards events. For tests and busless deployments.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, topic, eventType string, payload any) (string, error) {
	return uuid.New().String(), nil
}

// RedisPublisher publishes governance events on Redis pub/sub channels,
// one channel per topic.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher backed by Redis.
func NewRedisPublisher(addr, password string, db int) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisPublisher{client: rdb}
}

type busEnvelope struct {
	MessageID string `json:"message_id"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload"`
}

func (p *RedisPublisher) Publish(ctx context.Context, topic, eventType string, payload any) (string, error) {
	env := busEnvelope{
		MessageID: uuid.New().String(),
		EventType: eventType,
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("bus publish marshal: %w", err)
	}
	if err := p.client.Publish(ctx, topic, data).Err(); err != nil {
		return "", fmt.Errorf("bus publish: %w", err)
	}
	return env.MessageID, nil
}
