// Package events publishes preview notifications to downstream consumers.
// Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// TypeIntentPreviewed is emitted after a preview has been built.
const TypeIntentPreviewed = "intent.previewed"

// Event describes one pipeline outcome.
type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Action         string    `json:"action"`
	ChainID        int64     `json:"chain_id"`
	Success        bool      `json:"success"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Config selects and configures a publisher driver.
type Config struct {
	Driver   string
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
}

// RedisConfig configures the PUBLISH driver.
type RedisConfig struct {
	Channel string
}

// New builds the publisher named by cfg.Driver. The redis driver reuses the
// shared client and fails when none is configured.
func New(cfg Config, redisClient goredis.Cmdable) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none", "noop":
		return Noop{}, nil
	case "memory":
		return NewMemory(0), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("events driver redis requires storage.redis to be configured")
		}
		return NewRedis(redisClient, cfg.Redis.Channel), nil
	case "rabbitmq":
		return NewRabbitMQ(cfg.RabbitMQ)
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Driver)
	}
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return payload, nil
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

const defaultMemoryCapacity = 1024

// Memory keeps the most recent events in process. Used by tests and
// single-node development setups.
type Memory struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

// NewMemory creates a Memory publisher holding up to capacity events.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &Memory{capacity: capacity}
}

// Publish appends the event, evicting the oldest one when full.
func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == m.capacity {
		m.events = append(m.events[:0], m.events[1:]...)
	}
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func (m *Memory) Close() error { return nil }

const defaultRedisChannel = "wallethub:events"

// Redis publishes JSON events on a pub/sub channel.
type Redis struct {
	client  goredis.Cmdable
	channel string
}

// NewRedis creates a Redis publisher; an empty channel uses "wallethub:events".
func NewRedis(client goredis.Cmdable, channel string) *Redis {
	if strings.TrimSpace(channel) == "" {
		channel = defaultRedisChannel
	}
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Publish(ctx context.Context, event Event) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client is owned by the caller.
func (r *Redis) Close() error { return nil }
