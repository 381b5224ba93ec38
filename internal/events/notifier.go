// Package events publishes job lifecycle notifications so downstream
// consumers (the upload API, search indexers) can react to transcoding
// progress without polling the database.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// EventType identifies a lifecycle transition of a transcoding job.
type EventType string

const (
	TypeTranscodingRequested EventType = "transcoding.requested"
	TypeTranscodingCompleted EventType = "transcoding.completed"
	TypeTranscodingFailed    EventType = "transcoding.failed"
)

// Event is the payload published for each lifecycle transition.
type Event struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"jobId"`
	VideoID    string    `json:"videoId"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Notifier publishes lifecycle events. Publish failures are reported to the
// caller but never interrupt job processing.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopNotifier drops all events. Used when no broker is configured.
type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, Event) error { return nil }
func (NoopNotifier) Close() error                         { return nil }

// RedisNotifierConfig configures the Redis Streams notifier.
type RedisNotifierConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Stream       string
	MasterName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// streamClient is the slice of the go-redis API the notifier uses.
type streamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisNotifier appends events to a Redis stream via XADD.
type RedisNotifier struct {
	client streamClient
	stream string
}

// NewRedisNotifier connects to Redis and targets the configured stream.
func NewRedisNotifier(cfg RedisNotifierConfig) (*RedisNotifier, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "learnstream:transcoding"
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   2,
	})
	return &RedisNotifier{client: client, stream: stream}, nil
}

func (n *RedisNotifier) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	add := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]interface{}{"payload": string(payload)},
	})
	if err := add.Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
