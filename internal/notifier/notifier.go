package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lifecycle topics published per coordinator.
const (
	TopicSessionStarted = "session.started"
	TopicScanResult     = "scan.result"
	TopicSummaryCreated = "summary.created"
)

// publisher is the subset of the Redis client used by the notifier.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Topic     string      `json:"topic"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Notifier broadcasts session lifecycle events over Redis pub/sub. Each
// coordinator has a dedicated channel so dashboards subscribe only to their
// own sessions.
type Notifier struct {
	client publisher
	logger *zap.Logger
}

// New constructs a Notifier.
func New(client *redis.Client, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: client, logger: logger}
}

func newWithPublisher(client publisher, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: client, logger: logger}
}

// Channel returns the pub/sub channel name for a coordinator.
func Channel(coordinatorID string) string {
	return "coordinator:" + coordinatorID
}

// Publish sends one event to the coordinator's channel.
func (n *Notifier) Publish(ctx context.Context, coordinatorID, topic string, payload interface{}) error {
	event := Event{Topic: topic, Timestamp: time.Now().UTC(), Payload: payload}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, Channel(coordinatorID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
