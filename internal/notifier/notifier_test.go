package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedPublish struct {
	channel string
	message interface{}
}

type stubPublisher struct {
	published []capturedPublish
	err       error
}

func (p *stubPublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.published = append(p.published, capturedPublish{channel: channel, message: message})
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
	}
	return cmd
}

func TestPublishWrapsPayloadInEvent(t *testing.T) {
	pub := &stubPublisher{}
	n := newWithPublisher(pub, nil)

	err := n.Publish(context.Background(), "coord-1", TopicScanResult, map[string]int{"present": 3})
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "coordinator:coord-1", pub.published[0].channel)

	var event Event
	require.NoError(t, json.Unmarshal(pub.published[0].message.([]byte), &event))
	assert.Equal(t, TopicScanResult, event.Topic)
	assert.False(t, event.Timestamp.IsZero())
	payload, ok := event.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 3, payload["present"])
}

func TestPublishReturnsTransportError(t *testing.T) {
	pub := &stubPublisher{err: fmt.Errorf("connection refused")}
	n := newWithPublisher(pub, nil)

	err := n.Publish(context.Background(), "coord-1", TopicSessionStarted, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), TopicSessionStarted)
}

func TestChannelIsPerCoordinator(t *testing.T) {
	assert.Equal(t, "coordinator:a", Channel("a"))
	assert.NotEqual(t, Channel("a"), Channel("b"))
}
