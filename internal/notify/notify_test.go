package notify

import (
	"context"
	"errors"
	"testing"

	"CalibrationMonitorAPI/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	topic   string
	payload interface{}
	err     error
}

func (p *fakePublisher) PublishJSON(topic string, data interface{}) error {
	p.topic = topic
	p.payload = data
	return p.err
}

type fakeHub struct {
	messages []string
}

func (h *fakeHub) Broadcast(msgType string, payload interface{}) {
	h.messages = append(h.messages, msgType)
}

func TestMQTTNotifierPublishes(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, "qa/notifications")

	require.NoError(t, n.Send(context.Background(), []string{"a@x"}, "subject", "body"))
	assert.Equal(t, "qa/notifications", pub.topic)

	msg, ok := pub.payload.(Notification)
	require.True(t, ok)
	assert.Equal(t, []string{"a@x"}, msg.Recipients)
	assert.Equal(t, "subject", msg.Subject)
}

func TestMQTTNotifierWrapsFailure(t *testing.T) {
	n := NewMQTTNotifier(&fakePublisher{err: errors.New("not connected to broker")}, "t")

	err := n.Send(context.Background(), []string{"a@x"}, "s", "b")
	var ext *models.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "mqtt notifier", ext.Service)
}

func TestMultiJoinsFailures(t *testing.T) {
	hub := &fakeHub{}
	failing := NotifierFunc(func(ctx context.Context, recipients []string, subject, body string) error {
		return errors.New("boom")
	})

	err := Multi{NewFeedNotifier(hub), failing}.Send(context.Background(), nil, "s", "b")
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, []string{"notification"}, hub.messages)

	assert.NoError(t, Multi{NewFeedNotifier(hub)}.Send(context.Background(), nil, "s", "b"))
}
