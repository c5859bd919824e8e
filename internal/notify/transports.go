package notify

import (
	"context"
	"time"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/models"
)

// Publisher is the slice of the MQTT client used for outbound notifications.
type Publisher interface {
	PublishJSON(topic string, data interface{}) error
}

// Broadcaster is the slice of the websocket hub used for the live feed.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

// MQTTNotifier hands notifications to the mail bridge subscribed on topic.
type MQTTNotifier struct {
	publisher Publisher
	topic     string
}

func NewMQTTNotifier(publisher Publisher, topic string) *MQTTNotifier {
	return &MQTTNotifier{publisher: publisher, topic: topic}
}

func (n *MQTTNotifier) Send(ctx context.Context, recipients []string, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := n.publisher.PublishJSON(n.topic, Notification{
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		return &models.ExternalServiceError{Service: "mqtt notifier", Err: err}
	}
	return nil
}

// FeedNotifier mirrors notifications onto the live feed. It cannot fail.
type FeedNotifier struct {
	hub Broadcaster
}

func NewFeedNotifier(hub Broadcaster) *FeedNotifier {
	return &FeedNotifier{hub: hub}
}

func (n *FeedNotifier) Send(ctx context.Context, recipients []string, subject, body string) error {
	n.hub.Broadcast("notification", Notification{
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
		SentAt:     time.Now().UTC(),
	})
	return nil
}

// LogNotifier writes notifications to the log; used when no broker is configured.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, recipients []string, subject, body string) error {
	n.log.Info("Notification to %v: %s\n%s", recipients, subject, body)
	return nil
}
