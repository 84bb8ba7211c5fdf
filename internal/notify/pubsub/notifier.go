// Package pubsub publishes run notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

// Notifier wraps a Pub/Sub topic.
type Notifier struct {
	topic *pubsub.Topic
}

// New creates a Notifier publishing to topic.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// NewFromClient resolves topicID on client.
func NewFromClient(client *pubsub.Client, topicID string) (*Notifier, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("notify.topic_id is required")
	}
	return New(client.Topic(topicID)), nil
}

// Notify marshals the notification to JSON and waits for the server ack.
func (n *Notifier) Notify(ctx context.Context, notification catalog.Notification) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"head": notification.Head},
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Stop flushes pending publishes.
func (n *Notifier) Stop() {
	if n.topic != nil {
		n.topic.Stop()
	}
}
