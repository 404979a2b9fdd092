// Package pubsub implements a Google Cloud Pub/Sub notifier.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

// Publisher is the part of *pubsub.Publisher the notifier uses.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Notifier wraps a Pub/Sub topic publisher.
type Notifier struct {
	publisher Publisher
}

// New creates a Notifier for the provided topic publisher.
func New(publisher Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// Notify marshals the event to JSON and publishes it to the topic. Trace
// context and the run ID travel as message attributes.
func (n *Notifier) Notify(ctx context.Context, event snapshot.PublishedEvent) (string, error) {
	if n.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	msg, err := newMessage(ctx, event)
	if err != nil {
		return "", err
	}
	result := n.publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func newMessage(ctx context.Context, event snapshot.PublishedEvent) (*pubsub.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{Data: data}
	msg.Attributes = map[string]string{"run_id": event.RunID}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	return msg, nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
