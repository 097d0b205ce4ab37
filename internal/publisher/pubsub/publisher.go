// Package pubsub mirrors pipeline records onto a Google Cloud Pub/Sub topic.
package pubsub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"

	"github.com/JakeFAU/urlfetch/internal/pipeline"
)

// Message attribute keys.
const (
	AttrURL   = "url"
	AttrType  = "content_type"
	AttrRunID = "run_id"
)

// Publisher publishes one message per record and waits for the server ack.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	runID  string
}

// New wraps an existing topic. The caller keeps ownership of the client.
func New(topic *pubsub.Topic, runID string) *Publisher {
	return &Publisher{topic: topic, runID: runID}
}

// Open dials Pub/Sub and returns a Publisher for projectID/topicID. Close
// releases the client.
func Open(ctx context.Context, projectID, topicID, runID string, opts ...option.ClientOption) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init: %w", err)
	}
	return &Publisher{client: client, topic: client.Topic(topicID), runID: runID}, nil
}

// Name identifies the mirror in logs and metrics.
func (p *Publisher) Name() string {
	return "pubsub"
}

// Mirror marshals rec to JSON and publishes it to the topic.
func (p *Publisher) Mirror(ctx context.Context, rec pipeline.Record) error {
	if p == nil || p.topic == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrURL:  rec.URL,
			AttrType: string(rec.Content.Type),
		},
	}
	if p.runID != "" {
		msg.Attributes[AttrRunID] = p.runID
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client if Open created it.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

func marshalRecord(rec pipeline.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
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
