package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/brand-dashboard/internal/brand"
)

// Message attribute names.
const (
	AttrOrganizationID = "organization_id"
	AttrWorkflowRunID  = "workflow_run_id"
)

// MessagePublisher publishes one message and waits for the server id.
type MessagePublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
}

// TopicPublisher adapts a *pubsub.Publisher to MessagePublisher.
type TopicPublisher struct {
	publisher *pubsub.Publisher
}

// NewTopicPublisher wraps publisher.
func NewTopicPublisher(publisher *pubsub.Publisher) *TopicPublisher {
	return &TopicPublisher{publisher: publisher}
}

// Publish sends msg and blocks until it is acknowledged by the server.
func (p *TopicPublisher) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	return p.publisher.Publish(ctx, msg).Get(ctx)
}

// Stop flushes pending messages.
func (p *TopicPublisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
}

// PubSubDispatcher publishes crawl requests to a topic. Delivery is
// at-least-once; the executor tolerates redelivery through the tenant lock
// and run id.
type PubSubDispatcher struct {
	publisher MessagePublisher
}

// NewPubSub builds a PubSubDispatcher.
func NewPubSub(publisher MessagePublisher) *PubSubDispatcher {
	return &PubSubDispatcher{publisher: publisher}
}

// Dispatch marshals req and publishes it with trace context attached.
func (d *PubSubDispatcher) Dispatch(ctx context.Context, req brand.CrawlRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal crawl request: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrOrganizationID: req.OrganizationID,
			AttrWorkflowRunID:  req.WorkflowRunID,
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	if _, err := d.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish crawl request: %w", err)
	}
	return nil
}

// attributeCarrier implements propagation.TextMapCarrier for Pub/Sub
// attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
