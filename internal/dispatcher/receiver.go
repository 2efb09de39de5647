package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-dashboard/internal/brand"
)

// ErrMalformedMessage marks a payload that can never be processed.
var ErrMalformedMessage = errors.New("malformed crawl message")

// Runner executes a crawl workflow to completion.
type Runner interface {
	Run(ctx context.Context, req brand.CrawlRequest) error
}

// ReceiverConfig tunes a Receiver.
type ReceiverConfig struct {
	// RunTimeout bounds each workflow run started from a message.
	RunTimeout time.Duration
}

// Receiver pulls crawl requests from a subscription and runs them.
type Receiver struct {
	subscriber *pubsub.Subscriber
	runner     Runner
	cfg        ReceiverConfig
	logger     *zap.Logger
}

// NewReceiver builds a Receiver.
func NewReceiver(subscriber *pubsub.Subscriber, runner Runner, cfg ReceiverConfig, logger *zap.Logger) *Receiver {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{subscriber: subscriber, runner: runner, cfg: cfg, logger: logger}
}

// Run blocks receiving messages until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	if r.subscriber == nil {
		return fmt.Errorf("pubsub subscriber is not configured")
	}
	err := r.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if r.Handle(ctx, msg.Data, msg.Attributes) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive crawl requests: %w", err)
	}
	return nil
}

// Handle decodes and runs one message. It reports whether the message should
// be acknowledged: malformed payloads, finished runs and runs that hit
// RunTimeout are acked, runs interrupted by shutdown are not.
func (r *Receiver) Handle(ctx context.Context, data []byte, attrs map[string]string) bool {
	ctx = otel.GetTextMapPropagator().Extract(ctx, &attributeCarrier{attrs: attrs})

	req, err := DecodeRequest(data)
	if err != nil {
		r.logger.Error("dropping crawl message", zap.Error(err))
		return true
	}
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()
	if err := r.runner.Run(runCtx, req); err != nil {
		if ctx.Err() != nil {
			r.logger.Warn("crawl interrupted, message will be redelivered",
				zap.String("organization_id", req.OrganizationID),
				zap.Error(err),
			)
			return false
		}
		r.logger.Warn("crawl finished with error",
			zap.String("organization_id", req.OrganizationID),
			zap.String("workflow_run_id", req.WorkflowRunID),
			zap.Error(err),
		)
	}
	return true
}

// DecodeRequest parses a crawl request payload.
func DecodeRequest(data []byte) (brand.CrawlRequest, error) {
	var req brand.CrawlRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return brand.CrawlRequest{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if req.OrganizationID == "" || req.WebsiteURL == "" {
		return brand.CrawlRequest{}, fmt.Errorf("%w: organizationId and websiteUrl are required", ErrMalformedMessage)
	}
	return req, nil
}
