// Package dispatcher hands crawl requests from the coordinator to the
// workflow executor, over HTTP or Pub/Sub.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-dashboard/internal/brand"
)

// TokenHeader carries the shared secret the executor checks.
const TokenHeader = "X-Workflow-Token"

// HTTPConfig tunes the HTTP dispatcher.
type HTTPConfig struct {
	URL          string
	SharedSecret string
	MaxRetries   int
	// InitialInterval is the first retry delay. Zero uses 200ms.
	InitialInterval time.Duration
}

// HTTPDispatcher posts crawl requests to the executor endpoint.
type HTTPDispatcher struct {
	client *http.Client
	cfg    HTTPConfig
	logger *zap.Logger
}

// NewHTTP builds an HTTPDispatcher. A nil client uses http.DefaultClient.
func NewHTTP(client *http.Client, cfg HTTPConfig, logger *zap.Logger) (*HTTPDispatcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("dispatch url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPDispatcher{client: client, cfg: cfg, logger: logger}, nil
}

// Dispatch posts req as JSON. Transport errors and 5xx responses are retried
// up to MaxRetries times; 4xx responses fail immediately.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req brand.CrawlRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal crawl request: %w", err)
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		return struct{}{}, d.post(ctx, body)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialInterval

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(d.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Warn("dispatch attempt failed",
				zap.String("organization_id", req.OrganizationID),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("dispatch crawl request: %w", err)
	}
	return nil
}

func (d *HTTPDispatcher) post(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.cfg.SharedSecret != "" {
		httpReq.Header.Set(TokenHeader, d.cfg.SharedSecret)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("executor returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("executor rejected request: %d", resp.StatusCode))
	}
	return nil
}
