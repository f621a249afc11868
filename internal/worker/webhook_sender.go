package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/platform"
)

// WebhookSender relays deliveries to an HTTP endpoint, e.g. a companion
// device bridge.
type WebhookSender struct {
	client *http.Client
	url    string
	logger *zap.Logger
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(logger *zap.Logger, cfg WebhookConfig) *WebhookSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSender{
		client: &http.Client{Timeout: timeout},
		url:    cfg.URL,
		logger: logger,
	}
}

// Send posts the delivery as JSON.
func (s *WebhookSender) Send(ctx context.Context, d *platform.Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "nudged/1.0")
	req.Header.Set("X-Notification-ID", d.Identifier)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	s.logger.Debug("webhook delivered",
		zap.String("id", d.Identifier),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}

func (s *WebhookSender) Name() string { return "webhook" }
