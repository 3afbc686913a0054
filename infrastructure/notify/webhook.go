// Package notify posts JSON payloads to customer-supplied webhook URLs.
// It backs both the per-call result callbacks and alert notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fixadev/callwatch/internal/ports"
)

const defaultTimeout = 15 * time.Second

// Webhook implements ports.Notifier over plain HTTP POST.
type Webhook struct {
	http *http.Client
}

var _ ports.Notifier = (*Webhook)(nil)

// NewWebhook builds a notifier. A zero timeout selects the default.
func NewWebhook(timeout time.Duration) *Webhook {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Webhook{http: &http.Client{Timeout: timeout}}
}

// Post sends the payload as JSON to the webhook URL. Any non-2xx status
// is an error.
func (w *Webhook) Post(ctx context.Context, webhookURL string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
