// Package billing reports observed call minutes to the metering
// service. The pipeline treats billing as best-effort, so failures here
// are logged by the caller rather than failing the call.
package billing

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

const defaultTimeout = 30 * time.Second

// Config carries the metering service endpoint and credentials.
type Config struct {
	BaseURL string        `validate:"required,url"`
	APIKey  string        `validate:"required"`
	Timeout time.Duration `validate:"gte=0"`
}

// Client implements ports.BillingService against the HTTP metering
// service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ ports.BillingService = (*Client)(nil)

// NewClient builds a billing client from config.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type accrueRequest struct {
	OwnerID string `json:"ownerId"`
	Minutes int    `json:"minutes"`
}

// AccrueMinutes credits the owner's usage meter with the given number of
// observed call minutes.
func (c *Client) AccrueMinutes(ctx context.Context, ownerID string, minutes int) error {
	body, err := json.Marshal(accrueRequest{OwnerID: ownerID, Minutes: minutes})
	if err != nil {
		return fmt.Errorf("encoding billing request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/usage/minutes", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building billing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling billing service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("billing service returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
