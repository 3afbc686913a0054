// Package recordings calls the audio service that copies a customer's
// recording into durable storage and reports its duration.
package recordings

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

const defaultTimeout = 2 * time.Minute

// Config carries the audio service endpoint and credentials.
type Config struct {
	BaseURL string        `validate:"required,url"`
	APIKey  string        `validate:"required"`
	Timeout time.Duration `validate:"gte=0"`
}

// Client implements ports.RecordingStore against the HTTP audio service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ ports.RecordingStore = (*Client)(nil)

// NewClient builds a recording client from config.
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

type storeRequest struct {
	CallID    string `json:"callId"`
	SourceURL string `json:"sourceUrl"`
}

type storeResponse struct {
	StoredURL       string  `json:"storedUrl"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Store copies the recording at sourceURL into durable storage under the
// call's id and returns the stored URL and duration.
func (c *Client) Store(ctx context.Context, callID, sourceURL string) (ports.StoredRecording, error) {
	var resp storeResponse
	err := c.post(ctx, "/recordings/store", storeRequest{CallID: callID, SourceURL: sourceURL}, &resp)
	if err != nil {
		return ports.StoredRecording{}, fmt.Errorf("storing recording for call %s: %w", callID, err)
	}
	return ports.StoredRecording{URL: resp.StoredURL, DurationSeconds: resp.DurationSeconds}, nil
}

// Duration probes the recording at sourceURL without storing it.
func (c *Client) Duration(ctx context.Context, sourceURL string) (float64, error) {
	var resp storeResponse
	err := c.post(ctx, "/recordings/duration", storeRequest{SourceURL: sourceURL}, &resp)
	if err != nil {
		return 0, fmt.Errorf("probing recording duration: %w", err)
	}
	return resp.DurationSeconds, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("audio service returned %d: %s", resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
