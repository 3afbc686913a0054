// Package transcribe calls the external transcription service that
// turns a stereo call recording into diarized segments with latency and
// interruption intervals.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fixadev/callwatch/internal/domain"
	"github.com/fixadev/callwatch/internal/ports"
)

const defaultTimeout = 5 * time.Minute

// Config carries the transcription service endpoint and credentials.
type Config struct {
	BaseURL string        `validate:"required,url"`
	APIKey  string        `validate:"required"`
	Timeout time.Duration `validate:"gte=0"`
}

// Client implements ports.Transcriber against the HTTP transcription
// service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ ports.Transcriber = (*Client)(nil)

// NewClient builds a transcription client from config.
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

type transcribeRequest struct {
	StereoAudioURL string `json:"stereo_audio_url"`
	Language       string `json:"language,omitempty"`
}

type transcribeSegment struct {
	Role  string  `json:"role"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type transcribeInterval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text,omitempty"`
}

type transcribeResponse struct {
	Segments      []transcribeSegment  `json:"segments"`
	Latencies     []transcribeInterval `json:"latencyBlocks"`
	Interruptions []transcribeInterval `json:"interruptions"`
}

// Transcribe sends the recording URL to the service and maps the
// response into domain segments. The service labels channels "user" and
// "agent"; the user channel maps to the caller role.
func (c *Client) Transcribe(ctx context.Context, audioURL, language string) (ports.Transcription, error) {
	body, err := json.Marshal(transcribeRequest{StereoAudioURL: audioURL, Language: language})
	if err != nil {
		return ports.Transcription{}, fmt.Errorf("encoding transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe-deepgram", bytes.NewReader(body))
	if err != nil {
		return ports.Transcription{}, fmt.Errorf("building transcription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.Transcription{}, fmt.Errorf("calling transcription service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ports.Transcription{}, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, snippet)
	}

	var decoded transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ports.Transcription{}, fmt.Errorf("decoding transcription response: %w", err)
	}
	return mapTranscription(decoded), nil
}

func mapTranscription(resp transcribeResponse) ports.Transcription {
	out := ports.Transcription{}
	for _, seg := range resp.Segments {
		role := domain.RoleAgent
		if seg.Role == "user" {
			role = domain.RoleCaller
		}
		out.Segments = append(out.Segments, domain.TranscriptSegment{
			ID:               uuid.NewString(),
			Role:             role,
			Text:             seg.Text,
			SecondsFromStart: seg.Start,
			Duration:         seg.End - seg.Start,
		})
	}
	for _, block := range resp.Latencies {
		out.Latencies = append(out.Latencies, domain.LatencyInterval{
			ID:               uuid.NewString(),
			SecondsFromStart: block.Start,
			Duration:         block.End - block.Start,
		})
	}
	for _, interruption := range resp.Interruptions {
		out.Interruptions = append(out.Interruptions, domain.InterruptionInterval{
			ID:               uuid.NewString(),
			SecondsFromStart: interruption.Start,
			Duration:         interruption.End - interruption.Start,
			Text:             interruption.Text,
		})
	}
	return out
}
