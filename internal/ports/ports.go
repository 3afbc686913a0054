// Package ports defines the interfaces that separate the analysis core
// from its infrastructure collaborators. Implementations live under
// infrastructure/ and internal/storage/; tests substitute in-memory fakes.
package ports

import (
	"context"
	"time"

	"github.com/fixadev/callwatch/internal/domain"
)

// LLMClient is the language-model collaborator used for relevance
// filtering and transcript grading. Implementations handle provider
// details, retries, rate limiting, and timeouts; callers are responsible
// for parsing and validating the returned text.
type LLMClient interface {
	// Complete sends a prompt and returns the model's raw text response.
	// Options carry provider-specific parameters such as "temperature"
	// and "max_tokens".
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// GetModel returns the configured model identifier, for logging.
	GetModel() string
}

// Transcription is the speech-to-text collaborator's response for one
// dual-channel recording. All three lists may be empty.
type Transcription struct {
	Segments      []domain.TranscriptSegment
	Interruptions []domain.InterruptionInterval
	Latencies     []domain.LatencyInterval
}

// Transcriber converts a dual-channel recording into timed transcript
// segments plus interruption and response-latency intervals.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL, language string) (Transcription, error)
}

// StoredRecording is the durable-storage collaborator's response after
// relocating a recording.
type StoredRecording struct {
	URL             string
	DurationSeconds float64
}

// RecordingStore relocates call recordings to durable storage and reports
// their duration.
type RecordingStore interface {
	// Store copies the recording at sourceURL into durable storage under
	// the given call id.
	Store(ctx context.Context, callID, sourceURL string) (StoredRecording, error)

	// Duration probes the recording's length without relocating it, for
	// calls that opt out of storage.
	Duration(ctx context.Context, sourceURL string) (float64, error)
}

// Message is one queue delivery. Ack is an opaque handle the transport
// needs to acknowledge the message.
type Message struct {
	Body []byte
	Ack  any
}

// Queue is the at-least-once message transport feeding the pipeline.
// Unacknowledged messages are redelivered by the transport.
type Queue interface {
	// Receive blocks until a message is available or the context ends.
	Receive(ctx context.Context) (Message, error)

	// Acknowledge marks a message as fully processed. Only call this
	// after the pipeline has completed for the message's call.
	Acknowledge(ctx context.Context, msg Message) error

	// Send enqueues a new message body.
	Send(ctx context.Context, body []byte) error
}

// BillingService accrues metered usage. Calls are best-effort; the
// pipeline never lets billing failures roll back a persisted call.
type BillingService interface {
	AccrueMinutes(ctx context.Context, ownerID string, minutes int) error
}

// Notifier posts a message to a webhook target. Dispatch failures are
// logged by callers, never propagated.
type Notifier interface {
	Post(ctx context.Context, webhookURL string, payload any) error
}

// CallStore persists analyzed calls and answers the lookback queries the
// alert evaluator needs.
type CallStore interface {
	// UpsertCall writes the call and all child rows in one logical
	// transaction, keyed by (ownerID, customerCallID). Re-running for the
	// same key replaces the previous child rows rather than appending.
	UpsertCall(ctx context.Context, call *domain.Call) error

	// LatencyDurationsSince returns the latency-block durations (seconds)
	// of the owner's calls started at or after since, optionally limited
	// to an agent allow-list (empty means all agents).
	LatencyDurationsSince(ctx context.Context, ownerID string, agentIDs []string, since time.Time) ([]float64, error)
}

// SearchStore reads tenant saved searches with their nested groups,
// criteria, and alerts, and records alert firings.
type SearchStore interface {
	SavedSearchesByOwner(ctx context.Context, ownerID string) ([]domain.SavedSearch, error)

	// MarkAlertFired persists the alert's last-fired timestamp for
	// cooldown bookkeeping.
	MarkAlertFired(ctx context.Context, alertID string, firedAt time.Time) error
}

// EvaluationStore reads and instantiates tenant evaluation criteria.
// Scenario grading creates criteria on the fly for prompts the tenant has
// not evaluated before.
type EvaluationStore interface {
	CriteriaByOwner(ctx context.Context, ownerID string) ([]domain.EvaluationCriterion, error)
	CreateCriteria(ctx context.Context, criteria []domain.EvaluationCriterion) error
}

// AgentStore resolves a tenant's external agent id to an internal agent,
// creating the agent on first sight.
type AgentStore interface {
	UpsertAgent(ctx context.Context, ownerID, customerAgentID string) (domain.Agent, error)
}
