package domain

import (
	"errors"
	"fmt"
	"time"
)

// Common domain errors for call ingestion.
var (
	// ErrMissingField indicates a required ingest-job field was absent.
	// Jobs failing this check are rejected before any collaborator call.
	ErrMissingField = errors.New("missing required field")

	// ErrNoModelResponse indicates the language model returned nothing
	// usable for a call on the critical path; the pipeline must abort
	// rather than silently skip evaluations.
	ErrNoModelResponse = errors.New("no structured response from model")
)

// ScenarioCriterion is one criterion attached to a test scenario, authored
// inline rather than referencing an existing tenant criterion.
type ScenarioCriterion struct {
	Name string `json:"name"`
	// Prompt is the grading instruction; it becomes the criterion
	// description when the criterion is instantiated for the tenant.
	Prompt     string `json:"prompt"`
	IsCritical bool   `json:"isCritical"`
}

// Scenario describes a synthetic test call's expected behavior. Calls
// graded against a scenario bypass saved-search relevance matching and
// alerting.
type Scenario struct {
	Name     string              `json:"name"`
	Criteria []ScenarioCriterion `json:"criteria"`

	// IncludeDateTime asks the grader to supply the call's start time as
	// context, for criteria that depend on "today" or "right now".
	IncludeDateTime bool   `json:"includeDateTime"`
	Timezone        string `json:"timezone"`
}

// IngestJob is the queue payload that triggers analysis of one call.
type IngestJob struct {
	// CallID is the tenant's external call id.
	CallID       string            `json:"callId"`
	RecordingURL string            `json:"recordingUrl"`
	OwnerID      string            `json:"ownerId"`
	AgentID      string            `json:"agentId"`
	CreatedAt    time.Time         `json:"createdAt"`
	Metadata     map[string]string `json:"metadata"`

	// SaveRecording controls whether the recording is relocated to
	// durable storage before transcription. Nil means true.
	SaveRecording *bool `json:"saveRecording,omitempty"`

	// Language is an optional transcription hint.
	Language string `json:"language,omitempty"`

	// Scenario switches the grading pass to scenario mode.
	Scenario *Scenario `json:"scenario,omitempty"`

	// WebhookURL, when set, receives a best-effort callback once the
	// call finishes analysis.
	WebhookURL string `json:"webhookUrl,omitempty"`
}

// Validate checks the fields the pipeline cannot proceed without. It is
// called before any external work so malformed jobs are rejected cheaply.
func (j IngestJob) Validate() error {
	switch {
	case j.CallID == "":
		return fmt.Errorf("%w: callId", ErrMissingField)
	case j.RecordingURL == "":
		return fmt.Errorf("%w: recordingUrl", ErrMissingField)
	case j.OwnerID == "":
		return fmt.Errorf("%w: ownerId", ErrMissingField)
	case j.CreatedAt.IsZero():
		return fmt.Errorf("%w: createdAt", ErrMissingField)
	}
	return nil
}

// ShouldSaveRecording reports whether the recording should be relocated to
// durable storage, defaulting to true when unspecified.
func (j IngestJob) ShouldSaveRecording() bool {
	return j.SaveRecording == nil || *j.SaveRecording
}
