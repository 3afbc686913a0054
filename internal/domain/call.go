// Package domain contains pure, dependency-free domain models for the
// call observability pipeline.
package domain

import (
	"time"
)

// CallStatus tracks a call's position in the analysis lifecycle.
type CallStatus string

// Lifecycle states for a call. A call moves forward through these states
// exactly once; Failed is terminal and reachable from any stage.
const (
	CallStatusQueued       CallStatus = "queued"
	CallStatusTranscribing CallStatus = "transcribing"
	CallStatusScored       CallStatus = "scored"
	CallStatusPersisted    CallStatus = "persisted"
	CallStatusAlerted      CallStatus = "alerted"
	CallStatusCompleted    CallStatus = "completed"
	CallStatusFailed       CallStatus = "failed"
)

// CallResult is the overall pass/fail outcome of a call, when one applies.
type CallResult string

const (
	CallResultUnset   CallResult = ""
	CallResultSuccess CallResult = "success"
	CallResultFailure CallResult = "failure"
)

// Role identifies which party produced a transcript span.
type Role string

const (
	// RoleCaller is the human (or synthetic test) caller side of the recording.
	RoleCaller Role = "caller"
	// RoleAgent is the voice agent side of the recording.
	RoleAgent Role = "agent"
)

// TranscriptSegment is one role-tagged span of transcribed speech.
// Segments are owned by exactly one call and are immutable once created.
type TranscriptSegment struct {
	ID               string  `json:"id"`
	Role             Role    `json:"role"`
	Text             string  `json:"text"`
	SecondsFromStart float64 `json:"secondsFromStart"`
	Duration         float64 `json:"duration"`
}

// LatencyInterval is one measured agent response-delay window.
type LatencyInterval struct {
	ID               string  `json:"id"`
	SecondsFromStart float64 `json:"secondsFromStart"`
	Duration         float64 `json:"duration"`
}

// InterruptionInterval is one measured overlap where the caller and agent
// spoke over each other.
type InterruptionInterval struct {
	ID               string  `json:"id"`
	SecondsFromStart float64 `json:"secondsFromStart"`
	Duration         float64 `json:"duration"`
	Text             string  `json:"text"`
}

// CallStats holds the objective quality signals derived from a call's
// latency and interruption intervals.
type CallStats struct {
	LatencyP50 float64 `json:"latencyP50"`
	LatencyP90 float64 `json:"latencyP90"`
	LatencyP95 float64 `json:"latencyP95"`

	InterruptionP50 float64 `json:"interruptionP50"`
	InterruptionP90 float64 `json:"interruptionP90"`
	InterruptionP95 float64 `json:"interruptionP95"`

	// NumInterruptions counts interruptions long enough to matter
	// (see SignificantInterruptionSeconds).
	NumInterruptions int `json:"numInterruptions"`

	// TimeToFirstWordMs is the duration of the first latency block, in
	// whole milliseconds.
	TimeToFirstWordMs int `json:"timeToFirstWordMs"`
}

// Agent is a voice agent known to a tenant. Agents are created lazily the
// first time a call references their external id.
type Agent struct {
	ID              string `json:"id"`
	OwnerID         string `json:"ownerId"`
	CustomerAgentID string `json:"customerAgentId"`
	Name            string `json:"name"`
}

// Call is one recorded conversation between a voice agent and a caller,
// together with everything the analysis pipeline derived from it.
// A call is created when ingested and mutated once per lifecycle stage;
// it is never deleted.
type Call struct {
	// ID is the internal identifier for this call.
	ID string `json:"id"`

	// CustomerCallID is the external identifier supplied by the tenant.
	// Together with OwnerID it is the idempotency key for ingestion.
	CustomerCallID string `json:"customerCallId"`

	OwnerID string     `json:"ownerId"`
	AgentID string     `json:"agentId"`
	Status  CallStatus `json:"status"`
	Result  CallResult `json:"result"`

	RecordingURL    string    `json:"recordingUrl"`
	DurationSeconds float64   `json:"durationSeconds"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
	CreatedAt       time.Time `json:"createdAt"`

	Stats CallStats `json:"stats"`

	// Metadata is the tenant-supplied free-form key/value map used by
	// saved-search structural filters.
	Metadata map[string]string `json:"metadata"`

	Segments      []TranscriptSegment    `json:"segments"`
	Latencies     []LatencyInterval      `json:"latencies"`
	Interruptions []InterruptionInterval `json:"interruptions"`

	// EvaluationResults are the validated per-criterion grades for this
	// call. A re-run replaces the whole set; results are never appended.
	EvaluationResults []EvaluationResult `json:"evaluationResults"`

	// GroupOutcomes maps evaluation-group id to the call's boolean outcome
	// for that group.
	GroupOutcomes map[string]bool `json:"groupOutcomes"`
}
