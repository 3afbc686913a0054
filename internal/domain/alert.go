package domain

import (
	"time"
)

// AlertType distinguishes the two alert flavors a saved search can carry.
type AlertType string

const (
	// AlertTypeLatency fires when a rolling latency percentile crosses a
	// threshold.
	AlertTypeLatency AlertType = "latency"
	// AlertTypeEvalSet fires when a call's outcome for a target evaluation
	// group matches the configured trigger.
	AlertTypeEvalSet AlertType = "evalset"
)

// Percentile names one of the computed latency percentiles.
type Percentile string

const (
	PercentileP50 Percentile = "p50"
	PercentileP90 Percentile = "p90"
	PercentileP95 Percentile = "p95"
)

// LatencyAlertDetails configures a latency alert.
type LatencyAlertDetails struct {
	Percentile Percentile `json:"percentile"`

	// ThresholdMs is the firing threshold in milliseconds.
	ThresholdMs float64 `json:"thresholdMs"`

	// Lookback is how far back calls are included when recomputing the
	// percentile.
	Lookback time.Duration `json:"lookback"`

	// Cooldown suppresses re-firing for this long after the alert last
	// fired, even if the threshold is still breached.
	Cooldown time.Duration `json:"cooldown"`
}

// EvalSetAlertDetails configures an eval-set alert.
type EvalSetAlertDetails struct {
	// GroupID is the target evaluation group.
	GroupID string `json:"groupId"`

	// TriggerOnSuccess is the group outcome that fires the alert: true
	// fires on success, false fires on failure.
	TriggerOnSuccess bool `json:"triggerOnSuccess"`
}

// Alert belongs to exactly one saved search and describes a condition to
// re-check each time a matching call finishes analysis.
type Alert struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	SavedSearchID string    `json:"savedSearchId"`
	Name          string    `json:"name"`
	Type          AlertType `json:"type"`
	Enabled       bool      `json:"enabled"`

	// WebhookURL is the notification target for this alert.
	WebhookURL string `json:"webhookUrl"`

	// LastFiredAt is the persisted cooldown bookkeeping; the zero value
	// means the alert has never fired.
	LastFiredAt time.Time `json:"lastFiredAt"`

	// Exactly one of the detail structs is populated, per Type.
	Latency *LatencyAlertDetails `json:"latency,omitempty"`
	EvalSet *EvalSetAlertDetails `json:"evalSet,omitempty"`
}

// InCooldown reports whether the alert fired within its cooldown window
// as of now. Alerts without a cooldown (eval-set alerts) never cool down.
func (a Alert) InCooldown(now time.Time) bool {
	if a.Type != AlertTypeLatency || a.Latency == nil || a.Latency.Cooldown <= 0 {
		return false
	}
	if a.LastFiredAt.IsZero() {
		return false
	}
	return now.Sub(a.LastFiredAt) < a.Latency.Cooldown
}
