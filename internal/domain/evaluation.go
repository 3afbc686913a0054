package domain

// ContentType describes what aspect of the call a criterion grades.
type ContentType string

const (
	// ContentTypeContent grades conversational content.
	ContentTypeContent ContentType = "content"
	// ContentTypeTool grades tool invocations. Tool criteria may produce
	// one result per invocation or expected invocation.
	ContentTypeTool ContentType = "tool"
)

// ResultType is the value type a criterion's result carries.
type ResultType string

const (
	ResultTypeBoolean ResultType = "boolean"
	ResultTypeString  ResultType = "string"
	ResultTypeNumber  ResultType = "number"
	ResultTypeArray   ResultType = "array"
)

// EvaluationCriterion is one gradeable question about a call. Criteria are
// authored by a tenant and referenced, never copied, by groups and by
// per-call results.
type EvaluationCriterion struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"ownerId"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	ContentType ContentType `json:"contentType"`
	ResultType  ResultType  `json:"resultType"`

	// IsCritical marks criteria whose failure flips the owning group's
	// outcome to failure. Non-critical failures are informational only.
	IsCritical bool `json:"isCritical"`
}

// EvaluationGroup is a named, conditionally-triggered bundle of criteria
// (an "eval set"). Whether a group applies to a call is decided at
// analysis time by matching Condition against the transcript.
type EvaluationGroup struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`

	// Condition is the natural-language trigger, e.g. "the caller tries
	// to book an appointment".
	Condition string `json:"condition"`

	Enabled  bool                  `json:"enabled"`
	Criteria []EvaluationCriterion `json:"criteria"`
}

// EvaluationResult is one graded outcome for one criterion on one call.
// The optional window [SecondsFromStart, SecondsFromStart+Duration]
// locates the evidence in the recording.
type EvaluationResult struct {
	ID          string `json:"id"`
	CallID      string `json:"callId"`
	CriterionID string `json:"criterionId"`
	Success     bool   `json:"success"`
	Details     string `json:"details"`

	SecondsFromStart float64 `json:"secondsFromStart,omitempty"`
	Duration         float64 `json:"duration,omitempty"`
}

// DedupeGroups removes duplicate groups by id, preserving first-seen order.
func DedupeGroups(groups []EvaluationGroup) []EvaluationGroup {
	seen := make(map[string]struct{}, len(groups))
	out := make([]EvaluationGroup, 0, len(groups))
	for _, g := range groups {
		if _, ok := seen[g.ID]; ok {
			continue
		}
		seen[g.ID] = struct{}{}
		out = append(out, g)
	}
	return out
}

// UnionCriteria flattens the criteria of the given groups into one set,
// deduplicated by criterion id and in first-seen order.
func UnionCriteria(groups []EvaluationGroup) []EvaluationCriterion {
	seen := make(map[string]struct{})
	var out []EvaluationCriterion
	for _, g := range groups {
		for _, c := range g.Criteria {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// GroupOutcome reports whether a call passed a group given the call's
// evaluation results. A group passes iff every critical criterion has at
// least one result and all of that criterion's results succeeded. A
// critical criterion with no result at all counts as a failure; silently
// treating it as a pass would hide evaluations the model skipped.
func GroupOutcome(group EvaluationGroup, results []EvaluationResult) bool {
	for _, c := range group.Criteria {
		if !c.IsCritical {
			continue
		}
		found := false
		for _, r := range results {
			if r.CriterionID != c.ID {
				continue
			}
			found = true
			if !r.Success {
				return false
			}
		}
		if !found {
			return false
		}
	}
	return true
}
