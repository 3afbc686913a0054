// Package analysis implements the semantic core of the pipeline: deciding
// which evaluation groups apply to a call and grading the call against
// their criteria with a language model. Model output crosses a strict
// validate-or-fail boundary here; nothing unvalidated leaves this package.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/go-playground/validator/v10"

	"github.com/fixadev/callwatch/internal/domain"
	"github.com/fixadev/callwatch/internal/ports"
)

// relevancePrompt asks the model to mark each candidate group relevant or
// not. Criteria and alerts are stripped from the groups beforehand to keep
// the prompt small; only the id, name, and trigger condition matter.
const relevancePrompt = `Your job is to determine which eval sets are relevant to the following call by comparing the call transcript to each eval set's condition.

An eval set is relevant only if its condition is clearly true for the call transcript. When in doubt, mark it not relevant.

For example, given the eval set:

{"id": "1234", "condition": "the caller tries to book an appointment"}

and a transcript where the caller only asks about store hours, the eval set is not relevant, because the condition is not clearly true.

Here is the call transcript:
{{.Transcript}}

Here are the eval sets:
{{.EvalSets}}

Output ONLY a JSON object of the form:
{"relevantEvalSets": [{"id": "<eval set id>", "relevant": true|false}]}

Include exactly one entry per eval set. Do not include markdown fences or any other text.`

// relevanceResponse is the required shape of the model's relevance answer.
// Anything that fails validation is a hard error for the stage; silently
// returning empty would skip real evaluations.
type relevanceResponse struct {
	RelevantEvalSets []relevantEvalSet `json:"relevantEvalSets" validate:"required,dive"`
}

type relevantEvalSet struct {
	ID       string `json:"id" validate:"required"`
	Relevant bool   `json:"relevant"`
}

// promptEvalSet is the stripped-down group representation sent to the model.
type promptEvalSet struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Condition string `json:"condition"`
}

// promptMessage is the transcript representation sent to the model.
type promptMessage struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// MatchOutcome is the result of relevance matching for one call.
type MatchOutcome struct {
	// Searches are the saved searches that passed the structural filter.
	// The alert evaluator later walks their alerts.
	Searches []domain.SavedSearch

	// Groups are the evaluation groups the model judged relevant and that
	// carry at least one criterion.
	Groups []domain.EvaluationGroup
}

// RelevanceMatcher filters a tenant's evaluation groups down to those that
// apply to a call: structurally via saved-search predicates, then
// semantically via one batched model call.
type RelevanceMatcher struct {
	llm      ports.LLMClient
	searches ports.SearchStore
	validate *validator.Validate
	tmpl     *template.Template
}

// NewRelevanceMatcher creates a matcher backed by the given model client
// and saved-search store.
func NewRelevanceMatcher(llm ports.LLMClient, searches ports.SearchStore) (*RelevanceMatcher, error) {
	if llm == nil {
		return nil, fmt.Errorf("relevance matcher: LLM client cannot be nil")
	}
	if searches == nil {
		return nil, fmt.Errorf("relevance matcher: search store cannot be nil")
	}

	tmpl, err := template.New("relevancePrompt").Parse(relevancePrompt)
	if err != nil {
		return nil, fmt.Errorf("relevance matcher: failed to parse prompt template: %w", err)
	}

	return &RelevanceMatcher{
		llm:      llm,
		searches: searches,
		validate: validator.New(),
		tmpl:     tmpl,
	}, nil
}

// Match returns the subset of the owner's evaluation groups that apply to
// the call. When the structural filter leaves no candidate groups the
// model is never consulted.
func (m *RelevanceMatcher) Match(
	ctx context.Context,
	ownerID, agentID string,
	metadata map[string]string,
	transcript []domain.TranscriptSegment,
) (MatchOutcome, error) {
	searches, err := m.searches.SavedSearchesByOwner(ctx, ownerID)
	if err != nil {
		return MatchOutcome{}, fmt.Errorf("loading saved searches for owner %s: %w", ownerID, err)
	}

	matched := domain.MatchingSearches(searches, agentID, metadata)
	candidates := domain.EnabledGroups(matched)
	if len(candidates) == 0 {
		return MatchOutcome{Searches: matched}, nil
	}

	relevant, err := m.semanticFilter(ctx, transcript, candidates)
	if err != nil {
		return MatchOutcome{}, err
	}

	return MatchOutcome{Searches: matched, Groups: relevant}, nil
}

// semanticFilter issues the batched relevance call and keeps only groups
// the model explicitly marked relevant that also carry criteria.
func (m *RelevanceMatcher) semanticFilter(
	ctx context.Context,
	transcript []domain.TranscriptSegment,
	candidates []domain.EvaluationGroup,
) ([]domain.EvaluationGroup, error) {
	prompt, err := m.buildPrompt(transcript, candidates)
	if err != nil {
		return nil, err
	}

	raw, err := m.llm.Complete(ctx, prompt, map[string]any{
		"json":        true,
		"temperature": 0.0,
	})
	if err != nil {
		return nil, fmt.Errorf("relevance call failed: %w", err)
	}

	parsed, err := m.parseResponse(raw)
	if err != nil {
		return nil, err
	}

	relevantByID := make(map[string]bool, len(parsed.RelevantEvalSets))
	for _, entry := range parsed.RelevantEvalSets {
		relevantByID[entry.ID] = entry.Relevant
	}

	var relevant []domain.EvaluationGroup
	for _, group := range candidates {
		if relevantByID[group.ID] && len(group.Criteria) > 0 {
			relevant = append(relevant, group)
		}
	}
	return relevant, nil
}

func (m *RelevanceMatcher) buildPrompt(
	transcript []domain.TranscriptSegment,
	candidates []domain.EvaluationGroup,
) (string, error) {
	messages := make([]promptMessage, 0, len(transcript))
	for _, seg := range transcript {
		messages = append(messages, promptMessage{Role: string(seg.Role), Message: seg.Text})
	}
	transcriptJSON, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling transcript: %w", err)
	}

	stripped := make([]promptEvalSet, 0, len(candidates))
	for _, group := range candidates {
		stripped = append(stripped, promptEvalSet{
			ID:        group.ID,
			Name:      group.Name,
			Condition: group.Condition,
		})
	}
	evalSetsJSON, err := json.MarshalIndent(stripped, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling eval sets: %w", err)
	}

	var buf bytes.Buffer
	err = m.tmpl.Execute(&buf, map[string]string{
		"Transcript": string(transcriptJSON),
		"EvalSets":   string(evalSetsJSON),
	})
	if err != nil {
		return "", fmt.Errorf("rendering relevance prompt: %w", err)
	}
	return buf.String(), nil
}

func (m *RelevanceMatcher) parseResponse(raw string) (relevanceResponse, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return relevanceResponse{}, fmt.Errorf("relevance filter: %w", domain.ErrNoModelResponse)
	}

	var parsed relevanceResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return relevanceResponse{}, fmt.Errorf("relevance filter: unparseable model response: %w (%w)", err, domain.ErrNoModelResponse)
	}
	if err := m.validate.Struct(parsed); err != nil {
		return relevanceResponse{}, fmt.Errorf("relevance filter: invalid model response: %w (%w)", err, domain.ErrNoModelResponse)
	}
	return parsed, nil
}
