package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fixadev/callwatch/internal/domain"
	"github.com/fixadev/callwatch/internal/ports"
)

// gradingPrompt instructs the model to grade the transcript against each
// criterion and emit one result object per criterion, with tool criteria
// allowed one result per invocation or expected invocation.
const gradingPrompt = `Your job is to analyze a call transcript between an AI voice agent and a caller, and determine how the agent performed against a set of evaluation criteria.

You will be provided:
- criteria: an array of evaluation criteria objects, each with:
  - id: the id of the criterion
  - name: a short name for the criterion
  - description: what to evaluate
  - contentType: "content" (conversational content) or "tool" (tool invocations)
- transcript: the list of messages from the call, each tagged with the speaker role, start time in seconds, and duration.
{{if .CallTime}}
The call occurred at {{.CallTime}}. Use this as context if a criterion depends on the current date or time, or mentions phrases like "right now" or "today".
{{end}}
Output a JSON object of the form:
{"evalResults": [{"evaluationId": "...", "result": "...", "success": true|false, "secondsFromStart": 0, "duration": 0, "type": "boolean", "details": "..."}]}

Rules:
- Emit at least one result per criterion. Criteria of contentType "tool" should have one result each time the tool was called or should have been called.
- success is true only if the agent clearly satisfied the criterion.
- details is one concise sentence; refer to the voice agent only as "agent".
- secondsFromStart and duration locate the specific portion of the call the result refers to. Keep the window tight (around 10 seconds is a good maximum) and omit duration for "tool" criteria.
- Transcription errors are common, particularly for proper nouns. If a mismatch looks like a mis-transcribed name, do not count it as a failure.
- Output ONLY the JSON object, with no markdown fences or other text.

Evaluation criteria:
{{.Criteria}}

Call transcript:
{{.Transcript}}`

// gradeResponse is the required shape of the grading answer.
type gradeResponse struct {
	EvalResults []gradeResult `json:"evalResults" validate:"required,min=1,dive"`
}

// gradeResult is one per-criterion result as emitted by the model. Fields
// beyond the schema (type, result) are accepted but only the validated
// subset is carried into the domain.
type gradeResult struct {
	EvaluationID     string  `json:"evaluationId" validate:"required"`
	Result           string  `json:"result"`
	Success          bool    `json:"success"`
	SecondsFromStart float64 `json:"secondsFromStart"`
	Duration         float64 `json:"duration"`
	Type             string  `json:"type"`
	Details          string  `json:"details"`
}

// promptCriterion is the criterion representation sent to the model.
type promptCriterion struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ContentType string `json:"contentType"`
}

// promptSegment is the transcript representation sent to the model.
type promptSegment struct {
	Role             string  `json:"role"`
	Message          string  `json:"message"`
	SecondsFromStart float64 `json:"secondsFromStart"`
	Duration         float64 `json:"duration"`
}

// GradeRequest carries the per-call inputs shared by both grading modes.
type GradeRequest struct {
	OwnerID    string
	Transcript []domain.TranscriptSegment
	StartedAt  time.Time
}

// GradeOutcome is the validated output of one grading pass.
type GradeOutcome struct {
	// Results contains only results whose criterion id was actually
	// supplied to the model; hallucinated ids have been dropped.
	Results []domain.EvaluationResult

	// GroupOutcomes maps group id to the call's boolean outcome. Empty in
	// scenario mode, which grades against no groups.
	GroupOutcomes map[string]bool
}

// TranscriptGrader grades call transcripts against evaluation criteria
// with one model call per pass, in either rule mode (criteria drawn from
// relevant evaluation groups) or scenario mode (criteria attached to a
// test scenario).
type TranscriptGrader struct {
	llm      ports.LLMClient
	evals    ports.EvaluationStore
	validate *validator.Validate
	tmpl     *template.Template
}

// NewTranscriptGrader creates a grader backed by the given model client
// and evaluation store.
func NewTranscriptGrader(llm ports.LLMClient, evals ports.EvaluationStore) (*TranscriptGrader, error) {
	if llm == nil {
		return nil, fmt.Errorf("transcript grader: LLM client cannot be nil")
	}
	if evals == nil {
		return nil, fmt.Errorf("transcript grader: evaluation store cannot be nil")
	}

	tmpl, err := template.New("gradingPrompt").Parse(gradingPrompt)
	if err != nil {
		return nil, fmt.Errorf("transcript grader: failed to parse prompt template: %w", err)
	}

	return &TranscriptGrader{
		llm:      llm,
		evals:    evals,
		validate: validator.New(),
		tmpl:     tmpl,
	}, nil
}

// GradeRules grades the call against the union of criteria across the
// given groups and computes each group's outcome. Groups are expected to
// be the relevance matcher's survivors; with no groups there is nothing to
// grade and the outcome is empty.
func (g *TranscriptGrader) GradeRules(
	ctx context.Context,
	req GradeRequest,
	groups []domain.EvaluationGroup,
) (GradeOutcome, error) {
	criteria := domain.UnionCriteria(groups)
	if len(criteria) == 0 {
		return GradeOutcome{GroupOutcomes: map[string]bool{}}, nil
	}

	results, err := g.grade(ctx, req, criteria, nil)
	if err != nil {
		return GradeOutcome{}, err
	}

	outcomes := make(map[string]bool, len(groups))
	for _, group := range groups {
		outcomes[group.ID] = domain.GroupOutcome(group, results)
	}

	return GradeOutcome{Results: results, GroupOutcomes: outcomes}, nil
}

// GradeScenario grades the call against the scenario's criteria. Criteria
// whose prompt the tenant has not evaluated before are instantiated
// through the evaluation store before grading. Scenario passes produce no
// group outcomes.
func (g *TranscriptGrader) GradeScenario(
	ctx context.Context,
	req GradeRequest,
	scenario domain.Scenario,
) (GradeOutcome, error) {
	criteria, err := g.resolveScenarioCriteria(ctx, req.OwnerID, scenario)
	if err != nil {
		return GradeOutcome{}, err
	}
	if len(criteria) == 0 {
		return GradeOutcome{GroupOutcomes: map[string]bool{}}, nil
	}

	results, err := g.grade(ctx, req, criteria, &scenario)
	if err != nil {
		return GradeOutcome{}, err
	}

	return GradeOutcome{Results: results, GroupOutcomes: map[string]bool{}}, nil
}

// resolveScenarioCriteria maps scenario criteria onto the tenant's
// existing criteria by grading prompt, creating any that do not yet exist.
func (g *TranscriptGrader) resolveScenarioCriteria(
	ctx context.Context,
	ownerID string,
	scenario domain.Scenario,
) ([]domain.EvaluationCriterion, error) {
	existing, err := g.evals.CriteriaByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading criteria for owner %s: %w", ownerID, err)
	}

	byDescription := make(map[string]domain.EvaluationCriterion, len(existing))
	for _, c := range existing {
		byDescription[c.Description] = c
	}

	var resolved []domain.EvaluationCriterion
	var toCreate []domain.EvaluationCriterion
	for _, sc := range scenario.Criteria {
		if c, ok := byDescription[sc.Prompt]; ok {
			resolved = append(resolved, c)
			continue
		}
		created := domain.EvaluationCriterion{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			Name:        sc.Name,
			Description: sc.Prompt,
			ContentType: domain.ContentTypeContent,
			ResultType:  domain.ResultTypeBoolean,
			IsCritical:  sc.IsCritical,
		}
		toCreate = append(toCreate, created)
		resolved = append(resolved, created)
	}

	if len(toCreate) > 0 {
		if err := g.evals.CreateCriteria(ctx, toCreate); err != nil {
			return nil, fmt.Errorf("instantiating %d scenario criteria: %w", len(toCreate), err)
		}
	}
	return resolved, nil
}

// grade issues the grading call and filters the response down to results
// that reference supplied criteria.
func (g *TranscriptGrader) grade(
	ctx context.Context,
	req GradeRequest,
	criteria []domain.EvaluationCriterion,
	scenario *domain.Scenario,
) ([]domain.EvaluationResult, error) {
	prompt, err := g.buildPrompt(req, criteria, scenario)
	if err != nil {
		return nil, err
	}

	raw, err := g.llm.Complete(ctx, prompt, map[string]any{
		"json":        true,
		"temperature": 0.0,
	})
	if err != nil {
		return nil, fmt.Errorf("grading call failed: %w", err)
	}

	parsed, err := g.parseResponse(raw)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(criteria))
	for _, c := range criteria {
		known[c.ID] = struct{}{}
	}

	// Results referencing criteria that were never sent are model
	// hallucinations; they are dropped, never persisted.
	var results []domain.EvaluationResult
	for _, r := range parsed.EvalResults {
		if _, ok := known[r.EvaluationID]; !ok {
			continue
		}
		results = append(results, domain.EvaluationResult{
			ID:               uuid.NewString(),
			CriterionID:      r.EvaluationID,
			Success:          r.Success,
			Details:          r.Details,
			SecondsFromStart: r.SecondsFromStart,
			Duration:         r.Duration,
		})
	}
	return results, nil
}

func (g *TranscriptGrader) buildPrompt(
	req GradeRequest,
	criteria []domain.EvaluationCriterion,
	scenario *domain.Scenario,
) (string, error) {
	promptCriteria := make([]promptCriterion, 0, len(criteria))
	for _, c := range criteria {
		promptCriteria = append(promptCriteria, promptCriterion{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			ContentType: string(c.ContentType),
		})
	}
	criteriaJSON, err := json.MarshalIndent(promptCriteria, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling criteria: %w", err)
	}

	segments := make([]promptSegment, 0, len(req.Transcript))
	for _, seg := range req.Transcript {
		segments = append(segments, promptSegment{
			Role:             string(seg.Role),
			Message:          seg.Text,
			SecondsFromStart: seg.SecondsFromStart,
			Duration:         seg.Duration,
		})
	}
	transcriptJSON, err := json.MarshalIndent(segments, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling transcript: %w", err)
	}

	callTime := ""
	if scenario != nil && scenario.IncludeDateTime && !req.StartedAt.IsZero() {
		callTime = formatCallTime(req.StartedAt, scenario.Timezone)
	}

	var buf bytes.Buffer
	err = g.tmpl.Execute(&buf, map[string]string{
		"Criteria":   string(criteriaJSON),
		"Transcript": string(transcriptJSON),
		"CallTime":   callTime,
	})
	if err != nil {
		return "", fmt.Errorf("rendering grading prompt: %w", err)
	}
	return buf.String(), nil
}

func (g *TranscriptGrader) parseResponse(raw string) (gradeResponse, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return gradeResponse{}, fmt.Errorf("grading: %w", domain.ErrNoModelResponse)
	}

	var parsed gradeResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return gradeResponse{}, fmt.Errorf("grading: unparseable model response: %w (%w)", err, domain.ErrNoModelResponse)
	}
	if err := g.validate.Struct(parsed); err != nil {
		return gradeResponse{}, fmt.Errorf("grading: invalid model response: %w (%w)", err, domain.ErrNoModelResponse)
	}
	return parsed, nil
}

// formatCallTime renders the call start in the scenario's timezone,
// falling back to UTC when the zone name cannot be resolved.
func formatCallTime(t time.Time, timezone string) string {
	loc := time.UTC
	if timezone != "" {
		if resolved, err := time.LoadLocation(timezone); err == nil {
			loc = resolved
		}
	}
	return t.In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST")
}
