// Package pipeline orchestrates the analysis of one ingested call:
// transcription, stat computation, relevance matching and grading,
// persistence, then best-effort billing, alerting, and callbacks.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fixadev/callwatch/internal/alerting"
	"github.com/fixadev/callwatch/internal/analysis"
	"github.com/fixadev/callwatch/internal/domain"
	"github.com/fixadev/callwatch/internal/metrics"
	"github.com/fixadev/callwatch/internal/ports"
)

// Stage names one step of the call state machine, used for error context
// and metrics. A failure in any critical stage aborts the whole call with
// no partial record; the queue transport handles redelivery.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageScore      Stage = "score"
	StagePersist    Stage = "persist"
	StageAlert      Stage = "alert"
)

// StageError wraps a critical-path failure with the stage it occurred in.
// Best-effort failures never produce a StageError; they are logged and
// swallowed by runNonCritical.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// AlertSink receives the freshly analyzed call for alert evaluation.
// Implemented by alerting.Evaluator; substituted in tests.
type AlertSink interface {
	Evaluate(ctx context.Context, cc alerting.CallContext)
}

// Grader is the transcript-grading surface the pipeline needs, implemented
// by analysis.TranscriptGrader.
type Grader interface {
	GradeRules(ctx context.Context, req analysis.GradeRequest, groups []domain.EvaluationGroup) (analysis.GradeOutcome, error)
	GradeScenario(ctx context.Context, req analysis.GradeRequest, scenario domain.Scenario) (analysis.GradeOutcome, error)
}

// Matcher is the relevance-matching surface the pipeline needs,
// implemented by analysis.RelevanceMatcher.
type Matcher interface {
	Match(ctx context.Context, ownerID, agentID string, metadata map[string]string, transcript []domain.TranscriptSegment) (analysis.MatchOutcome, error)
}

// Config holds pipeline-level settings.
type Config struct {
	// DeepLinkBaseURL is the dashboard base used to build call links in
	// webhooks and alert notifications, e.g. "https://app.example.com".
	DeepLinkBaseURL string
}

// Pipeline runs the full analysis state machine for one call per Run call.
// Pipelines are stateless across calls and safe for concurrent use; each
// Run is independent.
type Pipeline struct {
	cfg         Config
	recordings  ports.RecordingStore
	transcriber ports.Transcriber
	matcher     Matcher
	grader      Grader
	calls       ports.CallStore
	agents      ports.AgentStore
	billing     ports.BillingService
	notifier    ports.Notifier
	alerts      AlertSink
	log         *logrus.Entry
}

// New wires a pipeline from its collaborators. All critical-path
// collaborators are required; billing, notifier, and alerts may be nil,
// which disables the corresponding best-effort step.
func New(
	cfg Config,
	recordings ports.RecordingStore,
	transcriber ports.Transcriber,
	matcher Matcher,
	grader Grader,
	calls ports.CallStore,
	agents ports.AgentStore,
	billing ports.BillingService,
	notifier ports.Notifier,
	alerts AlertSink,
	log *logrus.Logger,
) (*Pipeline, error) {
	switch {
	case recordings == nil:
		return nil, fmt.Errorf("pipeline: recording store cannot be nil")
	case transcriber == nil:
		return nil, fmt.Errorf("pipeline: transcriber cannot be nil")
	case matcher == nil:
		return nil, fmt.Errorf("pipeline: relevance matcher cannot be nil")
	case grader == nil:
		return nil, fmt.Errorf("pipeline: grader cannot be nil")
	case calls == nil:
		return nil, fmt.Errorf("pipeline: call store cannot be nil")
	case log == nil:
		return nil, fmt.Errorf("pipeline: logger cannot be nil")
	}

	return &Pipeline{
		cfg:         cfg,
		recordings:  recordings,
		transcriber: transcriber,
		matcher:     matcher,
		grader:      grader,
		calls:       calls,
		agents:      agents,
		billing:     billing,
		notifier:    notifier,
		alerts:      alerts,
		log:         log.WithField("component", "pipeline"),
	}, nil
}

// Run processes one ingest job end to end and returns the persisted call.
// Input validation happens before any collaborator call; any critical
// failure aborts with a StageError and leaves no call row behind. Run is
// safe to repeat for the same call id: persistence is an idempotent upsert.
func (p *Pipeline) Run(ctx context.Context, job domain.IngestJob) (*domain.Call, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	log := p.log.WithFields(logrus.Fields{
		"callId":  job.CallID,
		"ownerId": job.OwnerID,
	})
	start := time.Now()

	call := &domain.Call{
		ID:             uuid.NewString(),
		CustomerCallID: job.CallID,
		OwnerID:        job.OwnerID,
		AgentID:        job.AgentID,
		Status:         domain.CallStatusQueued,
		RecordingURL:   job.RecordingURL,
		StartedAt:      job.CreatedAt,
		CreatedAt:      job.CreatedAt,
		Metadata:       job.Metadata,
	}

	if p.agents != nil && job.AgentID != "" {
		agent, err := p.agents.UpsertAgent(ctx, job.OwnerID, job.AgentID)
		if err != nil {
			return nil, p.fail(log, call, StageTranscribe, fmt.Errorf("upserting agent %s: %w", job.AgentID, err))
		}
		call.AgentID = agent.ID
	}

	stageStart := time.Now()
	transcription, err := p.transcribe(ctx, job, call)
	if err != nil {
		return nil, p.fail(log, call, StageTranscribe, err)
	}
	metrics.StageDuration.WithLabelValues(string(StageTranscribe)).Observe(time.Since(stageStart).Seconds())

	stageStart = time.Now()
	matched, err := p.score(ctx, job, call, transcription)
	if err != nil {
		return nil, p.fail(log, call, StageScore, err)
	}
	metrics.StageDuration.WithLabelValues(string(StageScore)).Observe(time.Since(stageStart).Seconds())

	// The row is written in its terminal state; the in-memory status walks
	// the remaining transitions as the stages actually run.
	call.Status = domain.CallStatusCompleted
	stageStart = time.Now()
	if err := p.calls.UpsertCall(ctx, call); err != nil {
		return nil, p.fail(log, call, StagePersist, fmt.Errorf("persisting call: %w", err))
	}
	metrics.StageDuration.WithLabelValues(string(StagePersist)).Observe(time.Since(stageStart).Seconds())
	call.Status = domain.CallStatusPersisted

	// Everything below is best-effort: the call row is the source of
	// truth and failures past this point must not surface to the queue.
	p.sideEffects(ctx, log, job, call, matched)

	call.Status = domain.CallStatusCompleted
	metrics.CallsProcessed.WithLabelValues("completed").Inc()
	log.WithField("durationMs", time.Since(start).Milliseconds()).Info("call analyzed")
	return call, nil
}

// transcribe runs the queued → transcribing transition: resolve the
// recording's durable URL and duration, then fetch the timed transcript.
func (p *Pipeline) transcribe(ctx context.Context, job domain.IngestJob, call *domain.Call) (ports.Transcription, error) {
	call.Status = domain.CallStatusTranscribing

	if job.ShouldSaveRecording() {
		stored, err := p.recordings.Store(ctx, job.CallID, job.RecordingURL)
		if err != nil {
			return ports.Transcription{}, fmt.Errorf("storing recording: %w", err)
		}
		call.RecordingURL = stored.URL
		call.DurationSeconds = stored.DurationSeconds
	} else {
		duration, err := p.recordings.Duration(ctx, job.RecordingURL)
		if err != nil {
			return ports.Transcription{}, fmt.Errorf("probing recording duration: %w", err)
		}
		call.DurationSeconds = duration
	}
	if call.DurationSeconds > 0 {
		call.EndedAt = call.StartedAt.Add(time.Duration(call.DurationSeconds * float64(time.Second)))
	}

	transcription, err := p.transcriber.Transcribe(ctx, call.RecordingURL, job.Language)
	if err != nil {
		return ports.Transcription{}, fmt.Errorf("transcribing: %w", err)
	}

	call.Segments = transcription.Segments
	call.Latencies = transcription.Latencies
	call.Interruptions = transcription.Interruptions
	return transcription, nil
}

// score runs the transcribing → scored transition: derive stats, pick the
// applicable criteria (scenario or rule mode), and grade. Returns the
// saved searches that structurally matched, for the alert stage.
func (p *Pipeline) score(
	ctx context.Context,
	job domain.IngestJob,
	call *domain.Call,
	transcription ports.Transcription,
) ([]domain.SavedSearch, error) {
	call.Stats = domain.ComputeCallStats(transcription.Latencies, transcription.Interruptions)

	req := analysis.GradeRequest{
		OwnerID:    job.OwnerID,
		Transcript: transcription.Segments,
		StartedAt:  call.StartedAt,
	}

	var outcome analysis.GradeOutcome
	var matched []domain.SavedSearch
	if job.Scenario != nil {
		var err error
		outcome, err = p.grader.GradeScenario(ctx, req, *job.Scenario)
		if err != nil {
			return nil, err
		}
	} else {
		match, err := p.matcher.Match(ctx, job.OwnerID, call.AgentID, job.Metadata, transcription.Segments)
		if err != nil {
			return nil, err
		}
		matched = match.Searches

		outcome, err = p.grader.GradeRules(ctx, req, match.Groups)
		if err != nil {
			return nil, err
		}
	}

	for i := range outcome.Results {
		outcome.Results[i].CallID = call.ID
	}
	call.EvaluationResults = outcome.Results
	call.GroupOutcomes = outcome.GroupOutcomes
	call.Result = overallResult(outcome.GroupOutcomes)
	call.Status = domain.CallStatusScored
	return matched, nil
}

// sideEffects runs the post-persistence best-effort work: billing accrual,
// alert evaluation (skipped in scenario mode), and the optional ingest
// callback. Billing and alerting are independent and run concurrently.
func (p *Pipeline) sideEffects(
	ctx context.Context,
	log *logrus.Entry,
	job domain.IngestJob,
	call *domain.Call,
	matched []domain.SavedSearch,
) {
	var group errgroup.Group

	if p.billing != nil {
		minutes := int(math.Ceil(call.DurationSeconds / 60))
		group.Go(func() error {
			runNonCritical(log, "billing accrual", func() error {
				return p.billing.AccrueMinutes(ctx, call.OwnerID, minutes)
			})
			return nil
		})
	}

	if p.alerts != nil && job.Scenario == nil {
		group.Go(func() error {
			runNonCritical(log, "alert evaluation", func() error {
				p.alerts.Evaluate(ctx, alerting.CallContext{Call: call, Searches: matched})
				return nil
			})
			return nil
		})
	}

	_ = group.Wait()

	if p.notifier != nil && job.WebhookURL != "" {
		runNonCritical(log, "ingest callback", func() error {
			return p.notifier.Post(ctx, job.WebhookURL, map[string]any{
				"success": true,
				"callId":  call.ID,
				"url":     fmt.Sprintf("%s/observe/calls/%s", p.cfg.DeepLinkBaseURL, call.ID),
			})
		})
	}

	call.Status = domain.CallStatusAlerted
}

func (p *Pipeline) fail(log *logrus.Entry, call *domain.Call, stage Stage, err error) error {
	call.Status = domain.CallStatusFailed
	metrics.CallsProcessed.WithLabelValues("failed").Inc()
	log.WithError(err).WithField("stage", string(stage)).Error("call analysis failed")
	return &StageError{Stage: stage, Err: err}
}

// overallResult collapses per-group outcomes into the call-level result:
// unset when no groups applied, failure when any group failed.
func overallResult(outcomes map[string]bool) domain.CallResult {
	if len(outcomes) == 0 {
		return domain.CallResultUnset
	}
	for _, ok := range outcomes {
		if !ok {
			return domain.CallResultFailure
		}
	}
	return domain.CallResultSuccess
}
