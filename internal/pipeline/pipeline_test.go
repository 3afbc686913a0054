package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixadev/callwatch/internal/alerting"
	"github.com/fixadev/callwatch/internal/analysis"
	"github.com/fixadev/callwatch/internal/domain"
	"github.com/fixadev/callwatch/internal/metrics"
	"github.com/fixadev/callwatch/internal/ports"
)

type fakeRecordings struct {
	stored      ports.StoredRecording
	duration    float64
	err         error
	storeCalls  int
	probeCalls  int
	lastCallID  string
	lastSource  string
}

func (f *fakeRecordings) Store(_ context.Context, callID, sourceURL string) (ports.StoredRecording, error) {
	f.storeCalls++
	f.lastCallID = callID
	f.lastSource = sourceURL
	return f.stored, f.err
}

func (f *fakeRecordings) Duration(_ context.Context, _ string) (float64, error) {
	f.probeCalls++
	return f.duration, f.err
}

type fakeTranscriber struct {
	transcription ports.Transcription
	err           error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _, _ string) (ports.Transcription, error) {
	return f.transcription, f.err
}

type fakeMatcher struct {
	outcome analysis.MatchOutcome
	err     error
	calls   int
}

func (f *fakeMatcher) Match(_ context.Context, _, _ string, _ map[string]string, _ []domain.TranscriptSegment) (analysis.MatchOutcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeGrader struct {
	outcome       analysis.GradeOutcome
	err           error
	rulesCalls    int
	scenarioCalls int
}

func (f *fakeGrader) GradeRules(_ context.Context, _ analysis.GradeRequest, _ []domain.EvaluationGroup) (analysis.GradeOutcome, error) {
	f.rulesCalls++
	return f.outcome, f.err
}

func (f *fakeGrader) GradeScenario(_ context.Context, _ analysis.GradeRequest, _ domain.Scenario) (analysis.GradeOutcome, error) {
	f.scenarioCalls++
	return f.outcome, f.err
}

type fakeCallStore struct {
	err       error
	upserted  []*domain.Call
	durations []float64
}

func (f *fakeCallStore) UpsertCall(_ context.Context, call *domain.Call) error {
	if f.err != nil {
		return f.err
	}
	saved := *call
	f.upserted = append(f.upserted, &saved)
	return nil
}

func (f *fakeCallStore) LatencyDurationsSince(_ context.Context, _ string, _ []string, _ time.Time) ([]float64, error) {
	return f.durations, nil
}

type fakeAgentStore struct {
	agent domain.Agent
	err   error
}

func (f *fakeAgentStore) UpsertAgent(_ context.Context, _, _ string) (domain.Agent, error) {
	return f.agent, f.err
}

type fakeBilling struct {
	err     error
	owners  []string
	minutes []int
}

func (f *fakeBilling) AccrueMinutes(_ context.Context, ownerID string, minutes int) error {
	f.owners = append(f.owners, ownerID)
	f.minutes = append(f.minutes, minutes)
	return f.err
}

type fakeNotifier struct {
	err      error
	urls     []string
	payloads []any
}

func (f *fakeNotifier) Post(_ context.Context, webhookURL string, payload any) error {
	f.urls = append(f.urls, webhookURL)
	f.payloads = append(f.payloads, payload)
	return f.err
}

type fakeAlertSink struct {
	contexts         []alerting.CallContext
	statusAtEvaluate domain.CallStatus
}

func (f *fakeAlertSink) Evaluate(_ context.Context, cc alerting.CallContext) {
	f.contexts = append(f.contexts, cc)
	f.statusAtEvaluate = cc.Call.Status
}

type pipelineFixture struct {
	recordings *fakeRecordings
	transcribe *fakeTranscriber
	matcher    *fakeMatcher
	grader     *fakeGrader
	calls      *fakeCallStore
	agents     *fakeAgentStore
	billing    *fakeBilling
	notifier   *fakeNotifier
	alerts     *fakeAlertSink
}

func newFixture() *pipelineFixture {
	return &pipelineFixture{
		recordings: &fakeRecordings{
			stored: ports.StoredRecording{URL: "https://store.example.com/call-1.wav", DurationSeconds: 125},
		},
		transcribe: &fakeTranscriber{
			transcription: ports.Transcription{
				Segments: []domain.TranscriptSegment{
					{ID: "seg-1", Role: domain.RoleCaller, Text: "hello", SecondsFromStart: 0, Duration: 1},
				},
				Latencies: []domain.LatencyInterval{
					{ID: "l1", SecondsFromStart: 1, Duration: 0.9},
				},
			},
		},
		matcher: &fakeMatcher{
			outcome: analysis.MatchOutcome{
				Searches: []domain.SavedSearch{{ID: "s1"}},
				Groups:   []domain.EvaluationGroup{{ID: "g1"}},
			},
		},
		grader: &fakeGrader{
			outcome: analysis.GradeOutcome{
				Results:       []domain.EvaluationResult{{ID: "r1", CriterionID: "c1", Success: true}},
				GroupOutcomes: map[string]bool{"g1": true},
			},
		},
		calls:    &fakeCallStore{},
		agents:   &fakeAgentStore{agent: domain.Agent{ID: "agent-internal", CustomerAgentID: "agent-1"}},
		billing:  &fakeBilling{},
		notifier: &fakeNotifier{},
		alerts:   &fakeAlertSink{},
	}
}

func (f *pipelineFixture) build(t *testing.T) *Pipeline {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	p, err := New(
		Config{DeepLinkBaseURL: "https://app.example.com"},
		f.recordings, f.transcribe, f.matcher, f.grader,
		f.calls, f.agents, f.billing, f.notifier, f.alerts, log,
	)
	require.NoError(t, err)
	return p
}

func testJob() domain.IngestJob {
	return domain.IngestJob{
		CallID:       "call-1",
		RecordingURL: "https://customer.example.com/rec.wav",
		OwnerID:      "owner-1",
		AgentID:      "agent-1",
		CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Metadata:     map[string]string{"region": "US"},
		WebhookURL:   "https://customer.example.com/hook",
	}
}

func TestPipelineRunHappyPath(t *testing.T) {
	f := newFixture()
	p := f.build(t)

	call, err := p.Run(context.Background(), testJob())
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusCompleted, call.Status)
	assert.Equal(t, "call-1", call.CustomerCallID)
	assert.Equal(t, "agent-internal", call.AgentID)
	assert.Equal(t, "https://store.example.com/call-1.wav", call.RecordingURL)
	assert.Equal(t, 125.0, call.DurationSeconds)
	assert.Equal(t, call.StartedAt.Add(125*time.Second), call.EndedAt)
	assert.Equal(t, domain.CallResultSuccess, call.Result)
	assert.Equal(t, 900, call.Stats.TimeToFirstWordMs)

	// The persisted snapshot is the completed call with its results.
	require.Len(t, f.calls.upserted, 1)
	persisted := f.calls.upserted[0]
	assert.Equal(t, domain.CallStatusCompleted, persisted.Status)
	require.Len(t, persisted.EvaluationResults, 1)
	assert.Equal(t, persisted.ID, persisted.EvaluationResults[0].CallID)

	// Billing rounds the duration up to whole minutes.
	require.Len(t, f.billing.minutes, 1)
	assert.Equal(t, 3, f.billing.minutes[0])
	assert.Equal(t, []string{"owner-1"}, f.billing.owners)

	// Alerts see the matched searches.
	require.Len(t, f.alerts.contexts, 1)
	require.Len(t, f.alerts.contexts[0].Searches, 1)
	assert.Equal(t, "s1", f.alerts.contexts[0].Searches[0].ID)

	// The ingest callback carries the deep link.
	require.Len(t, f.notifier.urls, 1)
	assert.Equal(t, "https://customer.example.com/hook", f.notifier.urls[0])
	payload, ok := f.notifier.payloads[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "https://app.example.com/observe/calls/"+call.ID, payload["url"])
}

func TestPipelineRunStatusTransitions(t *testing.T) {
	f := newFixture()
	p := f.build(t)

	call, err := p.Run(context.Background(), testJob())
	require.NoError(t, err)

	// The row snapshot is terminal, but the in-memory call walks the
	// later transitions: persisted while side effects run, completed once
	// they finish.
	require.Len(t, f.calls.upserted, 1)
	assert.Equal(t, domain.CallStatusCompleted, f.calls.upserted[0].Status)
	require.Len(t, f.alerts.contexts, 1)
	assert.Equal(t, domain.CallStatusPersisted, f.alerts.statusAtEvaluate)
	assert.Equal(t, domain.CallStatusCompleted, call.Status)
}

func TestPipelineRunObservesEachStageDuration(t *testing.T) {
	f := newFixture()
	p := f.build(t)

	_, err := p.Run(context.Background(), testJob())
	require.NoError(t, err)

	// One labeled series per critical stage; the alert stage is
	// best-effort and never observed.
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.StageDuration))
}

func TestPipelineRunRejectsInvalidJob(t *testing.T) {
	f := newFixture()
	p := f.build(t)

	job := testJob()
	job.RecordingURL = ""

	_, err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingField)
	assert.Zero(t, f.recordings.storeCalls, "no collaborator may run for an invalid job")
	assert.Empty(t, f.calls.upserted)
}

func TestPipelineRunSkipsStorageWhenOptedOut(t *testing.T) {
	f := newFixture()
	f.recordings.duration = 61
	p := f.build(t)

	job := testJob()
	save := false
	job.SaveRecording = &save

	call, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Zero(t, f.recordings.storeCalls)
	assert.Equal(t, 1, f.recordings.probeCalls)
	assert.Equal(t, job.RecordingURL, call.RecordingURL, "recording stays at the customer URL")
	assert.Equal(t, 61.0, call.DurationSeconds)
}

func TestPipelineRunTranscribeFailure(t *testing.T) {
	f := newFixture()
	f.transcribe.err = errors.New("transcription unavailable")
	p := f.build(t)

	_, err := p.Run(context.Background(), testJob())
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageTranscribe, stageErr.Stage)
	assert.Empty(t, f.calls.upserted, "failed calls must leave no row behind")
	assert.Empty(t, f.alerts.contexts)
	assert.Empty(t, f.billing.minutes)
}

func TestPipelineRunGradingFailure(t *testing.T) {
	f := newFixture()
	f.grader.err = domain.ErrNoModelResponse
	p := f.build(t)

	_, err := p.Run(context.Background(), testJob())
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageScore, stageErr.Stage)
	assert.ErrorIs(t, err, domain.ErrNoModelResponse)
	assert.Empty(t, f.calls.upserted)
}

func TestPipelineRunPersistFailure(t *testing.T) {
	f := newFixture()
	f.calls.err = errors.New("connection reset")
	p := f.build(t)

	_, err := p.Run(context.Background(), testJob())
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePersist, stageErr.Stage)
	assert.Empty(t, f.alerts.contexts, "side effects must not run for unpersisted calls")
}

func TestPipelineRunBestEffortFailuresDoNotPropagate(t *testing.T) {
	f := newFixture()
	f.billing.err = errors.New("billing down")
	f.notifier.err = errors.New("webhook down")
	p := f.build(t)

	call, err := p.Run(context.Background(), testJob())
	require.NoError(t, err, "billing and callback failures are best-effort")
	require.Len(t, f.calls.upserted, 1)
	assert.Equal(t, domain.CallStatusCompleted, call.Status)
}

func TestPipelineRunScenarioMode(t *testing.T) {
	f := newFixture()
	f.grader.outcome = analysis.GradeOutcome{
		Results:       []domain.EvaluationResult{{ID: "r1", CriterionID: "c1", Success: true}},
		GroupOutcomes: map[string]bool{},
	}
	p := f.build(t)

	job := testJob()
	job.Scenario = &domain.Scenario{
		Name:     "booking flow",
		Criteria: []domain.ScenarioCriterion{{Name: "greets", Prompt: "the agent greets the caller"}},
	}

	call, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Zero(t, f.matcher.calls, "scenario mode bypasses relevance matching")
	assert.Equal(t, 1, f.grader.scenarioCalls)
	assert.Zero(t, f.grader.rulesCalls)
	assert.Empty(t, f.alerts.contexts, "scenario calls never trigger alerts")
	assert.Equal(t, domain.CallResultUnset, call.Result)
	require.Len(t, f.billing.minutes, 1, "scenario calls still accrue usage")
}

func TestPipelineRunWithoutOptionalCollaborators(t *testing.T) {
	f := newFixture()
	log := logrus.New()
	log.SetOutput(io.Discard)

	p, err := New(
		Config{},
		f.recordings, f.transcribe, f.matcher, f.grader, f.calls,
		nil, nil, nil, nil, log,
	)
	require.NoError(t, err)

	call, err := p.Run(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, "agent-1", call.AgentID, "without an agent store the customer id is kept")
	require.Len(t, f.calls.upserted, 1)
}

func TestPipelineRunIdempotentRepeat(t *testing.T) {
	f := newFixture()
	p := f.build(t)

	first, err := p.Run(context.Background(), testJob())
	require.NoError(t, err)
	second, err := p.Run(context.Background(), testJob())
	require.NoError(t, err)

	require.Len(t, f.calls.upserted, 2)
	assert.Equal(t, first.CustomerCallID, second.CustomerCallID)
	assert.Equal(t, first.OwnerID, second.OwnerID)
}
