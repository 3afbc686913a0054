// Package alerting re-checks tenant alert conditions after each call is
// analyzed and dispatches webhook notifications when they trip. Alert
// evaluation runs entirely after persistence: everything here is logged
// on failure and never propagated to the pipeline.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fixadev/callwatch/internal/domain"
	"github.com/fixadev/callwatch/internal/metrics"
	"github.com/fixadev/callwatch/internal/ports"
)

// CallContext carries one analyzed call and the saved searches whose
// structural filters matched it.
type CallContext struct {
	Call *domain.Call

	// Searches are the structural-filter survivors from relevance
	// matching; only their alerts are considered.
	Searches []domain.SavedSearch
}

// Evaluator walks the alerts attached to matching saved searches and
// fires the ones whose condition holds for the just-analyzed call.
type Evaluator struct {
	calls    ports.CallStore
	searches ports.SearchStore
	notifier ports.Notifier
	log      *logrus.Entry

	// deepLinkBase is the dashboard base URL for call links.
	deepLinkBase string

	// now is replaceable in tests.
	now func() time.Time
}

// NewEvaluator creates an alert evaluator.
func NewEvaluator(
	calls ports.CallStore,
	searches ports.SearchStore,
	notifier ports.Notifier,
	deepLinkBase string,
	log *logrus.Logger,
) (*Evaluator, error) {
	switch {
	case calls == nil:
		return nil, fmt.Errorf("alert evaluator: call store cannot be nil")
	case searches == nil:
		return nil, fmt.Errorf("alert evaluator: search store cannot be nil")
	case notifier == nil:
		return nil, fmt.Errorf("alert evaluator: notifier cannot be nil")
	case log == nil:
		return nil, fmt.Errorf("alert evaluator: logger cannot be nil")
	}

	return &Evaluator{
		calls:        calls,
		searches:     searches,
		notifier:     notifier,
		deepLinkBase: deepLinkBase,
		log:          log.WithField("component", "alerting"),
		now:          time.Now,
	}, nil
}

// Evaluate checks every enabled alert on the matching saved searches.
// Failures for one alert never block the others.
func (e *Evaluator) Evaluate(ctx context.Context, cc CallContext) {
	if cc.Call == nil {
		return
	}
	for _, search := range cc.Searches {
		for _, alert := range search.Alerts {
			if !alert.Enabled {
				continue
			}
			switch alert.Type {
			case domain.AlertTypeLatency:
				e.evaluateLatency(ctx, cc.Call, search, alert)
			case domain.AlertTypeEvalSet:
				e.evaluateEvalSet(ctx, cc.Call, alert)
			default:
				e.log.WithField("alertId", alert.ID).Warnf("unknown alert type %q", alert.Type)
			}
		}
	}
}

// evaluateLatency recomputes the configured percentile over the lookback
// window (the just-persisted call included) and fires when it meets the
// threshold, unless the alert is cooling down.
func (e *Evaluator) evaluateLatency(ctx context.Context, call *domain.Call, search domain.SavedSearch, alert domain.Alert) {
	log := e.log.WithField("alertId", alert.ID)
	details := alert.Latency
	if details == nil {
		log.Warn("latency alert has no latency details, skipping")
		return
	}

	now := e.now()
	since := now.Add(-details.Lookback)
	durations, err := e.calls.LatencyDurationsSince(ctx, call.OwnerID, search.AgentIDs, since)
	if err != nil {
		log.WithError(err).Error("failed to load lookback latency durations")
		return
	}

	percentiles := domain.CalculatePercentiles(durations)
	valueMs := percentiles.Value(details.Percentile) * 1000
	if valueMs < details.ThresholdMs {
		return
	}
	if alert.InCooldown(now) {
		log.Debug("latency alert breached but cooling down")
		return
	}

	if err := e.searches.MarkAlertFired(ctx, alert.ID, now); err != nil {
		log.WithError(err).Error("failed to record alert firing")
	}
	metrics.AlertsFired.WithLabelValues(string(domain.AlertTypeLatency)).Inc()

	summary := fmt.Sprintf(
		"Alert %q fired: %s latency is %.0fms (threshold %.0fms) over the last %s.\n%s",
		alert.Name, details.Percentile, valueMs, details.ThresholdMs,
		details.Lookback, e.callLink(call),
	)
	e.dispatch(ctx, alert, summary)
}

// evaluateEvalSet fires when the call's outcome for the target group
// equals the alert's trigger.
func (e *Evaluator) evaluateEvalSet(ctx context.Context, call *domain.Call, alert domain.Alert) {
	log := e.log.WithField("alertId", alert.ID)
	details := alert.EvalSet
	if details == nil {
		log.Warn("eval-set alert has no eval-set details, skipping")
		return
	}

	outcome, evaluated := call.GroupOutcomes[details.GroupID]
	if !evaluated || outcome != details.TriggerOnSuccess {
		return
	}

	if err := e.searches.MarkAlertFired(ctx, alert.ID, e.now()); err != nil {
		log.WithError(err).Error("failed to record alert firing")
	}
	metrics.AlertsFired.WithLabelValues(string(domain.AlertTypeEvalSet)).Inc()

	outcomeWord := "failed"
	if outcome {
		outcomeWord = "succeeded"
	}
	summary := fmt.Sprintf(
		"Alert %q fired: eval set %s %s for call %s.\n%s",
		alert.Name, details.GroupID, outcomeWord, call.CustomerCallID, e.callLink(call),
	)
	e.dispatch(ctx, alert, summary)
}

// dispatch posts the notification. Failures are logged, never propagated.
func (e *Evaluator) dispatch(ctx context.Context, alert domain.Alert, summary string) {
	if alert.WebhookURL == "" {
		return
	}
	payload := map[string]string{"text": summary}
	if err := e.notifier.Post(ctx, alert.WebhookURL, payload); err != nil {
		e.log.WithError(err).WithField("alertId", alert.ID).Error("failed to dispatch alert notification")
	}
}

func (e *Evaluator) callLink(call *domain.Call) string {
	return fmt.Sprintf("%s/observe/calls/%s", e.deepLinkBase, call.ID)
}
