package llm

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsLLM records request latency, status, and token usage so operators
// can watch the grading critical path.
type metricsLLM struct {
	next     CoreLLM
	latency  *prometheus.HistogramVec
	requests *prometheus.CounterVec
	tokens   *prometheus.CounterVec
}

var (
	llmLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Latency of LLM requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "status"},
	)
	llmRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM requests.",
		},
		[]string{"model", "status"},
	)
	llmTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total tokens consumed by LLM requests.",
		},
		[]string{"model", "direction"},
	)
)

// MetricsMiddleware creates middleware that records Prometheus metrics for
// every request passing through the chain.
func MetricsMiddleware() Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{
			next:     next,
			latency:  llmLatency,
			requests: llmRequests,
			tokens:   llmTokens,
		}
	}
}

// DoRequest executes the request while recording metrics.
func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.DoRequest(ctx, prompt, opts)

	model := m.next.GetModel()
	status := "success"
	switch {
	case err == nil:
	case ctx.Err() == context.DeadlineExceeded:
		status = "timeout"
	default:
		status = "error"
	}

	m.latency.WithLabelValues(model, status).Observe(time.Since(start).Seconds())
	m.requests.WithLabelValues(model, status).Inc()
	if err == nil {
		m.tokens.WithLabelValues(model, "input").Add(float64(tokensIn))
		m.tokens.WithLabelValues(model, "output").Add(float64(tokensOut))
	}

	return response, tokensIn, tokensOut, err
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }
