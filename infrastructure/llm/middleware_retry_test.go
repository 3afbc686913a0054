package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCore fails a configured number of times before succeeding.
type scriptedCore struct {
	mu        sync.Mutex
	failures  int
	calls     int
	response  string
	failError error
}

func (s *scriptedCore) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if ctx.Err() != nil {
		return "", 0, 0, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return "", 0, 0, s.failError
	}
	return s.response, 10, 5, nil
}

func (s *scriptedCore) GetModel() string { return "scripted" }

func (s *scriptedCore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRetryMiddlewareEventualSuccess(t *testing.T) {
	core := &scriptedCore{failures: 2, response: "ok", failError: errors.New("transient")}
	wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(core)

	response, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", response)
	assert.Equal(t, 3, core.callCount())
}

func TestRetryMiddlewareExhaustsBudget(t *testing.T) {
	cause := errors.New("provider down")
	core := &scriptedCore{failures: 10, failError: cause}
	wrapped := RetryMiddleware(2, time.Millisecond, 10*time.Millisecond)(core)

	_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, core.callCount(), "initial attempt plus two retries")
}

func TestRetryMiddlewareNoRetriesOnSuccess(t *testing.T) {
	core := &scriptedCore{response: "ok"}
	wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(core)

	response, tokensIn, tokensOut, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", response)
	assert.Equal(t, 10, tokensIn)
	assert.Equal(t, 5, tokensOut)
	assert.Equal(t, 1, core.callCount())
}

func TestRetryMiddlewareStopsOnCancelledContext(t *testing.T) {
	core := &scriptedCore{failures: 10, failError: errors.New("transient")}
	wrapped := RetryMiddleware(5, 50*time.Millisecond, time.Second)(core)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := wrapped.DoRequest(ctx, "prompt", nil)
	require.Error(t, err)
	assert.LessOrEqual(t, core.callCount(), 1, "cancellation must not burn the retry budget")
}

func TestCalculateDelayRespectsMax(t *testing.T) {
	r := &retryLLM{baseDelay: time.Second, maxDelay: 5 * time.Second}
	for attempt := 0; attempt < 10; attempt++ {
		delay := r.calculateDelay(attempt)
		assert.LessOrEqual(t, delay, 5*time.Second)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
	}
}
