// Package llm provides the language-model client used for relevance
// filtering and transcript grading. It abstracts multiple providers
// (OpenAI, Anthropic) behind a common interface and layers cross-cutting
// concerns (retries, timeouts, rate limiting, metrics) through a
// middleware chain, so the analysis code never deals with provider
// specifics or transient-failure handling.
//
// Basic usage:
//
//	client, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o",
//	    Middleware: []llm.Middleware{
//	        llm.RetryMiddleware(3, time.Second, 30*time.Second),
//	        llm.TimeoutMiddleware(60 * time.Second),
//	    },
//	})
//	response, err := client.Complete(ctx, prompt, nil)
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fixadev/callwatch/internal/ports"
)

// CoreLLM is the minimal surface a provider must implement. Middleware
// wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt to the provider and returns the response
	// text along with input/output token counts (zero when the provider
	// does not report usage).
	DoRequest(ctx context.Context, prompt string, opts map[string]any) (response string, tokensIn, tokensOut int, err error)

	// GetModel returns the currently configured model name.
	GetModel() string
}

// Middleware wraps a CoreLLM to add cross-cutting behavior. Middleware are
// applied in order, so the first entry is the outermost layer.
type Middleware func(CoreLLM) CoreLLM

// ClientConfig holds the settings for constructing a provider client.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model selects the provider model. Empty uses the provider default.
	Model string

	// BaseURL overrides the provider's default endpoint when set.
	BaseURL string

	// Timeout bounds individual HTTP requests at the provider level.
	// Zero means no provider-level timeout.
	Timeout time.Duration

	// Middleware layers applied around the provider, outermost first.
	Middleware []Middleware
}

// ProviderFactory constructs a provider-specific CoreLLM.
type ProviderFactory func(config ClientConfig) (CoreLLM, error)

var (
	providersMu sync.RWMutex
	providers   = make(map[string]ProviderFactory)
)

// RegisterProviderFactory registers a provider under a name. Providers
// self-register from init, so importing the package is enough to make
// them available to NewClient.
func RegisterProviderFactory(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// SupportedProviders returns the registered provider names, sorted.
func SupportedProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ ports.LLMClient = (*Client)(nil)

// Client implements ports.LLMClient by delegating to a middleware-wrapped
// provider. It is safe for concurrent use.
type Client struct {
	core CoreLLM
}

// NewClient creates a client for the named provider with the given
// configuration and middleware chain.
func NewClient(provider string, config ClientConfig) (*Client, error) {
	providersMu.RLock()
	factory, ok := providers[provider]
	providersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider %q (supported: %v)", provider, SupportedProviders())
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", provider, err)
	}

	// Apply in reverse so the first configured middleware is outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	return &Client{core: core}, nil
}

// NewClientFromCore wraps an existing CoreLLM, mainly for tests.
func NewClientFromCore(core CoreLLM) *Client {
	return &Client{core: core}
}

// Complete sends a completion request through the middleware chain and
// returns the model's text response.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.core.DoRequest(ctx, prompt, options)
	if err != nil {
		return "", err
	}
	return response, nil
}

// GetModel returns the model identifier in use.
func (c *Client) GetModel() string { return c.core.GetModel() }
