package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicDefaultModel is used when no model is configured.
const AnthropicDefaultModel = "claude-3-5-sonnet-20241022"

// anthropicDefaultMaxTokens bounds responses when the caller sets no limit;
// the Anthropic API requires an explicit value.
const anthropicDefaultMaxTokens = 4096

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider implements CoreLLM for Anthropic's Messages API.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	return &anthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// DoRequest sends a Messages request and returns the concatenated text
// blocks with the reported token usage.
func (p *anthropicProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(extractString(opts, "model", p.model)),
		MaxTokens: int64(extractInt(opts, "max_tokens", anthropicDefaultMaxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if temp, ok := extractFloat(opts, "temperature"); ok {
		params.Temperature = anthropic.Float(temp)
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", 0, 0, err
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", 0, 0, ErrNoResponseChoice
	}

	return sb.String(), int(message.Usage.InputTokens), int(message.Usage.OutputTokens), nil
}

// GetModel returns the configured model name.
func (p *anthropicProvider) GetModel() string { return p.model }
