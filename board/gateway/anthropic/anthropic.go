// Package anthropic adapts Anthropic's Claude API to the gateway.Provider
// interface.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/panelkit/boardroom/board/gateway"
)

const defaultMaxTokens = 4096

// Provider implements gateway.Provider over the official anthropic-sdk-go
// client. Safe for concurrent use.
type Provider struct {
	client *anthropic.Client
}

// New creates a Claude-backed provider. The API key comes from the
// environment (ANTHROPIC_API_KEY) when empty.
func New(apiKey string) *Provider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Provider{client: &client}
}

// Name implements gateway.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Complete implements gateway.Provider.
func (p *Provider) Complete(ctx context.Context, model string, req gateway.Request) (gateway.Response, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Response{}, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return gateway.Response{}, translateError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return gateway.Response{
		Text: text.String(),
		Usage: gateway.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

// translateError maps SDK failures onto *gateway.CallError with a
// retryability classification. Rate limits (429), overload (529) and
// 5xx-class failures are transient; auth and quota failures are not.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate_limit"):
		return &gateway.CallError{Provider: "anthropic", Code: "rate_limited", Retryable: true, Err: err}
	case strings.Contains(msg, "overloaded"), strings.Contains(msg, "529"),
		strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return &gateway.CallError{Provider: "anthropic", Code: "unavailable", Retryable: true, Err: err}
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "authentication"), strings.Contains(msg, "api_key"):
		return &gateway.CallError{Provider: "anthropic", Code: "invalid_api_key", Retryable: false, Err: err}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return &gateway.CallError{Provider: "anthropic", Code: "timeout", Retryable: true, Err: err}
	default:
		return &gateway.CallError{Provider: "anthropic", Code: "api_error", Retryable: false, Err: err}
	}
}
