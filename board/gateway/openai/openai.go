// Package openai adapts OpenAI's chat completion API to the
// gateway.Provider interface.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/panelkit/boardroom/board/gateway"
)

// Provider implements gateway.Provider over the official openai-go client.
// Safe for concurrent use.
type Provider struct {
	client *openai.Client
}

// New creates a GPT-backed provider. The API key comes from the environment
// (OPENAI_API_KEY) when empty.
func New(apiKey string) *Provider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(opts...)
	return &Provider{client: &client}
}

// Name implements gateway.Provider.
func (p *Provider) Name() string { return "openai" }

// Complete implements gateway.Provider.
func (p *Provider) Complete(ctx context.Context, model string, req gateway.Request) (gateway.Response, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Response{}, err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(req.System),
				},
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(req.Prompt),
			},
		},
	})

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return gateway.Response{}, translateError(err)
	}
	if len(completion.Choices) == 0 {
		return gateway.Response{}, &gateway.CallError{
			Provider: "openai", Code: "empty_response", Err: errors.New("no choices returned"),
		}
	}

	return gateway.Response{
		Text: completion.Choices[0].Message.Content,
		Usage: gateway.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

// translateError maps SDK failures onto *gateway.CallError.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"):
		return &gateway.CallError{Provider: "openai", Code: "rate_limited", Retryable: true, Err: err}
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return &gateway.CallError{Provider: "openai", Code: "unavailable", Retryable: true, Err: err}
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "invalid api key"), strings.Contains(msg, "incorrect api key"):
		return &gateway.CallError{Provider: "openai", Code: "invalid_api_key", Retryable: false, Err: err}
	case strings.Contains(msg, "insufficient_quota"), strings.Contains(msg, "quota"):
		return &gateway.CallError{Provider: "openai", Code: "quota_exceeded", Retryable: false, Err: err}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return &gateway.CallError{Provider: "openai", Code: "timeout", Retryable: true, Err: err}
	default:
		return &gateway.CallError{Provider: "openai", Code: "api_error", Retryable: false, Err: err}
	}
}
